// Package records is the HTTP client for the record service: the
// request/response collaborator the realtime core calls into after
// locally-meaningful events (completed focus cycles, note actions).
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/studyroom/studyroom/internal/domain"
)

const (
	ResultSuccess = "SUCCESS"
	ResultAborted = "ABORTED"
)

type CreatePomodoroRequest struct {
	DurationMinutes int    `json:"durationMinutes"`
	Result          string `json:"result"`
}

type Pomodoro struct {
	ID              int64         `json:"id"`
	RoomID          domain.RoomID `json:"roomId"`
	DurationMinutes int           `json:"durationMinutes"`
	Result          string        `json:"result"`
	AwardedCoins    int           `json:"awardedCoins"`
	CreatedAt       string        `json:"createdAt"`
}

type Coins struct {
	RoomID     domain.RoomID `json:"roomId"`
	TotalCoins int           `json:"totalCoins"`
}

type CreateRoomRequest struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

type Note struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// APIError carries the HTTP status and the server-side message for any
// non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("record service: %d %s", e.Status, e.Message)
}

type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var out []domain.Room
	err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out)
	return out, err
}

func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (domain.Room, error) {
	var out domain.Room
	err := c.do(ctx, http.MethodPost, "/api/rooms", req, &out)
	return out, err
}

func (c *Client) GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	var out domain.Room
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/rooms/%d", id), nil, &out)
	return out, err
}

func (c *Client) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/rooms/%d", id), nil, nil)
}

func (c *Client) CreatePomodoro(ctx context.Context, roomID domain.RoomID, req CreatePomodoroRequest) (Pomodoro, error) {
	var out Pomodoro
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/rooms/%d/pomodoros", roomID), req, &out)
	return out, err
}

// ListPomodoros returns the most recent records, newest first.
func (c *Client) ListPomodoros(ctx context.Context, roomID domain.RoomID) ([]Pomodoro, error) {
	var out []Pomodoro
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/rooms/%d/pomodoros", roomID), nil, &out)
	return out, err
}

func (c *Client) GetCoins(ctx context.Context, roomID domain.RoomID) (Coins, error) {
	var out Coins
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/rooms/%d/coins", roomID), nil, &out)
	return out, err
}

func (c *Client) ListNotes(ctx context.Context) ([]Note, error) {
	var out []Note
	err := c.do(ctx, http.MethodGet, "/api/notes", nil, &out)
	return out, err
}

func (c *Client) CreateNote(ctx context.Context, n Note) (Note, error) {
	var out Note
	err := c.do(ctx, http.MethodPost, "/api/notes", n, &out)
	return out, err
}

func (c *Client) UpdateNote(ctx context.Context, n Note) (Note, error) {
	var out Note
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/notes/%d", n.ID), n, &out)
	return out, err
}

func (c *Client) DeleteNote(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/notes/%d", id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			apiErr.Message = e.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
