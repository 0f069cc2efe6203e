// Package protocol defines the room realtime wire protocol.
//
// It is shared between the client core and the server so the frame format
// stays authoritative in one place. One JSON object per text frame:
//
//	{ "type": "<kind>", "payload": { ... } }
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/studyroom/studyroom/internal/domain"
)

// Outbound intent kinds (client -> server).
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeChat        = "chat"
	TypeTimerStatus = "timerStatus"
)

// Inbound event kinds (server -> client). TypeTimerStatus is shared: the
// server echoes a point delta under the same kind.
const (
	TypeJoined            = "joined"
	TypeRoomMembersUpdate = "roomMembersUpdate"
	TypeChatMessage       = "chatMessage"
	TypeError             = "error"
)

var ErrUnknownType = errors.New("unknown message type")

// Envelope is the canonical wire wrapper.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ---- Intent payloads (client -> server) ----

type JoinPayload struct {
	RoomID domain.RoomID   `json:"roomId"`
	User   domain.Identity `json:"user"`
}

type LeavePayload struct{}

type ChatPayload struct {
	RoomID  domain.RoomID `json:"roomId"`
	Content string        `json:"content"`
}

type TimerStatusPayload struct {
	Status domain.Status `json:"status"`
}

// ---- Event payloads (server -> client) ----

// JoinedPayload carries the server's authoritative echo of the caller's
// identity. The id may differ from the one sent in the join request.
type JoinedPayload struct {
	RoomID domain.RoomID   `json:"roomId"`
	User   domain.Identity `json:"user"`
}

type RoomMembersUpdatePayload struct {
	RoomID  domain.RoomID   `json:"roomId,omitempty"`
	Members []domain.Member `json:"members"`
	Count   int             `json:"count,omitempty"`
}

type ChatMessagePayload struct {
	ID      string          `json:"id,omitempty"`
	RoomID  domain.RoomID   `json:"roomId,omitempty"`
	User    domain.Identity `json:"user"`
	Content string          `json:"content"`
	TS      int64           `json:"ts"`
}

// TimerStatusEventPayload is the server-side point delta for one member.
type TimerStatusEventPayload struct {
	RoomID domain.RoomID `json:"roomId,omitempty"`
	UserID domain.UserID `json:"userId"`
	Status domain.Status `json:"status"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals a typed payload into a wire envelope frame.
func Encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}

// Decode parses a raw frame into an envelope, rejecting frames without a
// recognized type. The payload stays raw for the caller to unmarshal.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	switch env.Type {
	case TypeJoin, TypeLeave, TypeChat, TypeTimerStatus,
		TypeJoined, TypeRoomMembersUpdate, TypeChatMessage, TypeError:
		return env, nil
	case "":
		return Envelope{}, fmt.Errorf("%w: missing type", ErrUnknownType)
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
