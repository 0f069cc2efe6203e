package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/studyroom/studyroom/internal/domain"
	"github.com/studyroom/studyroom/internal/identity"
	"github.com/studyroom/studyroom/internal/protocol"
	"github.com/studyroom/studyroom/internal/records"
)

var ErrEmptyChat = errors.New("chat content empty")

// RecordService is the slice of the record API the controller invokes
// after a completed focus cycle. *records.Client satisfies it.
type RecordService interface {
	CreatePomodoro(ctx context.Context, roomID domain.RoomID, req records.CreatePomodoroRequest) (records.Pomodoro, error)
	GetCoins(ctx context.Context, roomID domain.RoomID) (records.Coins, error)
	ListPomodoros(ctx context.Context, roomID domain.RoomID) ([]records.Pomodoro, error)
}

// Options carries the optional collaborators of a Controller.
type Options struct {
	Records    RecordService
	ChatLogCap int
}

// Controller is the per-room orchestrator: it wires the identity store,
// the session channel, the roster and the chat log together, translates
// user actions into outbound intents and inbound events into state.
//
// One Controller per mounted room view. Reconnection is a caller-owned
// lifecycle event (Reconnect), not a hidden retry loop.
type Controller struct {
	roomID domain.RoomID
	ids    *identity.Store
	ch     SessionChannel
	rec    RecordService

	roster *Roster
	chat   *ChatLog

	mu          sync.Mutex
	joined      bool
	joinedEpoch uint64
	coins       records.Coins
	history     []records.Pomodoro

	notices chan string

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func NewController(roomID domain.RoomID, ids *identity.Store, ch SessionChannel, opts Options) *Controller {
	return &Controller{
		roomID:  roomID,
		ids:     ids,
		ch:      ch,
		rec:     opts.Records,
		roster:  NewRoster(),
		chat:    NewChatLog(opts.ChatLogCap),
		notices: make(chan string, 8),
		done:    make(chan struct{}),
	}
}

// Start resolves the identity, opens the channel and, once connected,
// sends the join intent before anything else. The event loop runs until
// Stop or ctx cancellation tears the session down.
func (c *Controller) Start(ctx context.Context) {
	if !c.ids.Current().Valid() {
		c.ids.Load()
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.ch.Open(c.ctx)
	if c.ch.State() == StateConnected {
		c.sendJoin()
	}
	go c.loop()
}

// Reconnect replays the mount sequence on an existing session: open a
// fresh connection (new epoch) and resend join. No-op while connected.
func (c *Controller) Reconnect() {
	select {
	case <-c.done:
		return
	default:
	}
	if c.ch.State() != StateDisconnected {
		return
	}
	c.ch.Open(c.ctx)
	if c.ch.State() == StateConnected {
		c.sendJoin()
	}
}

// Stop tears the session down: best-effort leave, channel closed, event
// processing stopped. Events still in flight are dropped; no state owned
// by this session mutates afterwards.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.ch.Close()
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Controller) loop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case w := <-c.ch.Warnings():
			c.notify(w)
		case ev := <-c.ch.Events():
			if ev.Epoch != c.ch.Epoch() {
				// Stale connection; the roster it knew about is gone.
				continue
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) handleEvent(ev Event) {
	switch ev.Envelope.Type {
	case protocol.TypeJoined:
		var p protocol.JoinedPayload
		if !c.decode(ev.Envelope.Payload, &p) {
			return
		}
		c.ids.AdoptServerID(p.User.ID)
		c.mu.Lock()
		c.joined = true
		c.joinedEpoch = ev.Epoch
		c.mu.Unlock()

	case protocol.TypeRoomMembersUpdate:
		var p protocol.RoomMembersUpdatePayload
		if !c.decode(ev.Envelope.Payload, &p) {
			return
		}
		c.roster.ApplySnapshot(p.Members)

	case protocol.TypeChatMessage:
		var p protocol.ChatMessagePayload
		if !c.decode(ev.Envelope.Payload, &p) {
			return
		}
		c.chat.Append(domain.ChatMessage{
			ID:      p.ID,
			User:    p.User,
			Content: p.Content,
			TS:      p.TS,
		})

	case protocol.TypeTimerStatus:
		var p protocol.TimerStatusEventPayload
		if !c.decode(ev.Envelope.Payload, &p) {
			return
		}
		c.roster.ApplyStatusDelta(p.UserID, domain.NormalizeStatus(string(p.Status)))

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if c.decode(ev.Envelope.Payload, &p) {
			c.notify("server: " + p.Message)
		}
	}
}

func (c *Controller) decode(raw json.RawMessage, out any) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Str("module", "client.controller").Msg("dropping malformed payload")
		return false
	}
	return true
}

func (c *Controller) sendJoin() {
	c.mu.Lock()
	c.joined = false
	c.mu.Unlock()
	c.ch.Send(protocol.TypeJoin, protocol.JoinPayload{
		RoomID: c.roomID,
		User:   c.ids.Current(),
	})
}

// SetName commits a nickname edit: persists it through the identity store
// and re-sends join so peers observe the new name without a reconnect.
func (c *Controller) SetName(name string) error {
	if _, err := c.ids.Update(identity.Partial{Name: &name}); err != nil {
		return err
	}
	if c.ch.State() == StateConnected {
		c.sendJoin()
	}
	return nil
}

// SendChat trims and rejects empty content locally; non-empty content goes
// out as a chat intent. The message is not locally echoed: it appears in
// the log only when the server reflects it back, so all participants see
// one consistent ordering.
func (c *Controller) SendChat(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyChat
	}
	c.ch.Send(protocol.TypeChat, protocol.ChatPayload{
		RoomID:  c.roomID,
		Content: content,
	})
	return nil
}

// SetTimerStatus broadcasts a local timer transition.
func (c *Controller) SetTimerStatus(status domain.Status) {
	c.ch.Send(protocol.TypeTimerStatus, protocol.TimerStatusPayload{
		Status: domain.NormalizeStatus(string(status)),
	})
}

// CompleteFocus handles a finished focus cycle: the status broadcast goes
// out immediately, and the record persistence runs independently of it.
// A persistence failure surfaces as a notice; realtime state is unaffected.
func (c *Controller) CompleteFocus(durationMinutes int) {
	c.SetTimerStatus(domain.StatusIdle)
	if c.rec == nil {
		return
	}
	go func() {
		p, err := c.rec.CreatePomodoro(c.ctx, c.roomID, records.CreatePomodoroRequest{
			DurationMinutes: durationMinutes,
			Result:          records.ResultSuccess,
		})
		if err != nil {
			c.notify("failed to save pomodoro record: " + err.Error())
			return
		}
		c.notify(fmt.Sprintf("focus complete, +%d coins", p.AwardedCoins))
		c.refreshAggregates()
	}()
}

func (c *Controller) refreshAggregates() {
	coins, err := c.rec.GetCoins(c.ctx, c.roomID)
	if err == nil {
		c.mu.Lock()
		c.coins = coins
		c.mu.Unlock()
	}
	history, err := c.rec.ListPomodoros(c.ctx, c.roomID)
	if err == nil {
		c.mu.Lock()
		c.history = history
		c.mu.Unlock()
	}
}

// ---- Read side ----

func (c *Controller) State() ConnState { return c.ch.State() }

// Joined reports whether the server acknowledged the join on the live
// connection. "Connected, awaiting server" is State()==connected with
// Joined()==false.
func (c *Controller) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined && c.joinedEpoch == c.ch.Epoch() && c.ch.State() == StateConnected
}

func (c *Controller) Identity() domain.Identity { return c.ids.Current() }
func (c *Controller) Roster() []domain.Member { return c.roster.Snapshot() }
func (c *Controller) Messages() []domain.ChatMessage { return c.chat.Messages() }

func (c *Controller) Coins() records.Coins {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coins
}

func (c *Controller) History() []records.Pomodoro {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]records.Pomodoro, len(c.history))
	copy(out, c.history)
	return out
}

// Notices carries soft user-visible messages: send warnings, server error
// envelopes, record-service failures.
func (c *Controller) Notices() <-chan string { return c.notices }

func (c *Controller) notify(msg string) {
	select {
	case c.notices <- msg:
	default:
	}
}
