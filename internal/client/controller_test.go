package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/studyroom/studyroom/internal/domain"
	"github.com/studyroom/studyroom/internal/identity"
	"github.com/studyroom/studyroom/internal/protocol"
	"github.com/studyroom/studyroom/internal/records"
)

// ---- fakes ----

type memKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemKV() *memKV { return &memKV{m: make(map[string][]byte)} }

func (kv *memKV) Get(key string) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *memKV) Set(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = append([]byte(nil), value...)
	return nil
}

type sentFrame struct {
	kind    string
	payload any
}

type fakeChannel struct {
	mu       sync.Mutex
	state    ConnState
	epoch    uint64
	events   chan Event
	warnings chan string
	sent     []sentFrame
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		state:    StateDisconnected,
		events:   make(chan Event, 64),
		warnings: make(chan string, 8),
	}
}

func (f *fakeChannel) Open(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateDisconnected {
		return
	}
	f.state = StateConnected
	f.epoch++
}

func (f *fakeChannel) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Epoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *fakeChannel) Events() <-chan Event    { return f.events }
func (f *fakeChannel) Warnings() <-chan string { return f.warnings }

func (f *fakeChannel) Send(kind string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConnected {
		return false
	}
	f.sent = append(f.sent, sentFrame{kind: kind, payload: payload})
	return true
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateDisconnected
}

func (f *fakeChannel) dropLink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateDisconnected
}

func (f *fakeChannel) sentFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

// push delivers an inbound event tagged with the live epoch.
func (f *fakeChannel) push(t *testing.T, kind string, payload any) {
	t.Helper()
	f.pushEpoch(t, f.Epoch(), kind, payload)
}

func (f *fakeChannel) pushEpoch(t *testing.T, epoch uint64, kind string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.events <- Event{Epoch: epoch, Envelope: protocol.Envelope{Type: kind, Payload: raw}}
}

type fakeRecords struct {
	mu      sync.Mutex
	created int
	fail    bool
}

func (f *fakeRecords) CreatePomodoro(ctx context.Context, roomID domain.RoomID, req records.CreatePomodoroRequest) (records.Pomodoro, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return records.Pomodoro{}, errors.New("persistence down")
	}
	f.created++
	return records.Pomodoro{ID: int64(f.created), RoomID: roomID, DurationMinutes: req.DurationMinutes, Result: req.Result, AwardedCoins: 5}, nil
}

func (f *fakeRecords) GetCoins(ctx context.Context, roomID domain.RoomID) (records.Coins, error) {
	return records.Coins{RoomID: roomID, TotalCoins: 5}, nil
}

func (f *fakeRecords) ListPomodoros(ctx context.Context, roomID domain.RoomID) ([]records.Pomodoro, error) {
	return []records.Pomodoro{}, nil
}

func (f *fakeRecords) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// ---- helpers ----

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func seedIdentity(t *testing.T, kv *memKV, id, name string) *identity.Store {
	t.Helper()
	raw, err := json.Marshal(domain.Identity{ID: domain.UserID(id), Name: name})
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(identity.StorageKey, raw); err != nil {
		t.Fatal(err)
	}
	s := identity.NewStore(kv)
	s.Load()
	return s
}

func startController(t *testing.T, rec RecordService) (*Controller, *fakeChannel, *identity.Store) {
	t.Helper()
	kv := newMemKV()
	ids := seedIdentity(t, kv, "u1", "Alice")
	fc := newFakeChannel()
	ctl := NewController(42, ids, fc, Options{Records: rec})
	ctl.Start(context.Background())
	t.Cleanup(ctl.Stop)
	return ctl, fc, ids
}

// ---- tests ----

func TestStartSendsJoinBeforeAnythingElse(t *testing.T) {
	ctl, fc, _ := startController(t, nil)

	ctl.SetTimerStatus(domain.StatusFocusing)

	sent := fc.sentFrames()
	if len(sent) < 2 {
		t.Fatalf("sent=%d frames, want join then timerStatus", len(sent))
	}
	if sent[0].kind != protocol.TypeJoin {
		t.Fatalf("first intent=%q want join", sent[0].kind)
	}
	join := sent[0].payload.(protocol.JoinPayload)
	if join.RoomID != 42 || join.User.ID != "u1" {
		t.Fatalf("join payload mismatch: %+v", join)
	}
}

func TestJoinedAdoptsServerIDKeepsName(t *testing.T) {
	ctl, fc, ids := startController(t, nil)

	if ctl.Joined() {
		t.Fatal("joined before ack")
	}

	fc.push(t, protocol.TypeJoined, protocol.JoinedPayload{
		RoomID: 42,
		User:   domain.Identity{ID: "srv-1", Name: "Alice"},
	})

	waitFor(t, func() bool { return ctl.Joined() })
	cur := ids.Current()
	if cur.ID != "srv-1" {
		t.Fatalf("id=%q want srv-1", cur.ID)
	}
	if cur.Name != "Alice" {
		t.Fatalf("name=%q, server ack must not rename", cur.Name)
	}
}

func TestRosterSnapshotAndDelta(t *testing.T) {
	ctl, fc, _ := startController(t, nil)

	fc.push(t, protocol.TypeRoomMembersUpdate, protocol.RoomMembersUpdatePayload{
		Members: []domain.Member{{ID: "srv-1", Name: "Alice", Status: domain.StatusIdle}},
	})
	waitFor(t, func() bool { return len(ctl.Roster()) == 1 })

	fc.push(t, protocol.TypeTimerStatus, protocol.TimerStatusEventPayload{UserID: "srv-1", Status: domain.StatusFocusing})
	waitFor(t, func() bool {
		r := ctl.Roster()
		return len(r) == 1 && r[0].Status == domain.StatusFocusing
	})

	// Delta for an absent member is dropped.
	fc.push(t, protocol.TypeTimerStatus, protocol.TimerStatusEventPayload{UserID: "srv-2", Status: domain.StatusFocusing})
	time.Sleep(30 * time.Millisecond)
	r := ctl.Roster()
	if len(r) != 1 || r[0].ID != "srv-1" {
		t.Fatalf("roster changed by unknown-member delta: %+v", r)
	}
}

func TestChatIsNotLocallyEchoed(t *testing.T) {
	ctl, fc, _ := startController(t, nil)

	if err := ctl.SendChat("  hello  "); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := len(ctl.Messages()); n != 0 {
		t.Fatalf("message locally echoed: log len=%d", n)
	}

	sent := fc.sentFrames()
	last := sent[len(sent)-1]
	if last.kind != protocol.TypeChat {
		t.Fatalf("last intent=%q want chat", last.kind)
	}
	if p := last.payload.(protocol.ChatPayload); p.Content != "hello" {
		t.Fatalf("content=%q want trimmed %q", p.Content, "hello")
	}

	// The message appears only when the server reflects it back.
	fc.push(t, protocol.TypeChatMessage, protocol.ChatMessagePayload{
		User: domain.Identity{ID: "u1", Name: "Alice"}, Content: "hello", TS: 1,
	})
	waitFor(t, func() bool { return len(ctl.Messages()) == 1 })
}

func TestEmptyChatRejectedLocally(t *testing.T) {
	ctl, fc, _ := startController(t, nil)
	before := len(fc.sentFrames())

	for _, in := range []string{"", "   ", "\t\n"} {
		if err := ctl.SendChat(in); !errors.Is(err, ErrEmptyChat) {
			t.Fatalf("SendChat(%q): err=%v want ErrEmptyChat", in, err)
		}
	}
	if len(fc.sentFrames()) != before {
		t.Fatal("empty chat reached the network")
	}
}

func TestSetNameResendsJoin(t *testing.T) {
	ctl, fc, ids := startController(t, nil)

	if err := ctl.SetName("Alice B"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if ids.Current().Name != "Alice B" {
		t.Fatalf("name not persisted: %q", ids.Current().Name)
	}

	sent := fc.sentFrames()
	last := sent[len(sent)-1]
	if last.kind != protocol.TypeJoin {
		t.Fatalf("last intent=%q, nickname commit must re-join", last.kind)
	}
	if p := last.payload.(protocol.JoinPayload); p.User.Name != "Alice B" {
		t.Fatalf("re-join carries stale name %q", p.User.Name)
	}
}

func TestReconnectResendsJoin(t *testing.T) {
	ctl, fc, _ := startController(t, nil)

	fc.dropLink()
	ctl.Reconnect()

	sent := fc.sentFrames()
	joins := 0
	for _, s := range sent {
		if s.kind == protocol.TypeJoin {
			joins++
		}
	}
	if joins != 2 {
		t.Fatalf("joins=%d want 2 (one per connected transition)", joins)
	}
	if fc.Epoch() != 2 {
		t.Fatalf("epoch=%d want 2", fc.Epoch())
	}
}

func TestStaleEpochEventsDropped(t *testing.T) {
	ctl, fc, _ := startController(t, nil)

	fc.push(t, protocol.TypeRoomMembersUpdate, protocol.RoomMembersUpdatePayload{
		Members: []domain.Member{{ID: "srv-1", Name: "Alice", Status: domain.StatusIdle}},
	})
	waitFor(t, func() bool { return len(ctl.Roster()) == 1 })

	fc.dropLink()
	ctl.Reconnect() // epoch 2

	// A buffered delta from the dead connection arrives late.
	fc.pushEpoch(t, 1, protocol.TypeTimerStatus, protocol.TimerStatusEventPayload{UserID: "srv-1", Status: domain.StatusFocusing})
	time.Sleep(30 * time.Millisecond)

	if r := ctl.Roster(); r[0].Status != domain.StatusIdle {
		t.Fatalf("stale-epoch delta mutated roster: %+v", r)
	}
}

func TestStopSilencesInFlightEvents(t *testing.T) {
	ctl, fc, _ := startController(t, nil)

	fc.push(t, protocol.TypeRoomMembersUpdate, protocol.RoomMembersUpdatePayload{
		Members: []domain.Member{{ID: "srv-1", Name: "Alice", Status: domain.StatusIdle}},
	})
	waitFor(t, func() bool { return len(ctl.Roster()) == 1 })

	ctl.Stop()

	fc.events <- Event{Epoch: fc.Epoch(), Envelope: protocol.Envelope{
		Type:    protocol.TypeRoomMembersUpdate,
		Payload: json.RawMessage(`{"members":[]}`),
	}}
	time.Sleep(50 * time.Millisecond)

	if len(ctl.Roster()) != 1 {
		t.Fatal("state mutated after teardown")
	}
}

func TestCompleteFocusPersistsRecordIndependently(t *testing.T) {
	rec := &fakeRecords{}
	ctl, fc, _ := startController(t, rec)

	ctl.CompleteFocus(25)

	sent := fc.sentFrames()
	last := sent[len(sent)-1]
	if last.kind != protocol.TypeTimerStatus {
		t.Fatalf("last intent=%q want timerStatus", last.kind)
	}
	if p := last.payload.(protocol.TimerStatusPayload); p.Status != domain.StatusIdle {
		t.Fatalf("completion must broadcast idle, got %q", p.Status)
	}

	waitFor(t, func() bool { return rec.count() == 1 })
	waitFor(t, func() bool { return ctl.Coins().TotalCoins == 5 })
}

func TestCompleteFocusFailureSurfacesNotice(t *testing.T) {
	rec := &fakeRecords{fail: true}
	ctl, fc, _ := startController(t, rec)

	// Seed roster so we can verify realtime state is untouched by the failure.
	fc.push(t, protocol.TypeRoomMembersUpdate, protocol.RoomMembersUpdatePayload{
		Members: []domain.Member{{ID: "srv-1", Name: "Alice", Status: domain.StatusIdle}},
	})
	waitFor(t, func() bool { return len(ctl.Roster()) == 1 })

	ctl.CompleteFocus(25)

	select {
	case n := <-ctl.Notices():
		if !strings.Contains(n, "pomodoro") {
			t.Fatalf("notice=%q want persistence failure", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notice for failed persistence")
	}

	if len(ctl.Roster()) != 1 {
		t.Fatal("record failure corrupted realtime state")
	}
}
