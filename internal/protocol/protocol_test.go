package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/studyroom/studyroom/internal/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(TypeJoin, JoinPayload{
		RoomID: 42,
		User:   domain.Identity{ID: "u1", Name: "Alice"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeJoin {
		t.Fatalf("type=%q want=%q", env.Type, TypeJoin)
	}

	var p JoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.RoomID != 42 || p.User.ID != "u1" || p.User.Name != "Alice" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{name: "not json", in: `{{{`},
		{name: "missing type", in: `{"payload":{}}`},
		{name: "unknown type", in: `{"type":"bogus","payload":{}}`},
	}

	for _, tc := range cases {
		if _, err := Decode([]byte(tc.in)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestDecodeUnknownTypeSentinel(t *testing.T) {
	_, err := Decode([]byte(`{"type":"whoami"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeAcceptsAllProtocolTypes(t *testing.T) {
	for _, kind := range []string{
		TypeJoin, TypeLeave, TypeChat, TypeTimerStatus,
		TypeJoined, TypeRoomMembersUpdate, TypeChatMessage, TypeError,
	} {
		frame, err := Encode(kind, struct{}{})
		if err != nil {
			t.Fatalf("encode %s: %v", kind, err)
		}
		if _, err := Decode(frame); err != nil {
			t.Fatalf("decode %s: %v", kind, err)
		}
	}
}
