// Package app holds the server-side realtime room service: membership,
// status tracking and fan-out, independent of any transport.
package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studyroom/studyroom/internal/domain"
)

var ErrNotJoined = errors.New("not joined")

type SessionID string

// Sender abstracts the transport endpoint of one connection. Owned by the
// adapter; the adapter must Close() it.
type Sender interface {
	TrySend(data []byte) error
}

// memberState tracks one user inside one room. A user may hold several
// connections (tabs); the member leaves the roster only when the last
// connection goes.
type memberState struct {
	id           domain.UserID
	name         string
	status       domain.Status
	connections  int
	lastActiveAt int64
}

type sessionState struct {
	roomID domain.RoomID
	userID domain.UserID
	name   string
	sender Sender
}

type RealtimeService struct {
	mu            sync.Mutex
	membersByRoom map[domain.RoomID]map[domain.UserID]*memberState
	sessions      map[SessionID]*sessionState
}

func NewRealtimeService() *RealtimeService {
	return &RealtimeService{
		membersByRoom: make(map[domain.RoomID]map[domain.UserID]*memberState),
		sessions:      make(map[SessionID]*sessionState),
	}
}

// Join registers a connection in a room and returns the effective user:
// a blank id is replaced with a fresh one, a blank name with "Guest".
// A session already joined somewhere leaves that room first.
func (s *RealtimeService) Join(sid SessionID, sender Sender, roomID domain.RoomID, user domain.Identity) domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaveLocked(sid)

	userID := user.ID
	if userID == "" {
		userID = domain.UserID(uuid.NewString())
	}
	name := user.Name
	if name == "" {
		name = "Guest"
	}

	s.sessions[sid] = &sessionState{roomID: roomID, userID: userID, name: name, sender: sender}

	members, ok := s.membersByRoom[roomID]
	if !ok {
		members = make(map[domain.UserID]*memberState)
		s.membersByRoom[roomID] = members
	}
	ms, ok := members[userID]
	if !ok {
		ms = &memberState{id: userID, name: name, status: domain.StatusIdle}
		members[userID] = ms
	}
	ms.name = name
	ms.connections++
	ms.lastActiveAt = time.Now().UnixMilli()

	log.Info().Str("module", "app.realtime").Str("sid", string(sid)).
		Int64("room", int64(roomID)).Str("user", string(userID)).Msg("joined room")

	return domain.Identity{ID: userID, Name: name}
}

// Leave drops the session's room association and decrements its member's
// connection count. Reports which room was left, if any.
func (s *RealtimeService) Leave(sid SessionID) (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(sid)
}

func (s *RealtimeService) leaveLocked(sid SessionID) (domain.RoomID, bool) {
	ss, ok := s.sessions[sid]
	if !ok {
		return 0, false
	}
	delete(s.sessions, sid)

	if members, ok := s.membersByRoom[ss.roomID]; ok {
		if ms, ok := members[ss.userID]; ok {
			ms.connections--
			ms.lastActiveAt = time.Now().UnixMilli()
			if ms.connections <= 0 {
				delete(members, ss.userID)
			}
		}
		if len(members) == 0 {
			delete(s.membersByRoom, ss.roomID)
		}
	}

	log.Info().Str("module", "app.realtime").Str("sid", string(sid)).
		Int64("room", int64(ss.roomID)).Msg("left room")
	return ss.roomID, true
}

func (s *RealtimeService) JoinedRoom(sid SessionID) (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[sid]
	if !ok {
		return 0, false
	}
	return ss.roomID, true
}

func (s *RealtimeService) JoinedUser(sid SessionID) (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[sid]
	if !ok {
		return domain.Identity{}, false
	}
	return domain.Identity{ID: ss.userID, Name: ss.name}, true
}

// UpdateStatus normalizes and records a member's focus status.
func (s *RealtimeService) UpdateStatus(sid SessionID, status string) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.sessions[sid]
	if !ok {
		return domain.StatusIdle, ErrNotJoined
	}
	normalized := domain.NormalizeStatus(status)
	if members, ok := s.membersByRoom[ss.roomID]; ok {
		if ms, ok := members[ss.userID]; ok {
			ms.status = normalized
			ms.lastActiveAt = time.Now().UnixMilli()
		}
	}
	return normalized, nil
}

// SnapshotMembers returns the room's current roster, sorted by name.
func (s *RealtimeService) SnapshotMembers(roomID domain.RoomID) []domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.membersByRoom[roomID]
	out := make([]domain.Member, 0, len(members))
	for _, ms := range members {
		if ms.connections <= 0 {
			continue
		}
		out = append(out, domain.Member{ID: ms.id, Name: ms.name, Status: ms.status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Broadcast fans a frame out to every connection in the room. The lock is
// held across the whole fan-out so concurrent broadcasts enqueue in the
// same relative order on every recipient; TrySend never blocks, so this
// cannot deadlock. Connections that refuse the frame are evicted, mirroring
// a dropped link; the eviction count is returned so the caller can push a
// fresh roster to the survivors.
func (s *RealtimeService) Broadcast(roomID domain.RoomID, frame []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []SessionID
	for sid, ss := range s.sessions {
		if ss.roomID != roomID {
			continue
		}
		if ss.sender == nil {
			dead = append(dead, sid)
			continue
		}
		if err := ss.sender.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.realtime").Str("sid", string(sid)).Msg("broadcast drop, evicting")
			dead = append(dead, sid)
		}
	}

	for _, sid := range dead {
		s.leaveLocked(sid)
	}
	return len(dead)
}
