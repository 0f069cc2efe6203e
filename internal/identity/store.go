// Package identity owns the durable local user identity. It is the only
// mutation path for identity state; everything else reads through it.
package identity

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/studyroom/studyroom/internal/domain"
)

// StorageKey is the key the identity record lives under in the backing
// key-value store.
const StorageKey = "studyroom_user"

// KV abstracts the persistence backend so the store is testable without
// touching the filesystem.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// Partial is a partial identity change; nil fields are left untouched.
type Partial struct {
	Name *string
}

type Store struct {
	mu  sync.Mutex
	kv  KV
	cur domain.Identity
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Load recovers the persisted identity. If nothing usable is stored it
// synthesizes a fresh one (opaque id, "Guest"-suffixed name) and persists it.
func (s *Store) Load() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, ok, err := s.kv.Get(StorageKey); err == nil && ok {
		var id domain.Identity
		if err := json.Unmarshal(raw, &id); err == nil && id.Valid() {
			s.cur = id
			return id
		}
		log.Warn().Str("module", "identity").Msg("persisted identity malformed, regenerating")
	}

	id, err := domain.NewIdentity("Guest")
	if err != nil {
		// "Guest" always validates; unreachable.
		panic(err)
	}
	id.Name = guestName(id.ID)
	s.cur = id
	s.persistLocked()
	log.Info().Str("module", "identity").Str("id", string(id.ID)).Msg("created new identity")
	return id
}

// Current returns the active identity without touching storage.
func (s *Store) Current() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update merges a partial change into the current identity and persists it.
func (s *Store) Update(p Partial) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if err := domain.ValidateName(name); err != nil {
			return s.cur, err
		}
		s.cur.Name = name
	}
	s.persistLocked()
	log.Info().Str("module", "identity").Str("id", string(s.cur.ID)).Str("name", s.cur.Name).Msg("updated identity")
	return s.cur, nil
}

// AdoptServerID applies the reconciliation rule for a joined ack: the server
// wins on id conflicts, but a locally-chosen display name is never replaced.
func (s *Store) AdoptServerID(id domain.UserID) domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || id == s.cur.ID {
		return s.cur
	}
	log.Info().Str("module", "identity").
		Str("local_id", string(s.cur.ID)).Str("server_id", string(id)).
		Msg("adopting server identity")
	s.cur.ID = id
	s.persistLocked()
	return s.cur
}

func (s *Store) persistLocked() {
	raw, err := json.Marshal(s.cur)
	if err != nil {
		log.Error().Err(err).Str("module", "identity").Msg("marshal identity")
		return
	}
	if err := s.kv.Set(StorageKey, raw); err != nil {
		log.Error().Err(err).Str("module", "identity").Msg("persist identity")
	}
}

func guestName(id domain.UserID) string {
	suffix := string(id)
	suffix = strings.ReplaceAll(suffix, "-", "")
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Guest" + suffix
}
