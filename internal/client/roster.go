package client

import (
	"sync"

	"github.com/studyroom/studyroom/internal/domain"
)

// Roster maintains the authoritative-from-server member view. Snapshots
// replace it wholesale; status deltas patch exactly one member in place.
// Callers must apply events in arrival order; the roster does no buffering
// or reordering of its own.
type Roster struct {
	mu      sync.RWMutex
	members []domain.Member
	index   map[domain.UserID]int
}

func NewRoster() *Roster {
	return &Roster{index: make(map[domain.UserID]int)}
}

// ApplySnapshot atomically replaces the roster with exactly the given set.
// Duplicate ids within one snapshot keep the first occurrence.
func (r *Roster) ApplySnapshot(members []domain.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = r.members[:0]
	r.index = make(map[domain.UserID]int, len(members))
	for _, m := range members {
		if _, dup := r.index[m.ID]; dup {
			continue
		}
		r.index[m.ID] = len(r.members)
		r.members = append(r.members, m)
	}
}

// ApplyStatusDelta updates one member's status in place. A delta for an
// unknown user is dropped, not inserted: membership is only established
// via snapshot. Reports whether the delta was applied.
func (r *Roster) ApplyStatusDelta(id domain.UserID, status domain.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return false
	}
	r.members[i].Status = status
	return true
}

// Snapshot returns a copy of the current roster in server order.
func (r *Roster) Snapshot() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Member, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
