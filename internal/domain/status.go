package domain

// Status is a member's focus state, mirrored into the roster on every
// local timer transition. It is not independently persisted.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusFocusing Status = "focusing"
)

// NormalizeStatus maps anything that is not exactly "focusing" to idle,
// the same collapsing the server applies before broadcasting.
func NormalizeStatus(s string) Status {
	if Status(s) == StatusFocusing {
		return StatusFocusing
	}
	return StatusIdle
}
