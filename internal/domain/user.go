// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxNameLen = 36

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

type UserID string

// Identity is the durable local user: recovered from storage or freshly
// minted, and possibly overridden by the server's join acknowledgment.
type Identity struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// NewIdentity mints a fresh identity with an opaque id. Used when nothing
// usable was recovered from persisted storage.
func NewIdentity(name string) (Identity, error) {
	if err := ValidateName(name); err != nil {
		return Identity{}, err
	}
	return Identity{ID: UserID(uuid.NewString()), Name: name}, nil
}

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

func (i Identity) Valid() bool {
	return i.ID != "" && ValidateName(i.Name) == nil
}
