// README: Identifier and role value objects shared across modules.
package types

import (
	"crypto/rand"
	"encoding/hex"
)

type ID string

// Role is the actor kind attached to an authenticated request.
type Role string

const (
	RoleUser    Role = "user"
	RoleCaptain Role = "captain"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleCaptain
}

// NewID returns a random 32-char hex identifier.
func NewID() ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return ID(hex.EncodeToString(b[:]))
}
