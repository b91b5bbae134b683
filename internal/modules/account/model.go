// README: Rider and driver accounts: registration, credentials and token revocation.
package account

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"ridehail/internal/types"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrAlreadyExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("account not found")
)

const minPasswordLen = 6

type Account struct {
	ID            types.ID   `json:"id"`
	Role          types.Role `json:"role"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	LicenseNumber string     `json:"licenseNumber,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type RegisterCommand struct {
	Role          types.Role
	Name          string
	Email         string
	Password      string
	LicenseNumber string
}

type LoginCommand struct {
	Role     types.Role
	Email    string
	Password string
}

func (c *RegisterCommand) normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = normalizeEmail(c.Email)
	c.LicenseNumber = strings.TrimSpace(c.LicenseNumber)
	if !c.Role.Valid() || c.Name == "" || len(c.Password) < minPasswordLen {
		return ErrValidation
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return ErrValidation
	}
	if c.Role == types.RoleCaptain && c.LicenseNumber == "" {
		return ErrValidation
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
