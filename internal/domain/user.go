package domain

import (
	"strings"
	"time"
)

// NormalizeEmail canonicalises an address for storage and lookup. Uniqueness
// is case-insensitive, enforced by normalising here plus a unique index.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User represents a registered account. PasswordHash is nil for accounts
// provisioned by an external identity provider; such accounts can never
// pass password verification.
type User struct {
	ID            string
	Email         string
	PasswordHash  *string
	DisplayName   string
	EmailVerified bool
	IsActive      bool
	CreatedAt     time.Time
	LastLogin     *time.Time
}
