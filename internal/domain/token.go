package domain

import "time"

// RefreshToken is the persisted half of a refresh credential. Only a one-way
// hash of the bearer secret is stored; the secret itself exists solely in the
// response that issued it.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Usable reports whether the token can still be redeemed at the given time.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
