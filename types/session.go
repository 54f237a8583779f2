package types

import "time"

// Session is the server-side record behind a bearer token.
// Deleting it revokes the token.
type Session struct {
	// Token is the opaque session identifier carried in the JWT "jti" claim.
	Token string `json:"token" db:"token"`

	// UserID identifies the session owner.
	UserID int `json:"user_id" db:"user_id"`

	// ExpiresAt is when the session stops being accepted.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// CreatedAt is when the session was issued.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SignupOTP is a one-time password pending confirmation for an email address.
type SignupOTP struct {
	Email     string    `db:"email"`
	CodeHash  string    `db:"code_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}
