// Package user defines registered users and their email verification records.
package user

import "time"

// User is a registered account holder. The password is stored as supplied;
// credential hardening is out of scope for this product.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailVerification is a pending verification code for a user's email.
type EmailVerification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the code is no longer usable at the given instant.
func (v EmailVerification) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
