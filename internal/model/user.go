// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data — similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// User represents a registered account.
//
// Email is the login identifier and is unique across all users; it is stored
// trimmed and lower-cased so lookups don't depend on how the user typed it.
//
// WHY PasswordHash AND NOT Password?
// We never keep the plaintext. PasswordHash holds a bcrypt string (salt and cost
// embedded), and the `json:"-"` tag keeps it out of every API response.
//
// OTP FIELDS:
// OTP is empty unless a password reset is pending. OTPExpiresAt bounds how long
// a pending code may be redeemed; both are cleared once the reset succeeds or
// the cleanup job finds the code expired.
type User struct {
	ID           string    `json:"id"        db:"id"        bson:"_id"`
	Username     string    `json:"username"  db:"username"  bson:"username"`
	Email        string    `json:"email"     db:"email"     bson:"email"`
	PasswordHash string    `json:"-"         db:"password_hash" bson:"password_hash"`
	OTP          string    `json:"-"         db:"otp"       bson:"otp,omitempty"`
	OTPExpiresAt time.Time `json:"-"         db:"otp_expires_at" bson:"otp_expires_at,omitempty"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at" bson:"updated_at"`
}

// HasPendingReset reports whether a reset code was issued and not yet consumed.
func (u *User) HasPendingReset() bool {
	return u.OTP != ""
}

// ClearOTP drops any pending reset code.
func (u *User) ClearOTP() {
	u.OTP = ""
	u.OTPExpiresAt = time.Time{}
}
