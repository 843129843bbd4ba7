package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"
)

// Reset codes are four decimal digits, 1000–9999, so they never start with 0
// and are easy to read out of an email.
const (
	otpMin  = 1000
	otpSpan = 9000
)

// GenerateOTP returns a fresh password reset code.
//
// crypto/rand, not math/rand: a predictable code would let anyone who can
// trigger a reset for an address take over the account.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", fmt.Errorf("auth: generating otp: %w", err)
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}

// MatchOTP compares a submitted code against the pending one in constant time.
// An empty pending code never matches.
func MatchOTP(pending, submitted string) bool {
	if pending == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pending), []byte(submitted)) == 1
}
