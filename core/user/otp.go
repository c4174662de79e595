package user

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// NowFunc is mockable in tests.
var NowFunc = time.Now

var otpMax = big.NewInt(1000000)

// GenerateOTP returns a random zero-padded 6-digit verification code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// verifyOTP checks a submitted code against the one stored on the user.
// The comparison is constant time; expiry is checked after the match so an
// attacker cannot distinguish a wrong code from a stale one.
func verifyOTP(usr User, code string) error {
	if usr.OTPCode == "" || len(code) != len(usr.OTPCode) {
		return ErrOTPInvalid
	}
	if subtle.ConstantTimeCompare([]byte(usr.OTPCode), []byte(code)) != 1 {
		return ErrOTPInvalid
	}
	if NowFunc().After(usr.OTPExpiresAt) {
		return ErrOTPExpired
	}
	return nil
}
