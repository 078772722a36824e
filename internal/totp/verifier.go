package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

const (
	DefaultPeriod = 30
	DefaultSkew   = 1
	DefaultDigits = otp.DigitsSix
)

// Verifier checks six digit time-based codes. A code from the step before or after the
// current one is also accepted.
type Verifier struct {
	opts pqtotp.ValidateOpts
	now  func() time.Time
}

// NewVerifier returns a Verifier with 30 second steps and one step of tolerance.
// A nil now uses time.Now.
func NewVerifier(now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		opts: pqtotp.ValidateOpts{
			Period:    DefaultPeriod,
			Skew:      DefaultSkew,
			Digits:    DefaultDigits,
			Algorithm: otp.AlgorithmSHA1,
		},
		now: now,
	}
}

// Verify checks code against secret at the current time.
func (v *Verifier) Verify(secret, code string) bool {
	return v.VerifyAt(secret, code, v.now())
}

// VerifyAt checks code against secret at t. Malformed codes and secrets yield false.
func (v *Verifier) VerifyAt(secret, code string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != v.opts.Digits.Length() || !isDigits(code) {
		return false
	}
	if strings.TrimSpace(secret) == "" {
		return false
	}

	ok, err := pqtotp.ValidateCustom(code, secret, t, v.opts)
	if err != nil {
		return false
	}
	return ok
}

// GenerateCode returns the code for secret at t.
func (v *Verifier) GenerateCode(secret string, t time.Time) (string, error) {
	code, err := pqtotp.GenerateCodeCustom(secret, t, v.opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return code, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
