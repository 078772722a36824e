package totp

import (
	"fmt"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

// Enrollment is a freshly generated secret and the otpauth:// URL an authenticator app scans.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// Enroll generates a new base32 secret for account.
func Enroll(issuer, account string) (*Enrollment, error) {
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      DefaultPeriod,
		Digits:      DefaultDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}
