package otpauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"

	"github.com/otpdeck/otpdeck/internal/models"
)

// Sentinel errors surfaced by the code engine and codecs.
var (
	ErrInvalidSecret    = errors.New("otpauth: secret is not valid base32")
	ErrUnknownAlgorithm = errors.New("otpauth: unknown algorithm")
	ErrInvalidDigits    = errors.New("otpauth: digits must be 6 or 8")
	ErrInvalidPeriod    = errors.New("otpauth: period out of range")
	ErrUnsupportedType  = errors.New("otpauth: unsupported entry type")
)

// Params describe one credential's code generation settings.
type Params struct {
	Type      string
	Algorithm string
	Digits    int
	Period    uint
	Counter   uint64
}

// Validate checks the parameter ranges without touching the secret.
func (p Params) Validate() error {
	switch strings.ToLower(p.Type) {
	case models.TypeTOTP, models.TypeHOTP:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, p.Type)
	}

	if _, err := algorithmFromName(p.Algorithm); err != nil {
		return err
	}
	if _, err := digitsFromCount(p.Digits); err != nil {
		return err
	}

	if strings.ToLower(p.Type) == models.TypeTOTP {
		if p.Period < models.MinPeriod || p.Period > models.MaxPeriod {
			return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidPeriod, p.Period, models.MinPeriod, models.MaxPeriod)
		}
	}

	return nil
}

// NormalizeSecret strips the grouping whitespace and dashes issuers like to
// print, upper-cases, and drops base32 padding. The code generator re-pads.
func NormalizeSecret(secret string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, secret)
	return strings.TrimRight(strings.ToUpper(cleaned), "=")
}

// GenerateCode produces the current code for the secret. For HOTP the caller
// owns persisting the counter advance; the stored counter is used as-is.
func GenerateCode(secret string, params Params, at time.Time) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	algorithm, _ := algorithmFromName(params.Algorithm)
	digits, _ := digitsFromCount(params.Digits)
	secret = NormalizeSecret(secret)

	switch strings.ToLower(params.Type) {
	case models.TypeTOTP:
		code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
			Period:    params.Period,
			Digits:    digits,
			Algorithm: algorithm,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
		}
		return code, nil
	case models.TypeHOTP:
		code, err := hotp.GenerateCodeCustom(secret, params.Counter, hotp.ValidateOpts{
			Digits:    digits,
			Algorithm: algorithm,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
		}
		return code, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, params.Type)
	}
}

// ProbeSecret verifies a secret can actually generate codes with the given
// parameters. Entries are rejected at the door instead of failing later.
func ProbeSecret(secret string, params Params) error {
	_, err := GenerateCode(secret, params, time.Unix(0, 0).UTC())
	return err
}

// Remaining returns the seconds left before the code at the given instant rolls over.
func Remaining(period uint, at time.Time) int {
	if period == 0 {
		period = 30
	}
	return int(period) - int(at.Unix()%int64(period))
}

// Progress returns how far through the current period the instant is, in [0,1).
func Progress(period uint, at time.Time) float64 {
	if period == 0 {
		period = 30
	}
	return float64(at.Unix()%int64(period)) / float64(period)
}

func algorithmFromName(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return otp.AlgorithmSHA1, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

func digitsFromCount(count int) (otp.Digits, error) {
	switch count {
	case 0, 6:
		return otp.DigitsSix, nil
	case 8:
		return otp.DigitsEight, nil
	default:
		return otp.DigitsSix, fmt.Errorf("%w: got %d", ErrInvalidDigits, count)
	}
}
