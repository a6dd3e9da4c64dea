package otpauth

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/otpdeck/otpdeck/internal/models"
)

// Scheme prefixes recognised on import.
const (
	Scheme          = "otpauth"
	MigrationScheme = "otpauth-migration"
)

var ErrNotOTPAuth = fmt.Errorf("otpauth: not an otpauth uri")

// Parsed carries the fields of one otpauth URI.
type Parsed struct {
	Type      string
	Label     string
	Issuer    string
	Secret    string
	Algorithm string
	Digits    int
	Period    uint
	Counter   uint64
}

// Params converts the parsed fields into code generation parameters.
func (p *Parsed) Params() Params {
	return Params{
		Type:      p.Type,
		Algorithm: p.Algorithm,
		Digits:    p.Digits,
		Period:    p.Period,
		Counter:   p.Counter,
	}
}

// IsOTPAuthURI reports whether the value looks like a plain otpauth URI.
func IsOTPAuthURI(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(value, Scheme+"://totp/") || strings.HasPrefix(value, Scheme+"://hotp/")
}

// IsMigrationURI reports whether the value looks like an authenticator
// migration payload URI.
func IsMigrationURI(value string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), MigrationScheme+"://offline")
}

// ParseURI decodes an otpauth:// URI. The label may carry an "issuer:account"
// prefix; an explicit issuer parameter wins over the prefix.
func ParseURI(raw string) (*Parsed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNotOTPAuth)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotOTPAuth, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return nil, fmt.Errorf("%w: scheme %q", ErrNotOTPAuth, u.Scheme)
	}

	entryType := strings.ToLower(u.Host)
	switch entryType {
	case models.TypeTOTP, models.TypeHOTP:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, u.Host)
	}

	label := strings.TrimPrefix(u.Path, "/")
	issuerFromLabel := ""
	if idx := strings.Index(label, ":"); idx >= 0 {
		issuerFromLabel = strings.TrimSpace(label[:idx])
		label = strings.TrimSpace(label[idx+1:])
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: missing label", ErrNotOTPAuth)
	}

	query := u.Query()

	secret := NormalizeSecret(query.Get("secret"))
	if secret == "" {
		return nil, fmt.Errorf("%w: missing secret parameter", ErrInvalidSecret)
	}

	issuer := strings.TrimSpace(query.Get("issuer"))
	if issuer == "" {
		issuer = issuerFromLabel
	}

	parsed := &Parsed{
		Type:      entryType,
		Label:     label,
		Issuer:    issuer,
		Secret:    secret,
		Algorithm: "SHA1",
		Digits:    6,
	}
	if entryType == models.TypeTOTP {
		parsed.Period = 30
	}

	if v := strings.TrimSpace(query.Get("algorithm")); v != "" {
		parsed.Algorithm = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(query.Get("digits")); v != "" {
		digits, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDigits, v)
		}
		parsed.Digits = digits
	}
	if v := strings.TrimSpace(query.Get("period")); v != "" {
		period, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, v)
		}
		parsed.Period = uint(period)
	}
	if v := strings.TrimSpace(query.Get("counter")); v != "" {
		counter, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("otpauth: invalid counter %q", v)
		}
		parsed.Counter = counter
	}

	if err := parsed.Params().Validate(); err != nil {
		return nil, err
	}
	if err := ProbeSecret(parsed.Secret, parsed.Params()); err != nil {
		return nil, err
	}

	return parsed, nil
}

// BuildURI encodes the fields as an otpauth:// URI. When an issuer is set it
// appears both as the label prefix and the issuer parameter, the convention
// authenticator apps expect.
func BuildURI(p Parsed) string {
	name := p.Label
	if p.Issuer != "" {
		name = p.Issuer + ":" + p.Label
	}

	query := url.Values{}
	query.Set("secret", NormalizeSecret(p.Secret))
	if p.Issuer != "" {
		query.Set("issuer", p.Issuer)
	}

	algorithm := strings.ToUpper(strings.TrimSpace(p.Algorithm))
	if algorithm == "" {
		algorithm = "SHA1"
	}
	query.Set("algorithm", algorithm)

	digits := p.Digits
	if digits == 0 {
		digits = 6
	}
	query.Set("digits", strconv.Itoa(digits))

	entryType := strings.ToLower(strings.TrimSpace(p.Type))
	if entryType == "" {
		entryType = models.TypeTOTP
	}

	switch entryType {
	case models.TypeHOTP:
		query.Set("counter", strconv.FormatUint(p.Counter, 10))
	default:
		period := p.Period
		if period == 0 {
			period = 30
		}
		query.Set("period", strconv.FormatUint(uint64(period), 10))
	}

	u := url.URL{
		Scheme:   Scheme,
		Host:     entryType,
		Path:     "/" + name,
		RawQuery: query.Encode(),
	}
	return u.String()
}
