package otpauth

import (
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/otpdeck/otpdeck/internal/models"
)

// ErrInvalidMigration marks undecodable otpauth-migration payloads.
var ErrInvalidMigration = fmt.Errorf("otpauth: invalid migration payload")

// Authenticator migration payloads are a protobuf message; only the fields
// of otp_parameters entries are interesting here.
const (
	migrationFieldParameters = 1

	parameterFieldSecret    = 1
	parameterFieldName      = 2
	parameterFieldIssuer    = 3
	parameterFieldAlgorithm = 4
	parameterFieldDigits    = 5
	parameterFieldType      = 6
	parameterFieldCounter   = 7
)

// DecodeMigration expands an otpauth-migration://offline?data=... URI into
// the credentials it carries. Unknown protobuf fields are skipped so newer
// exporter versions keep decoding; truncated payloads fail.
func DecodeMigration(raw string) ([]Parsed, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMigration, err)
	}
	if !strings.EqualFold(u.Scheme, MigrationScheme) {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidMigration, u.Scheme)
	}

	data := u.Query().Get("data")
	if data == "" {
		return nil, fmt.Errorf("%w: missing data parameter", ErrInvalidMigration)
	}

	// query parsing already turned '+' into spaces; undo it before base64
	data = strings.ReplaceAll(data, " ", "+")

	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMigration, err)
	}

	entries, err := parseMigrationPayload(payload)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no credentials in payload", ErrInvalidMigration)
	}
	return entries, nil
}

func parseMigrationPayload(b []byte) ([]Parsed, error) {
	var out []Parsed

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMigration, protowire.ParseError(n))
		}
		b = b[n:]

		if num == migrationFieldParameters && typ == protowire.BytesType {
			value, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMigration, protowire.ParseError(n))
			}
			b = b[n:]

			entry, err := parseMigrationParameters(value)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMigration, protowire.ParseError(n))
		}
		b = b[n:]
	}

	return out, nil
}

func parseMigrationParameters(b []byte) (Parsed, error) {
	entry := Parsed{
		Type:      models.TypeTOTP,
		Algorithm: "SHA1",
		Digits:    6,
		Period:    30,
	}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return entry, fmt.Errorf("%w: %v", ErrInvalidMigration, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType:
			value, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return entry, fmt.Errorf("%w: %v", ErrInvalidMigration, protowire.ParseError(n))
			}
			b = b[n:]

			switch num {
			case parameterFieldSecret:
				entry.Secret = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(value)
			case parameterFieldName:
				entry.Label = strings.TrimSpace(string(value))
			case parameterFieldIssuer:
				entry.Issuer = strings.TrimSpace(string(value))
			}
		case typ == protowire.VarintType:
			value, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return entry, fmt.Errorf("%w: %v", ErrInvalidMigration, protowire.ParseError(n))
			}
			b = b[n:]

			switch num {
			case parameterFieldAlgorithm:
				switch value {
				case 2:
					entry.Algorithm = "SHA256"
				case 3:
					entry.Algorithm = "SHA512"
				default:
					entry.Algorithm = "SHA1"
				}
			case parameterFieldDigits:
				if value == 2 {
					entry.Digits = 8
				} else {
					entry.Digits = 6
				}
			case parameterFieldType:
				if value == 1 {
					entry.Type = models.TypeHOTP
				} else {
					entry.Type = models.TypeTOTP
				}
			case parameterFieldCounter:
				entry.Counter = value
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return entry, fmt.Errorf("%w: %v", ErrInvalidMigration, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if entry.Secret == "" {
		return entry, fmt.Errorf("%w: credential without secret", ErrInvalidMigration)
	}

	// migration names often come as "Issuer:account"; strip the prefix the
	// same way the otpauth path is split, with an explicit issuer winning
	if idx := strings.Index(entry.Label, ":"); idx >= 0 {
		prefix := strings.TrimSpace(entry.Label[:idx])
		entry.Label = strings.TrimSpace(entry.Label[idx+1:])
		if entry.Issuer == "" {
			entry.Issuer = prefix
		}
	}
	if entry.Label == "" {
		entry.Label = entry.Issuer
	}

	return entry, nil
}
