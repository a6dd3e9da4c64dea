// Package validator wraps go-playground/validator with JSON-oriented field
// names and the OTP-specific rules the API payloads need.
package validator

import (
	"encoding/base32"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var instance = sync.OnceValue(newValidator)

// ValidationError is a single field failure, reported under the field's
// JSON name.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects every failure from one ValidateStruct call.
type ValidationErrors []ValidationError

// Error lists every failure as "field failed on rule", separated by
// semicolons.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	var b strings.Builder
	for i, err := range v {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Field)
		b.WriteString(" failed on ")
		b.WriteString(err.Tag)
		if err.Param != "" {
			b.WriteString("=")
			b.WriteString(err.Param)
		}
	}
	return b.String()
}

// ValidateStruct applies the struct's validate tags and converts failures
// into ValidationErrors.
func ValidateStruct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	failures := make(ValidationErrors, 0, len(ve))
	for _, fe := range ve {
		failures = append(failures, ValidationError{
			Field: fe.Field(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return failures
}

// IsBase32Secret reports whether the value is usable as an OTP seed after
// whitespace cleanup. Unpadded input is accepted since issuers rarely pad.
func IsBase32Secret(value string) bool {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(value, " ", ""), "-", ""))
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return false
	}
	_, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(cleaned)
	return err == nil
}

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(jsonFieldName)

	// otpsecret validates base32 OTP seeds on entry and import payloads.
	_ = v.RegisterValidation("otpsecret", func(fl validator.FieldLevel) bool {
		return IsBase32Secret(fl.Field().String())
	})

	return v
}

// jsonFieldName resolves the name failures are reported under: the json
// tag when present, the Go field name otherwise.
func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}
