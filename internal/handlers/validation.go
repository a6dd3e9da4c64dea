package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
	appValidator "github.com/otpdeck/otpdeck/pkg/validator"
)

// bindAndValidate decodes the JSON body into dest and applies the struct's
// validation tags. On failure the 400 response has already been written and
// the handler should just return.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("request body is not valid JSON"))
		return false
	}
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	ve, ok := err.(appValidator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return "request payload failed validation"
	}

	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		messages = append(messages, failureMessage(failure))
	}
	return strings.Join(messages, "; ")
}

// failureMessage renders one rule failure in user-facing words. Tags not
// listed fall back to naming the rule itself.
func failureMessage(failure appValidator.ValidationError) string {
	field := prettifyFieldName(failure.Field)

	switch failure.Tag {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, failure.Param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, failure.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, failure.Param)
	case "otpsecret":
		return field + " must be a base32 secret"
	}

	if failure.Param != "" {
		return fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param)
	}
	return fmt.Sprintf("%s failed validation: %s", field, failure.Tag)
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	return strings.ToLower(strings.ReplaceAll(name, "_", " "))
}

// parseIntQuery reads an optional integer query parameter, returning
// fallback when the value is missing or malformed.
func parseIntQuery(c *gin.Context, key string, fallback int) int {
	if raw := strings.TrimSpace(c.Query(key)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}
