// Package response defines the JSON envelope every API handler writes.
// Success payloads ride under "data"; failures carry a stable error code
// plus a message localized for the request language.
package response

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	appErrors "github.com/otpdeck/otpdeck/pkg/errors"
)

// Response is the envelope shared by every endpoint.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries the client-facing error code and message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Translator resolves a localized message for an error code. The fallback is
// the message carried by the error itself and must be returned unchanged when
// no localization exists for the request language.
type Translator func(c *gin.Context, code, fallback string) string

var translator atomic.Pointer[Translator]

// SetTranslator installs the message translator used by Error. Passing nil
// restores untranslated messages.
func SetTranslator(t Translator) {
	if t == nil {
		translator.Store(nil)
		return
	}
	translator.Store(&t)
}

// Success writes a JSON success envelope.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

// Error writes a JSON error envelope derived from an AppError.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr == nil {
		appErr = appErrors.ErrInternalServer
	}

	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	message := appErr.Message
	if t := translator.Load(); t != nil {
		message = (*t)(c, appErr.Code, message)
	}

	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: appErr.Code, Message: message},
	})
}
