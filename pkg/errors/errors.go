// Package errors defines the application error vocabulary: stable codes the
// UI localizes, their HTTP status mappings, and helpers to wrap internal
// causes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with a stable client-facing code. Internal carries
// the underlying cause for logs and never reaches API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error renders the message, appending the internal cause when present.
func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap exposes the internal cause for errors.Is / errors.As chains.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

func (e *AppError) clone() *AppError {
	cpy := *e
	return &cpy
}

// WithInternal returns a copy with the underlying cause attached. The
// sentinel itself stays untouched so it can be shared freely.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}
	cpy := e.clone()
	cpy.Internal = err
	return cpy
}

// WithMessage returns a copy carrying a more specific message under the
// same code, e.g. naming the line of a rejected import.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}
	cpy := e.clone()
	cpy.Message = message
	return cpy
}

// New builds an AppError with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Unlock and vault errors.
var (
	ErrUnauthorized      = New("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrVaultLocked       = New("vault.locked", "Vault is locked", http.StatusUnauthorized)
	ErrInvalidPassphrase = New("vault.invalid_passphrase", "Invalid passphrase", http.StatusUnauthorized)
	ErrLockout           = New("auth.lockout", "Too many failed attempts, try again later", http.StatusTooManyRequests)
	ErrInvalidSecret     = New("vault.invalid_secret", "Secret is not a valid base32 OTP seed", http.StatusBadRequest)
	ErrDuplicateLabel    = New("vault.duplicate_label", "An entry with this label already exists", http.StatusConflict)
	ErrEntryNotFound     = New("vault.entry_not_found", "No such entry", http.StatusNotFound)
)

// Import and export errors.
var (
	ErrInvalidURI      = New("transfer.invalid_uri", "Not a valid otpauth URI", http.StatusBadRequest)
	ErrUnreadableImage = New("transfer.unreadable_image", "No QR code could be read from the image", http.StatusBadRequest)
	ErrMalformedBackup = New("transfer.malformed_backup", "Backup file is malformed", http.StatusBadRequest)
	ErrNothingImported = New("transfer.nothing_imported", "Nothing could be imported", http.StatusBadRequest)
)

// Snapshot errors.
var (
	ErrSnapshotNotFound = New("backup.snapshot_not_found", "No such snapshot", http.StatusNotFound)
	ErrKeyMismatch      = New("backup.key_mismatch", "Snapshot was written with a different vault key", http.StatusConflict)
)

// Generic HTTP errors.
var (
	ErrNotFound       = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrBadRequest     = New("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrInternalServer = New("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrRateLimit      = New("RATE_LIMIT_EXCEEDED", "Too many requests, please slow down", http.StatusTooManyRequests)
)

// Wrap turns any error into a 500 AppError while keeping the cause for logs.
func Wrap(err error, message string) *AppError {
	return New("INTERNAL_ERROR", message, http.StatusInternalServerError).WithInternal(err)
}

// FromError converts a generic error into an AppError, defaulting to
// ErrInternalServer for anything unrecognized.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest reports a validation failure with a caller-supplied message.
func NewBadRequest(message string) *AppError {
	return New(ErrBadRequest.Code, message, ErrBadRequest.StatusCode)
}
