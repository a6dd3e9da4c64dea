package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/otpdeck/otpdeck/internal/auth"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// AuthHandler exposes the lock state and the unlock/lock operations.
type AuthHandler struct {
	guard *iauth.Guard
	jwt   *iauth.JWTService
}

func NewAuthHandler(guard *iauth.Guard, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{guard: guard, jwt: jwt}
}

type authStatusDTO struct {
	PassphraseSet  bool `json:"passphrase_set"`
	LockedOut      bool `json:"locked_out"`
	FailedAttempts int  `json:"failed_attempts,omitempty"`
	RetryAfter     int  `json:"retry_after_seconds,omitempty"`
	TokenTTL       int  `json:"token_ttl_seconds,omitempty"`
}

// Status handles GET /api/auth/status
func (h *AuthHandler) Status(c *gin.Context) {
	if h == nil || h.guard == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	status := h.guard.Status()
	dto := authStatusDTO{
		PassphraseSet:  status.PassphraseSet,
		LockedOut:      status.LockedOut,
		FailedAttempts: status.FailedAttempts,
	}
	if status.RetryAfter > 0 {
		dto.RetryAfter = int(status.RetryAfter.Round(time.Second).Seconds())
	}
	if h.jwt != nil {
		dto.TokenTTL = int(h.jwt.TTL().Seconds())
	}

	response.Success(c, http.StatusOK, dto)
}

type unlockRequest struct {
	Passphrase string `json:"passphrase" validate:"required"`
}

// Unlock handles POST /api/auth/unlock
func (h *AuthHandler) Unlock(c *gin.Context) {
	if h == nil || h.guard == nil || h.jwt == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var req unlockRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.guard.Unlock(req.Passphrase); err != nil {
		switch {
		case errors.Is(err, iauth.ErrVaultLocked):
			response.Error(c, apperrors.ErrLockout)
		case errors.Is(err, iauth.ErrInvalidPassphrase):
			response.Error(c, apperrors.ErrInvalidPassphrase)
		case errors.Is(err, iauth.ErrPassphraseNotSet):
			response.Error(c, apperrors.NewBadRequest("no passphrase is configured"))
		default:
			response.Error(c, err)
		}
		return
	}

	token, err := h.jwt.IssueUnlockToken(h.guard.Epoch())
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "issue unlock token"))
		return
	}

	response.Success(c, http.StatusOK, token)
}

// Lock handles POST /api/auth/lock
func (h *AuthHandler) Lock(c *gin.Context) {
	if h == nil || h.guard == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	h.guard.Lock()
	response.Success(c, http.StatusOK, gin.H{"locked": true})
}
