package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/otpdeck/otpdeck/internal/auth"
	"github.com/otpdeck/otpdeck/internal/realtime"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// StreamHandler upgrades HTTP connections into the live code stream.
type StreamHandler struct {
	hub   *realtime.Hub
	jwt   *iauth.JWTService
	guard *iauth.Guard
}

func NewStreamHandler(hub *realtime.Hub, jwt *iauth.JWTService, guard *iauth.Guard) *StreamHandler {
	return &StreamHandler{hub: hub, jwt: jwt, guard: guard}
}

// Codes handles GET /api/stream/codes. Browsers cannot attach headers to
// a WebSocket upgrade, so the unlock token rides a query parameter.
func (h *StreamHandler) Codes(c *gin.Context) {
	if h == nil || h.hub == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	if h.guard != nil && h.guard.Required() {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			authz := c.GetHeader("Authorization")
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[7:])
			}
		}
		if token == "" || h.jwt == nil {
			response.Error(c, apperrors.ErrUnauthorized)
			return
		}

		claims, err := h.jwt.ValidateUnlockToken(token)
		if err != nil || !h.guard.ValidEpoch(claims.Epoch) {
			response.Error(c, apperrors.ErrVaultLocked)
			return
		}
	}

	h.hub.Serve([]string{realtime.StreamCodes}, realtime.KnownStreams(), c.Writer, c.Request)
}
