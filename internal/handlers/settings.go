package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/otpdeck/otpdeck/internal/settings"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// SettingsHandler reads and writes the preferences document.
type SettingsHandler struct {
	svc *settings.Service
}

func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{svc: svc}
}

// Get handles GET /api/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	prefs, err := h.svc.Get(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, prefs)
}

// Replace handles PUT /api/settings
func (h *SettingsHandler) Replace(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var prefs settings.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid settings payload"))
		return
	}

	updated, err := h.svc.Replace(requestContext(c), prefs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// Apply handles PATCH /api/settings with dot-path updates.
func (h *SettingsHandler) Apply(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid settings payload"))
		return
	}
	if len(updates) == 0 {
		response.Error(c, apperrors.NewBadRequest("no settings to update"))
		return
	}

	updated, err := h.svc.Apply(requestContext(c), updates)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}
