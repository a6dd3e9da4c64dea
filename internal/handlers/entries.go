package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/otpdeck/otpdeck/internal/models"
	"github.com/otpdeck/otpdeck/internal/otpauth"
	"github.com/otpdeck/otpdeck/internal/vault"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// EntryHandler serves credential CRUD and per-entry code generation.
type EntryHandler struct {
	svc *vault.Service
}

func NewEntryHandler(svc *vault.Service) *EntryHandler {
	return &EntryHandler{svc: svc}
}

type entryDTO struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Issuer    string   `json:"issuer,omitempty"`
	Type      string   `json:"type"`
	Algorithm string   `json:"algorithm"`
	Digits    int      `json:"digits"`
	Period    uint     `json:"period,omitempty"`
	Counter   uint64   `json:"counter,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

func mapEntry(entry *models.Entry) entryDTO {
	dto := entryDTO{
		ID:        entry.ID,
		Label:     entry.Label,
		Issuer:    entry.Issuer,
		Type:      entry.Type,
		Algorithm: entry.Algorithm,
		Digits:    entry.Digits,
		Tags:      entry.TagList(),
	}
	switch entry.Type {
	case models.TypeHOTP:
		dto.Counter = entry.Counter
	default:
		dto.Period = entry.Period
	}
	if !entry.CreatedAt.IsZero() {
		dto.CreatedAt = entry.CreatedAt.Format(time.RFC3339)
	}
	if !entry.UpdatedAt.IsZero() {
		dto.UpdatedAt = entry.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// vaultError maps service sentinels onto stable API error codes.
func vaultError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vault.ErrEntryNotFound):
		return apperrors.ErrEntryNotFound
	case errors.Is(err, vault.ErrDuplicateLabel):
		return apperrors.ErrDuplicateLabel
	case errors.Is(err, otpauth.ErrInvalidSecret):
		return apperrors.ErrInvalidSecret
	case errors.Is(err, otpauth.ErrUnknownAlgorithm),
		errors.Is(err, otpauth.ErrInvalidDigits),
		errors.Is(err, otpauth.ErrInvalidPeriod),
		errors.Is(err, otpauth.ErrUnsupportedType):
		return apperrors.NewBadRequest(err.Error())
	default:
		return err
	}
}

// List handles GET /api/entries
func (h *EntryHandler) List(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	entries, err := h.svc.List(requestContext(c), vault.ListOptions{
		Search: strings.TrimSpace(c.Query("q")),
		Tag:    strings.TrimSpace(c.Query("tag")),
		Type:   strings.TrimSpace(c.Query("type")),
	})
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	dtos := make([]entryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, mapEntry(&entries[i]))
	}

	response.Success(c, http.StatusOK, dtos)
}

// Get handles GET /api/entries/:id
func (h *EntryHandler) Get(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	entry, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	response.Success(c, http.StatusOK, mapEntry(entry))
}

type createEntryRequest struct {
	Label     string   `json:"label" validate:"required,max=128"`
	Issuer    string   `json:"issuer" validate:"max=128"`
	Secret    string   `json:"secret" validate:"required,otpsecret"`
	Type      string   `json:"type" validate:"omitempty,oneof=totp hotp"`
	Algorithm string   `json:"algorithm"`
	Digits    int      `json:"digits"`
	Period    uint     `json:"period"`
	Counter   uint64   `json:"counter"`
	Tags      []string `json:"tags"`
}

// Create handles POST /api/entries
func (h *EntryHandler) Create(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var req createEntryRequest
	if !bindAndValidate(c, &req) {
		return
	}

	entry, err := h.svc.Create(requestContext(c), vault.CreateEntryInput{
		Label:     req.Label,
		Issuer:    req.Issuer,
		Secret:    req.Secret,
		Type:      req.Type,
		Algorithm: req.Algorithm,
		Digits:    req.Digits,
		Period:    req.Period,
		Counter:   req.Counter,
		Tags:      req.Tags,
	})
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	response.Success(c, http.StatusCreated, mapEntry(entry))
}

type updateEntryRequest struct {
	Label     *string   `json:"label"`
	Issuer    *string   `json:"issuer"`
	Secret    *string   `json:"secret"`
	Type      *string   `json:"type"`
	Algorithm *string   `json:"algorithm"`
	Digits    *int      `json:"digits"`
	Period    *uint     `json:"period"`
	Counter   *uint64   `json:"counter"`
	Tags      *[]string `json:"tags"`
}

// Update handles PUT /api/entries/:id
func (h *EntryHandler) Update(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var req updateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid entry payload"))
		return
	}

	entry, err := h.svc.Update(requestContext(c), c.Param("id"), vault.UpdateEntryInput{
		Label:     req.Label,
		Issuer:    req.Issuer,
		Secret:    req.Secret,
		Type:      req.Type,
		Algorithm: req.Algorithm,
		Digits:    req.Digits,
		Period:    req.Period,
		Counter:   req.Counter,
		Tags:      req.Tags,
	})
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	response.Success(c, http.StatusOK, mapEntry(entry))
}

// Delete handles DELETE /api/entries/:id
func (h *EntryHandler) Delete(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, vaultError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Code handles GET /api/entries/:id/code
func (h *EntryHandler) Code(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	code, err := h.svc.Code(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	response.Success(c, http.StatusOK, code)
}

// Codes handles GET /api/codes
func (h *EntryHandler) Codes(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	codes, err := h.svc.Codes(requestContext(c))
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	response.Success(c, http.StatusOK, codes)
}

// URI handles GET /api/entries/:id/uri
func (h *EntryHandler) URI(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	entry, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	uri, err := h.svc.URI(entry)
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"uri": uri})
}

// QR handles GET /api/entries/:id/qr
func (h *EntryHandler) QR(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	entry, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	png, err := h.svc.QRPNG(entry, parseIntQuery(c, "size", 0))
	if err != nil {
		response.Error(c, vaultError(err))
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}
