package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/otpdeck/otpdeck/internal/i18n"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// I18nHandler serves message catalogs to the web UI.
type I18nHandler struct {
	translator *i18n.Translator
}

func NewI18nHandler(translator *i18n.Translator) *I18nHandler {
	return &I18nHandler{translator: translator}
}

// Catalog handles GET /api/i18n/:lang
func (h *I18nHandler) Catalog(c *gin.Context) {
	if h == nil || h.translator == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	lang := c.Param("lang")
	catalog, err := h.translator.Catalog(lang)
	if err != nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"language":  lang,
		"available": h.translator.Available(),
		"messages":  catalog,
	})
}
