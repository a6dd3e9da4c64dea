package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/otpdeck/otpdeck/internal/otpauth"
	"github.com/otpdeck/otpdeck/internal/transfer"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// TransferHandler serves vault import and export in every supported format.
type TransferHandler struct {
	svc *transfer.Service
}

func NewTransferHandler(svc *transfer.Service) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// importError maps container-level transfer failures per source format so
// a bad image and a bad backup file report distinct codes.
func importError(err error, unreadable *apperrors.AppError) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transfer.ErrNothingImported):
		return apperrors.ErrNothingImported
	case errors.Is(err, transfer.ErrUnreadable):
		return unreadable
	case errors.Is(err, otpauth.ErrNotOTPAuth), errors.Is(err, otpauth.ErrInvalidMigration):
		return apperrors.ErrInvalidURI
	default:
		return vaultError(err)
	}
}

type importURIRequest struct {
	URI string `json:"uri" validate:"required"`
}

// ImportURI handles POST /api/import/uri
func (h *TransferHandler) ImportURI(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var req importURIRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.ImportURI(requestContext(c), req.URI)
	if err != nil {
		response.Error(c, importError(err, apperrors.ErrInvalidURI))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ImportImage handles POST /api/import/image. It accepts multipart file
// uploads and falls back to a raw image body for curl-style clients.
func (h *TransferHandler) ImportImage(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	images, err := readUploadedImages(c)
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("no image payload"))
		return
	}

	result, err := h.svc.ImportImages(requestContext(c), images)
	if err != nil {
		response.Error(c, importError(err, apperrors.ErrUnreadableImage))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ImportJSON handles POST /api/import/json
func (h *TransferHandler) ImportJSON(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		response.Error(c, apperrors.NewBadRequest("empty request body"))
		return
	}

	result, err := h.svc.ImportJSON(requestContext(c), data)
	if err != nil {
		response.Error(c, importError(err, apperrors.ErrMalformedBackup))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ImportURIList handles POST /api/import/uris
func (h *TransferHandler) ImportURIList(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		response.Error(c, apperrors.NewBadRequest("empty request body"))
		return
	}

	result, err := h.svc.ImportURIList(requestContext(c), string(data))
	if err != nil {
		response.Error(c, importError(err, apperrors.ErrInvalidURI))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ImportCSV handles POST /api/import/csv
func (h *TransferHandler) ImportCSV(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		response.Error(c, apperrors.NewBadRequest("empty request body"))
		return
	}

	result, err := h.svc.ImportCSV(requestContext(c), data)
	if err != nil {
		response.Error(c, importError(err, apperrors.ErrMalformedBackup))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ExportJSON handles GET /api/export/json
func (h *TransferHandler) ExportJSON(c *gin.Context) {
	h.export(c, "application/json", "json", func(ctx *gin.Context) ([]byte, error) {
		return h.svc.ExportJSON(requestContext(ctx))
	})
}

// ExportCSV handles GET /api/export/csv
func (h *TransferHandler) ExportCSV(c *gin.Context) {
	h.export(c, "text/csv", "csv", func(ctx *gin.Context) ([]byte, error) {
		return h.svc.ExportCSV(requestContext(ctx))
	})
}

// ExportURIList handles GET /api/export/uris
func (h *TransferHandler) ExportURIList(c *gin.Context) {
	h.export(c, "text/plain; charset=utf-8", "txt", func(ctx *gin.Context) ([]byte, error) {
		return h.svc.ExportURIList(requestContext(ctx))
	})
}

// ExportQRArchive handles GET /api/export/qr.zip
func (h *TransferHandler) ExportQRArchive(c *gin.Context) {
	h.export(c, "application/zip", "qr.zip", func(ctx *gin.Context) ([]byte, error) {
		return h.svc.ExportQRArchive(requestContext(ctx))
	})
}

// ExportArchive handles GET /api/export/archive.zip
func (h *TransferHandler) ExportArchive(c *gin.Context) {
	h.export(c, "application/zip", "archive.zip", func(ctx *gin.Context) ([]byte, error) {
		return h.svc.ExportArchive(requestContext(ctx))
	})
}

func (h *TransferHandler) export(c *gin.Context, contentType, extension string, build func(*gin.Context) ([]byte, error)) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	data, err := build(c)
	if err != nil {
		if errors.Is(err, transfer.ErrEmptyVault) {
			response.Error(c, apperrors.NewBadRequest("vault is empty"))
			return
		}
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("otpdeck-%s.%s", time.Now().Format("20060102-150405"), extension)
	c.Writer.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}

// readUploadedImages gathers image bytes from every multipart file part,
// or the raw body when the request is not multipart.
func readUploadedImages(c *gin.Context) ([][]byte, error) {
	form, err := c.MultipartForm()
	if err == nil && form != nil {
		var images [][]byte
		for _, files := range form.File {
			for _, file := range files {
				f, err := file.Open()
				if err != nil {
					return nil, err
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return nil, err
				}
				if len(data) > 0 {
					images = append(images, data)
				}
			}
		}
		if len(images) == 0 {
			return nil, errors.New("multipart form carries no files")
		}
		return images, nil
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return [][]byte{data}, nil
}
