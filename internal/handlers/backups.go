package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/otpdeck/otpdeck/internal/backup"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// BackupHandler manages vault snapshots over HTTP.
type BackupHandler struct {
	svc *backup.Service
}

func NewBackupHandler(svc *backup.Service) *BackupHandler {
	return &BackupHandler{svc: svc}
}

func backupError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backup.ErrSnapshotNotFound):
		return apperrors.ErrSnapshotNotFound
	case errors.Is(err, backup.ErrBadSnapshotName):
		return apperrors.NewBadRequest("invalid snapshot name")
	case errors.Is(err, backup.ErrKeyMismatch):
		return apperrors.ErrKeyMismatch
	case errors.Is(err, backup.ErrNoSnapshots):
		return apperrors.ErrSnapshotNotFound
	default:
		return err
	}
}

// List handles GET /api/backups
func (h *BackupHandler) List(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	infos, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, backupError(err))
		return
	}

	response.Success(c, http.StatusOK, infos)
}

// Create handles POST /api/backups
func (h *BackupHandler) Create(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	info, err := h.svc.Snapshot(requestContext(c))
	if err != nil {
		response.Error(c, backupError(err))
		return
	}

	response.Success(c, http.StatusCreated, info)
}

type restoreRequest struct {
	Name string `json:"name"`
}

// Restore handles POST /api/backups/restore. An empty name restores the
// newest snapshot.
func (h *BackupHandler) Restore(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid restore payload"))
		return
	}

	ctx := requestContext(c)

	var (
		result *backup.RestoreResult
		err    error
	)
	if req.Name == "" {
		result, err = h.svc.RestoreNewest(ctx)
	} else {
		result, err = h.svc.Restore(ctx, req.Name)
	}
	if err != nil {
		response.Error(c, backupError(err))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Delete handles DELETE /api/backups/:name
func (h *BackupHandler) Delete(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	if err := h.svc.Delete(requestContext(c), c.Param("name")); err != nil {
		response.Error(c, backupError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
