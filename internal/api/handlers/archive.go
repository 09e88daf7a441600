package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/archive"
	"github.com/orrn/printbridge/internal/logger"
)

type Archiver interface {
	ListArchives() ([]*archive.ArchiveFile, error)
	RunArchive(ctx context.Context) (*archive.ArchiveFile, error)
	RetentionDays() int
}

type ArchiveHandler struct {
	archiver Archiver
	log      *zap.Logger
}

func NewArchiveHandler(archiver Archiver, log *zap.Logger) *ArchiveHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ArchiveHandler{archiver: archiver, log: log}
}

type ArchiveListResponse struct {
	Archives      []*archive.ArchiveFile `json:"archives"`
	Count         int                    `json:"count"`
	RetentionDays int                    `json:"retention_days"`
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		logger.FromContext(c, h.log).Error("failed to list archives", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list archives"})
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}

	c.JSON(http.StatusOK, ArchiveListResponse{
		Archives:      archives,
		Count:         len(archives),
		RetentionDays: h.archiver.RetentionDays(),
	})
}

// TriggerArchive runs an archive pass now instead of waiting for the
// daily tick.
func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	file, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		logger.FromContext(c, h.log).Error("archive run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if file == nil {
		c.JSON(http.StatusOK, gin.H{"message": "nothing to archive"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "archive completed", "archive": file})
}
