package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/core"
	"github.com/orrn/printbridge/internal/db"
	"github.com/orrn/printbridge/internal/logger"
)

const defaultStatsWindow = 24 * time.Hour

// JobStore is the read side of the job journal.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*db.JobRecord, error)
	ListJobs(ctx context.Context, f db.JobFilter) ([]*db.JobRecord, error)
	Stats(ctx context.Context, since time.Time) (*db.JobStats, error)
}

type ListJobsQuery struct {
	IP     string `form:"ip"`
	Status string `form:"status" binding:"omitempty,oneof=completed failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=0,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type StatsQuery struct {
	Since string `form:"since"`
}

type JobHandler struct {
	store      JobStore
	printer    Printer
	devicePort int
	timeout    time.Duration
	log        *zap.Logger
}

func NewJobHandler(store JobStore, printer Printer, devicePort int, timeout time.Duration, log *zap.Logger) *JobHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobHandler{
		store:      store,
		printer:    printer,
		devicePort: devicePort,
		timeout:    timeout,
		log:        log,
	}
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBindError(c, err)
		return
	}

	if query.Limit <= 0 {
		query.Limit = db.DefaultListLimit
	}

	filter := db.JobFilter{
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if query.IP != "" {
		addr, err := core.NormalizeAddress(query.IP, h.devicePort)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: "ip"})
			return
		}
		filter.PrinterAddress = addr
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		logger.FromContext(c, h.log).Error("failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  query.Limit,
		"offset": query.Offset,
		"count":  len(jobs),
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// Stats reports totals since the `since` query parameter (RFC 3339),
// defaulting to the last 24 hours.
func (h *JobHandler) Stats(c *gin.Context) {
	var query StatsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBindError(c, err)
		return
	}

	since := time.Now().Add(-defaultStatsWindow)
	if query.Since != "" {
		t, err := time.Parse(time.RFC3339, query.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "since must be an RFC 3339 timestamp", Field: "since"})
			return
		}
		since = t
	}

	stats, err := h.store.Stats(c.Request.Context(), since)
	if err != nil {
		logger.FromContext(c, h.log).Error("failed to compute job stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to compute job stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ReprintJob prints the journalled text of a previous job again as a new
// job.
func (h *JobHandler) ReprintJob(c *gin.Context) {
	orig, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx, cancel := jobContext(c, h.timeout)
	defer cancel()

	result, err := h.printer.Print(ctx, core.PrintJob{
		PrinterAddress: orig.PrinterAddress,
		Text:           orig.Text,
		QRURL:          orig.QRURL,
		RequestID:      logger.GetRequestID(c),
		SubmittedBy:    c.ClientIP(),
	})
	if err != nil {
		respondJobError(c, h.log, result, err)
		return
	}

	logger.FromContext(c, h.log).Info("job reprinted",
		zap.String("job_id", result.JobID),
		zap.String("reprint_of", orig.ID),
	)
	resp := printResponse(result)
	resp.ReprintOf = orig.ID
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) lookup(c *gin.Context) (*db.JobRecord, bool) {
	id := c.Param("id")
	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
			return nil, false
		}
		logger.FromContext(c, h.log).Error("failed to get job", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get job"})
		return nil, false
	}
	return job, true
}
