package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/api/middleware"
	"github.com/orrn/printbridge/internal/core"
	"github.com/orrn/printbridge/internal/logger"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type JobErrorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	JobID  string `json:"jobId,omitempty"`
}

// respondBindError maps a request binding failure to 400 (or 413 when the
// body limit was hit).
func respondBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		return
	}
	if field, msg, ok := middleware.FieldError(err); ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Field: field})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "request body must be a JSON object"})
}

// respondJobError writes the response for a failed Print call.
func respondJobError(c *gin.Context, log *zap.Logger, result *core.Result, err error) {
	if ve, ok := asValidation(err); ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ve.Message, Field: ve.Field})
		return
	}

	jobID := ""
	if result != nil {
		jobID = result.JobID
	}

	if isBusy(err) {
		c.JSON(http.StatusServiceUnavailable, JobErrorResponse{Error: err.Error(), JobID: jobID})
		return
	}

	stage, reason := core.FailureDetails(err)
	logger.FromContext(c, log).Error("print request failed",
		zap.String("job_id", jobID),
		zap.String("stage", string(stage)),
		zap.String("reason", reason),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, JobErrorResponse{
		Error:  err.Error(),
		Stage:  string(stage),
		Reason: reason,
		JobID:  jobID,
	})
}

func asValidation(err error) (*core.ValidationError, bool) {
	var ve *core.ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

func isBusy(err error) bool {
	return errors.Is(err, core.ErrPrinterBusy)
}
