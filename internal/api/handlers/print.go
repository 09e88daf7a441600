package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/core"
	"github.com/orrn/printbridge/internal/escpos"
	"github.com/orrn/printbridge/internal/logger"
)

// Printer is the part of core.Bridge the handlers drive.
type Printer interface {
	Print(ctx context.Context, job core.PrintJob) (*core.Result, error)
	CheckStatus(ctx context.Context, address string) (*escpos.Status, error)
}

type PrintRequest struct {
	IP    string `json:"ip" binding:"required"`
	Texto string `json:"texto" binding:"required"`
	QRURL string `json:"qrUrl"`
}

type PrintResponse struct {
	OK          bool   `json:"ok"`
	JobID       string `json:"jobId"`
	LogoPrinted bool   `json:"logoPrinted"`
	DeviceState string `json:"deviceState,omitempty"`
	ReprintOf   string `json:"reprintOf,omitempty"`
}

type PrintHandler struct {
	printer Printer
	timeout time.Duration
	log     *zap.Logger
}

// NewPrintHandler bounds each job, including the wait for a busy printer,
// by timeout. Zero means only the request context applies.
func NewPrintHandler(printer Printer, timeout time.Duration, log *zap.Logger) *PrintHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PrintHandler{printer: printer, timeout: timeout, log: log}
}

func (h *PrintHandler) Print(c *gin.Context) {
	var req PrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	ctx, cancel := jobContext(c, h.timeout)
	defer cancel()

	result, err := h.printer.Print(ctx, core.PrintJob{
		PrinterAddress: req.IP,
		Text:           req.Texto,
		QRURL:          req.QRURL,
		RequestID:      logger.GetRequestID(c),
		SubmittedBy:    c.ClientIP(),
	})
	if err != nil {
		respondJobError(c, h.log, result, err)
		return
	}

	c.JSON(http.StatusOK, printResponse(result))
}

func printResponse(r *core.Result) PrintResponse {
	resp := PrintResponse{OK: true, JobID: r.JobID, LogoPrinted: r.LogoPrinted}
	if r.DeviceStatus != nil {
		resp.DeviceState = r.DeviceStatus.State()
	}
	return resp
}

func jobContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}
