package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/core"
	"github.com/orrn/printbridge/internal/escpos"
	"github.com/orrn/printbridge/internal/logger"
)

type StatusResponse struct {
	Address  string         `json:"address"`
	State    string         `json:"state"`
	CanPrint bool           `json:"can_print"`
	Status   *escpos.Status `json:"status"`
}

func (h *PrintHandler) PrinterStatus(c *gin.Context) {
	ip := c.Query("ip")
	if ip == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ip is required", Field: "ip"})
		return
	}

	ctx, cancel := jobContext(c, h.timeout)
	defer cancel()

	status, err := h.printer.CheckStatus(ctx, ip)
	if err != nil {
		h.respondStatusError(c, ip, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Address:  ip,
		State:    status.State(),
		CanPrint: status.CanPrint(),
		Status:   status,
	})
}

func (h *PrintHandler) respondStatusError(c *gin.Context, ip string, err error) {
	if ve, ok := asValidation(err); ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ve.Message, Field: ve.Field})
		return
	}
	if isBusy(err) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}

	stage, reason := core.FailureDetails(err)
	logger.FromContext(c, h.log).Warn("status check failed", zap.String("printer", ip), zap.Error(err))
	c.JSON(http.StatusBadGateway, JobErrorResponse{
		Error:  err.Error(),
		Stage:  string(stage),
		Reason: reason,
	})
}
