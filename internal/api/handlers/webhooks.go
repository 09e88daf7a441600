package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printbridge/internal/webhook"
)

type WebhookSender interface {
	Endpoints() []webhook.Endpoint
	SendTest(ctx context.Context, i int) error
}

type WebhookHandler struct {
	sender WebhookSender
}

type WebhookResponse struct {
	ID        int      `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	HasSecret bool     `json:"has_secret"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewWebhookHandler(sender WebhookSender) *WebhookHandler {
	return &WebhookHandler{sender: sender}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	endpoints := h.sender.Endpoints()
	out := make([]WebhookResponse, 0, len(endpoints))
	for i, ep := range endpoints {
		events := make([]string, 0, len(ep.Events))
		for _, e := range ep.Events {
			events = append(events, string(e))
		}
		out = append(out, WebhookResponse{
			ID:        i,
			URL:       ep.URL,
			Events:    events,
			HasSecret: ep.Secret != "",
		})
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": out, "count": len(out)})
}

// TestWebhook delivers a test event to one endpoint. Delivery failures are
// reported in the body with 200; only an unknown id is a client error.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid webhook id", Field: "id"})
		return
	}

	err = h.sender.SendTest(c.Request.Context(), id)
	switch {
	case errors.Is(err, webhook.ErrUnknownEndpoint):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "webhook not found"})
	case err != nil:
		c.JSON(http.StatusOK, TestWebhookResponse{Success: false, Message: fmt.Sprintf("delivery failed: %v", err)})
	default:
		c.JSON(http.StatusOK, TestWebhookResponse{Success: true, Message: "webhook test successful"})
	}
}
