// Package api wires the HTTP surface of the bridge.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/api/handlers"
	"github.com/orrn/printbridge/internal/api/middleware"
	"github.com/orrn/printbridge/internal/config"
	"github.com/orrn/printbridge/internal/logger"
)

// Deps are the services behind the routes. Journal, Archiver, Webhooks and
// Events are optional; their routes are only registered when set.
type Deps struct {
	Config   *config.Config
	Printer  handlers.Printer
	Journal  handlers.JobStore
	Archiver handlers.Archiver
	Webhooks handlers.WebhookSender
	Events   http.Handler
	Log      *zap.Logger
}

func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Config == nil || d.Printer == nil {
		return nil, errors.New("api: config and printer are required")
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := d.Config

	middleware.UseJSONFieldNames()

	r := gin.New()
	r.Use(
		logger.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)),
		middleware.BodyLimit(cfg.Server.MaxBodyBytes),
	)

	auth := middleware.NewAuth(cfg.Auth)
	settings := handlers.NewSettingsHandler(cfg)
	printing := handlers.NewPrintHandler(d.Printer, cfg.Server.JobTimeout, log)

	r.GET("/ping", settings.Ping)
	r.POST("/auth/token", auth.TokenHandler)

	api := r.Group("/", auth.RequireAuth())
	api.POST("/print", printing.Print)
	api.GET("/printers/status", printing.PrinterStatus)
	api.GET("/config", settings.GetConfig)

	if d.Journal != nil {
		jobs := handlers.NewJobHandler(d.Journal, d.Printer, cfg.Printer.DevicePort, cfg.Server.JobTimeout, log)
		api.GET("/jobs", jobs.ListJobs)
		api.GET("/jobs/stats", jobs.Stats)
		api.GET("/jobs/:id", jobs.GetJob)
		api.POST("/jobs/:id/reprint", jobs.ReprintJob)
	}

	if d.Archiver != nil {
		archives := handlers.NewArchiveHandler(d.Archiver, log)
		api.GET("/archives", archives.ListArchives)
		api.POST("/archives/run", archives.TriggerArchive)
	}

	if d.Webhooks != nil {
		hooks := handlers.NewWebhookHandler(d.Webhooks)
		api.GET("/webhooks", hooks.ListWebhooks)
		api.POST("/webhooks/:id/test", hooks.TestWebhook)
	}

	if d.Events != nil {
		api.GET("/events", gin.WrapH(d.Events))
	}

	return r, nil
}

// NewServer returns the listener for h with the configured timeouts.
func NewServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
