package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printbridge/internal/config"
)

type SettingsHandler struct {
	config *config.Config
}

// ConfigResponse is the effective configuration minus secrets.
type ConfigResponse struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	MaxBodyBytes   int64    `json:"max_body_bytes"`
	JobTimeout     string   `json:"job_timeout"`

	DevicePort     int    `json:"device_port"`
	ConnectTimeout string `json:"connect_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	StatusTimeout  string `json:"status_timeout"`
	StatusCheck    bool   `json:"status_check"`
	Serialize      bool   `json:"serialize"`
	LogoPath       string `json:"logo_path"`
	LogoMaxWidth   int    `json:"logo_max_width"`
	DefaultQRURL   string `json:"default_qr_url"`
	QRSize         int    `json:"qr_size"`
	QRErrorLevel   string `json:"qr_error_level"`
	MaxLineLength  int    `json:"max_line_length"`
	MaxTextBytes   int    `json:"max_text_bytes"`
	CodePage       string `json:"code_page"`
	DryRun         bool   `json:"dry_run"`

	JournalEnabled   bool   `json:"journal_enabled"`
	ArchivePath      string `json:"archive_path"`
	RetentionDays    int    `json:"retention_days"`
	AuthEnabled      bool   `json:"auth_enabled"`
	WebhookEndpoints int    `json:"webhook_endpoints"`
	LogLevel         string `json:"log_level"`
	LogFormat        string `json:"log_format"`
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

func (h *SettingsHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SettingsHandler) GetConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, ConfigResponse{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		JobTimeout:     cfg.Server.JobTimeout.String(),

		DevicePort:     cfg.Printer.DevicePort,
		ConnectTimeout: cfg.Printer.ConnectTimeout.String(),
		WriteTimeout:   cfg.Printer.WriteTimeout.String(),
		StatusTimeout:  cfg.Printer.StatusTimeout.String(),
		StatusCheck:    cfg.Printer.StatusCheck,
		Serialize:      cfg.Printer.Serialize,
		LogoPath:       cfg.Printer.LogoPath,
		LogoMaxWidth:   cfg.Printer.LogoMaxWidth,
		DefaultQRURL:   cfg.Printer.DefaultQRURL,
		QRSize:         cfg.Printer.QRSize,
		QRErrorLevel:   cfg.Printer.QRErrorLevel,
		MaxLineLength:  cfg.Printer.MaxLineLength,
		MaxTextBytes:   cfg.Printer.MaxTextBytes,
		CodePage:       cfg.Printer.CodePage,
		DryRun:         cfg.Printer.DryRun,

		JournalEnabled:   cfg.Journal.Path != "",
		ArchivePath:      cfg.Journal.ArchivePath,
		RetentionDays:    cfg.Journal.RetentionDays,
		AuthEnabled:      cfg.Auth.Enabled(),
		WebhookEndpoints: len(cfg.Webhooks.Endpoints),
		LogLevel:         cfg.Logging.Level,
		LogFormat:        cfg.Logging.Format,
	})
}
