package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort       = 3001
	DefaultDevicePort = 9100
	DefaultQRURL      = "https://www.instagram.com/"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Printer  PrinterConfig  `yaml:"printer"`
	Journal  JournalConfig  `yaml:"journal"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig is the HTTP listener. JobTimeout bounds a print or status
// request, lock wait included, and must leave room under WriteTimeout for
// the response to be written.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type PrinterConfig struct {
	DevicePort     int           `yaml:"device_port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	StatusTimeout  time.Duration `yaml:"status_timeout"`
	StatusCheck    bool          `yaml:"status_check"`
	Serialize      bool          `yaml:"serialize"`
	LogoPath       string        `yaml:"logo_path"`
	LogoMaxWidth   int           `yaml:"logo_max_width"`
	DefaultQRURL   string        `yaml:"default_qr_url"`
	QRSize         int           `yaml:"qr_size"`
	QRErrorLevel   string        `yaml:"qr_error_level"`
	MaxLineLength  int           `yaml:"max_line_length"`
	MaxTextBytes   int           `yaml:"max_text_bytes"`
	CodePage       string        `yaml:"code_page"`
	DryRun         bool          `yaml:"dry_run"`
	DryRunDir      string        `yaml:"dry_run_dir"`
}

// JournalConfig controls the SQLite job journal. An empty Path disables it.
type JournalConfig struct {
	Path          string `yaml:"path"`
	ArchivePath   string `yaml:"archive_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type AuthConfig struct {
	APIKeyHash string        `yaml:"api_key_hash"`
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
}

func (a AuthConfig) Enabled() bool {
	return a.APIKeyHash != ""
}

type WebhooksConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  time.Duration     `yaml:"retry_delay"`
	Timeout     time.Duration     `yaml:"timeout"`
	WorkerCount int               `yaml:"worker_count"`
	QueueSize   int               `yaml:"queue_size"`
}

type WebhookEndpoint struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type BackupConfig struct {
	Dir          string `yaml:"dir"`
	Pattern      string `yaml:"pattern"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			JobTimeout:     25 * time.Second,
			MaxBodyBytes:   1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Printer: PrinterConfig{
			DevicePort:     DefaultDevicePort,
			ConnectTimeout: 5 * time.Second,
			WriteTimeout:   5 * time.Second,
			StatusTimeout:  1 * time.Second,
			Serialize:      true,
			LogoPath:       "./assets/logo.png",
			LogoMaxWidth:   384,
			DefaultQRURL:   DefaultQRURL,
			QRSize:         6,
			QRErrorLevel:   "M",
			MaxLineLength:  48,
			MaxTextBytes:   16 * 1024,
			CodePage:       "cp858",
		},
		Journal: JournalConfig{
			Path:          "./data/bridge.db",
			ArchivePath:   "./data/archives",
			RetentionDays: 30,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Backup: BackupConfig{
			Dir:     "./data/archives",
			Pattern: "*.jsonl.gz",
			Prefix:  "print-bridge",
			Region:  "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the YAML file at configPath over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// LoadFromEnv returns the defaults with environment overrides applied.
func LoadFromEnv() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("BRIDGE_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.JobTimeout = d
		}
	}

	if v := os.Getenv("BRIDGE_PRINTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Printer.DevicePort = port
		}
	}

	if v := os.Getenv("BRIDGE_LOGO_PATH"); v != "" {
		cfg.Printer.LogoPath = v
	}

	if v := os.Getenv("BRIDGE_DEFAULT_QR_URL"); v != "" {
		cfg.Printer.DefaultQRURL = v
	}

	if v := os.Getenv("BRIDGE_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Printer.DryRun = b
		}
	}

	if v := os.Getenv("BRIDGE_DRY_RUN_DIR"); v != "" {
		cfg.Printer.DryRunDir = v
	}

	if v, ok := os.LookupEnv("BRIDGE_DB_PATH"); ok {
		cfg.Journal.Path = v
	}

	if v := os.Getenv("BRIDGE_ARCHIVE_PATH"); v != "" {
		cfg.Journal.ArchivePath = v
		cfg.Backup.Dir = v
	}

	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("BRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("BRIDGE_API_KEY_HASH"); v != "" {
		cfg.Auth.APIKeyHash = v
	}

	if v := os.Getenv("BRIDGE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := os.Getenv("BRIDGE_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("BRIDGE_S3_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("BRIDGE_S3_PREFIX"); v != "" {
		cfg.Backup.Prefix = v
	}
	if v := os.Getenv("BRIDGE_S3_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("BRIDGE_S3_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("BRIDGE_S3_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("BRIDGE_S3_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.JobTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	if c.Server.WriteTimeout > 0 && (c.Server.JobTimeout <= 0 || c.Server.JobTimeout >= c.Server.WriteTimeout) {
		return fmt.Errorf("server job timeout (%s) must be positive and below write timeout (%s)",
			c.Server.JobTimeout, c.Server.WriteTimeout)
	}

	if c.Printer.DevicePort < 1 || c.Printer.DevicePort > 65535 {
		return fmt.Errorf("printer device port must be between 1 and 65535, got %d", c.Printer.DevicePort)
	}

	if c.Printer.ConnectTimeout <= 0 {
		return fmt.Errorf("printer connect timeout must be positive")
	}

	if c.Printer.WriteTimeout <= 0 {
		return fmt.Errorf("printer write timeout must be positive")
	}

	if c.Printer.StatusTimeout < 0 {
		return fmt.Errorf("printer status timeout must be non-negative")
	}

	if c.Printer.DefaultQRURL == "" {
		return fmt.Errorf("default qr url is required")
	}

	if c.Printer.QRSize < 1 || c.Printer.QRSize > 16 {
		return fmt.Errorf("qr size must be between 1 and 16, got %d", c.Printer.QRSize)
	}

	validLevels := map[string]bool{"L": true, "M": true, "Q": true, "H": true}
	if !validLevels[strings.ToUpper(c.Printer.QRErrorLevel)] {
		return fmt.Errorf("invalid qr error level: %s (valid: L, M, Q, H)", c.Printer.QRErrorLevel)
	}

	if c.Printer.LogoMaxWidth < 8 {
		return fmt.Errorf("logo max width must be at least 8 dots")
	}

	if c.Printer.MaxLineLength < 0 || c.Printer.MaxTextBytes < 0 {
		return fmt.Errorf("text limits must be non-negative")
	}

	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal retention days must be non-negative")
	}

	if c.Auth.Enabled() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required when an api key hash is set")
	}

	for i, ep := range c.Webhooks.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("webhook endpoint %d has no url", i)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
