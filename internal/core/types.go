package core

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/orrn/printbridge/internal/escpos"
)

// PrintJob is one receipt to print. It lives for a single request.
type PrintJob struct {
	ID             string
	PrinterAddress string
	Text           string
	QRURL          string
	RequestID      string
	SubmittedBy    string
}

type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateFailed       SessionState = "failed"
	StateCompleted    SessionState = "completed"
)

// Stage names one step of the device command sequence.
type Stage string

const (
	StageConnect  Stage = "connect"
	StageLogo     Stage = "logo"
	StageLogoFeed Stage = "logo_feed"
	StageQR       Stage = "qr"
	StageQRFeed   Stage = "qr_feed"
	StageAlign    Stage = "align"
	StageStyle    Stage = "style"
	StageText     Stage = "text"
	StageCut      Stage = "cut"
	StageStatus   Stage = "status"
)

// Result describes what a session did. Stages lists, in order, every
// command frame fully written to the device.
type Result struct {
	JobID        string
	Address      string
	State        SessionState
	LogoPrinted  bool
	Stages       []Stage
	BytesWritten int
	Duration     time.Duration
	DeviceStatus *escpos.Status
	Err          error
}

type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobEvent is published once per job that reached the device stage.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	PrinterAddress string    `json:"printer_address"`
	Status         JobStatus `json:"status"`
	FailedStage    Stage     `json:"failed_stage,omitempty"`
	ErrorReason    string    `json:"error_reason,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	LogoPrinted    bool      `json:"logo_printed"`
	BytesWritten   int       `json:"bytes_written"`
	DurationMs     int64     `json:"duration_ms"`
	DeviceState    string    `json:"device_state,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	// carried for the journal, not serialised to subscribers
	Text        string `json:"-"`
	QRURL       string `json:"-"`
	RequestID   string `json:"-"`
	SubmittedBy string `json:"-"`
}

// JobObserver is notified after every job. Implementations must not block.
type JobObserver interface {
	JobFinished(ev JobEvent)
}

// NormalizeAddress returns host:port for a printer address. A bare host
// (or IPv6 literal) gets defaultPort.
func NormalizeAddress(addr string, defaultPort int) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", &ValidationError{Field: "ip", Message: "ip is required"}
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" {
			return "", &ValidationError{Field: "ip", Message: "ip has no host"}
		}
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return "", &ValidationError{Field: "ip", Message: "ip has an invalid port"}
		}
		return net.JoinHostPort(host, port), nil
	}

	host := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(defaultPort)), nil
}
