package db

import "time"

// JobRecord is one journalled job outcome.
type JobRecord struct {
	ID             string     `json:"id"`
	PrinterAddress string     `json:"printer_address"`
	Text           string     `json:"text"`
	QRURL          string     `json:"qr_url"`
	Status         string     `json:"status"`
	FailedStage    string     `json:"failed_stage,omitempty"`
	ErrorReason    string     `json:"error_reason,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	LogoPrinted    bool       `json:"logo_printed"`
	BytesWritten   int        `json:"bytes_written"`
	DurationMs     int64      `json:"duration_ms"`
	RequestID      string     `json:"request_id,omitempty"`
	SubmittedBy    string     `json:"submitted_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type JobFilter struct {
	PrinterAddress string
	Status         string
	Limit          int
	Offset         int
}

type PrinterStats struct {
	PrinterAddress string `json:"printer_address"`
	Total          int    `json:"total"`
	Completed      int    `json:"completed"`
	Failed         int    `json:"failed"`
}

type JobStats struct {
	Since     time.Time      `json:"since"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Printers  []PrinterStats `json:"printers"`
}
