package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printbridge/internal/core"
)

// Journal records every finished job in the store.
type Journal struct {
	store   *Store
	log     *zap.Logger
	timeout time.Duration
}

func NewJournal(store *Store, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{store: store, log: log, timeout: 2 * time.Second}
}

func (j *Journal) JobFinished(ev core.JobEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.store.RecordJob(ctx, RecordFromEvent(ev)); err != nil {
		j.log.Error("failed to journal job", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

func RecordFromEvent(ev core.JobEvent) *JobRecord {
	finished := ev.Timestamp
	if finished.IsZero() {
		finished = time.Now()
	}
	finished = finished.UTC()

	return &JobRecord{
		ID:             ev.JobID,
		PrinterAddress: ev.PrinterAddress,
		Text:           ev.Text,
		QRURL:          ev.QRURL,
		Status:         string(ev.Status),
		FailedStage:    string(ev.FailedStage),
		ErrorReason:    ev.ErrorReason,
		ErrorMessage:   ev.ErrorMessage,
		LogoPrinted:    ev.LogoPrinted,
		BytesWritten:   ev.BytesWritten,
		DurationMs:     ev.DurationMs,
		RequestID:      ev.RequestID,
		SubmittedBy:    ev.SubmittedBy,
		CreatedAt:      finished.Add(-time.Duration(ev.DurationMs) * time.Millisecond),
		CompletedAt:    &finished,
	}
}
