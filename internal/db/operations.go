package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

var ErrJobNotFound = errors.New("job not found")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	j := &JobRecord{}
	var completed sql.NullTime
	if err := row.Scan(
		&j.ID, &j.PrinterAddress, &j.Text, &j.QRURL, &j.Status,
		&j.FailedStage, &j.ErrorReason, &j.ErrorMessage,
		&j.LogoPrinted, &j.BytesWritten, &j.DurationMs,
		&j.RequestID, &j.SubmittedBy, &j.CreatedAt, &completed,
	); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return j, nil
}

func (s *Store) RecordJob(ctx context.Context, j *JobRecord) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	j.CreatedAt = j.CreatedAt.UTC()

	var completed any
	if j.CompletedAt != nil {
		completed = j.CompletedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, InsertJob,
		j.ID, j.PrinterAddress, j.Text, j.QRURL, j.Status,
		j.FailedStage, j.ErrorReason, j.ErrorMessage,
		j.LogoPrinted, j.BytesWritten, j.DurationMs,
		j.RequestID, j.SubmittedBy, j.CreatedAt, completed)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// ListJobs returns journalled jobs newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]*JobRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.PrinterAddress != "" {
		where = append(where, "printer_address = ?")
		args = append(args, f.PrinterAddress)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := ListJobsBase
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*JobRecord, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Stats counts jobs created at or after since, overall and per printer.
func (s *Store) Stats(ctx context.Context, since time.Time) (*JobStats, error) {
	rows, err := s.db.QueryContext(ctx, StatsByPrinter, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	stats := &JobStats{Since: since.UTC(), Printers: make([]PrinterStats, 0)}
	for rows.Next() {
		var p PrinterStats
		if err := rows.Scan(&p.PrinterAddress, &p.Total, &p.Completed, &p.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		stats.Total += p.Total
		stats.Completed += p.Completed
		stats.Failed += p.Failed
		stats.Printers = append(stats.Printers, p)
	}
	return stats, rows.Err()
}

// JobsBefore returns up to limit jobs created before cutoff, oldest first.
// A limit of zero or less returns all of them.
func (s *Store) JobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, JobsBefore, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query old jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJobs removes the given jobs in one transaction.
func (s *Store) DeleteJobs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, DeleteJobByID)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete job %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}
