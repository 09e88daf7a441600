package db

const jobColumns = `id, printer_address, text, qr_url, status, failed_stage, error_reason, error_message,
	logo_printed, bytes_written, duration_ms, request_id, submitted_by, created_at, completed_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	ListJobsBase = `SELECT ` + jobColumns + ` FROM print_jobs`

	JobsBefore = `
		SELECT ` + jobColumns + ` FROM print_jobs
		WHERE created_at < ? ORDER BY created_at ASC LIMIT ?
	`

	DeleteJobByID = `DELETE FROM print_jobs WHERE id = ?`

	StatsByPrinter = `
		SELECT printer_address,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM print_jobs
		WHERE created_at >= ?
		GROUP BY printer_address
		ORDER BY printer_address ASC
	`
)
