package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CronLogRepository handles scheduled run history.
type CronLogRepository struct {
	pool *pgxpool.Pool
}

// Insert records a cron run, assigning an id when unset.
func (r *CronLogRepository) Insert(ctx context.Context, l *CronLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.ExecutedAt.IsZero() {
		l.ExecutedAt = time.Now()
	}

	query := `
		INSERT INTO cron_logs (id, executed_at, status, plays_saved, error_message)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, l.ID, l.ExecutedAt, l.Status, l.PlaysSaved, l.ErrorMessage)
	if err != nil {
		return fmt.Errorf("inserting cron log: %w", err)
	}
	return nil
}

// Since returns runs executed at or after t, newest first.
func (r *CronLogRepository) Since(ctx context.Context, t time.Time) ([]CronLog, error) {
	query := `
		SELECT id, executed_at, status, plays_saved, error_message
		FROM cron_logs
		WHERE executed_at >= $1
		ORDER BY executed_at DESC
	`
	rows, err := r.pool.Query(ctx, query, t)
	if err != nil {
		return nil, fmt.Errorf("querying cron logs: %w", err)
	}
	return scanCronLogs(rows)
}

// Recent returns the latest runs, newest first.
func (r *CronLogRepository) Recent(ctx context.Context, limit int) ([]CronLog, error) {
	query := `
		SELECT id, executed_at, status, plays_saved, error_message
		FROM cron_logs
		ORDER BY executed_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent cron logs: %w", err)
	}
	return scanCronLogs(rows)
}

func scanCronLogs(rows pgx.Rows) ([]CronLog, error) {
	defer rows.Close()

	var logs []CronLog
	for rows.Next() {
		var l CronLog
		if err := rows.Scan(&l.ID, &l.ExecutedAt, &l.Status, &l.PlaysSaved, &l.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning cron log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
