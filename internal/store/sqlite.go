// Copyright 2025 James Ross
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
)

const sqliteTracker = `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`

// SQLiteStore is the embedded, single-binary backend. It opens the
// database with WAL journaling and a busy-timeout pragma, matching the
// concurrency notes for file-backed deployments.
type SQLiteStore struct {
	db            *sql.DB
	compressAbove int
}

// OpenSQLite opens (and migrates) a SQLite-backed store. dsn is a plain
// filesystem path (e.g. "./jobqueue.db" or ":memory:"). compressAbove
// configures the payload-compression threshold in bytes; 0 disables it.
func OpenSQLite(ctx context.Context, dsn string, busyTimeoutMS int, maxOpen, maxIdle, compressAbove int) (*SQLiteStore, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate", dsn, busyTimeoutMS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := applyMigrations(ctx, db, sqliteMigrations, "migrations/sqlite", sqliteTracker,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`,
		`INSERT INTO schema_migrations (version) VALUES (?)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, compressAbove: compressAbove}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Insert(ctx context.Context, job Job) error {
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_queue (id, type, data, source, metadata, status, priority, retry_count, max_retries,
			created_at, scheduled_for, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, string(compressIfLarge(job.Data, s.compressAbove)), nullableStr(job.Source), string(meta), string(job.Status),
		job.Priority, job.RetryCount, job.MaxRetries, job.CreatedAt, job.ScheduledFor, nullableStr(job.DeduplicationKey))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindDedupMatch(ctx context.Context, jobType, deduplicationKey string) (DedupMatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status FROM job_queue
		WHERE type = ? AND dedup_key IS ? AND status IN ('pending', 'processing')
		ORDER BY created_at DESC LIMIT 1`,
		jobType, nullableStr(deduplicationKey))
	var m DedupMatch
	var status string
	if err := row.Scan(&m.ID, &status); err != nil {
		if err == sql.ErrNoRows {
			return DedupMatch{}, ErrNotFound
		}
		return DedupMatch{}, err
	}
	m.Status = Status(status)
	return m, nil
}

func (s *SQLiteStore) MarkReplaced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'failed', last_error = 'Replaced', completed_at = (strftime('%s','now')*1000)
		WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Coalesce(ctx context.Context, id string, now int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE job_queue SET scheduled_for = ? WHERE id = ? AND status = 'pending'`, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Dequeue opens its transaction with _txlock=immediate (set on the DSN in
// OpenSQLite), which acquires the RESERVED lock at BEGIN rather than on
// first write. That gives the select-then-update below the same
// read-your-own-selection guarantee Postgres gets from
// "UPDATE ... RETURNING" under concurrent dequeuers.
func (s *SQLiteStore) Dequeue(ctx context.Context, now int64, excludeTypes []string) (Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, err
	}
	defer tx.Rollback()

	query := `SELECT id, type, data, result, source, metadata, status, priority, retry_count, max_retries,
		last_error, created_at, scheduled_for, started_at, completed_at, dedup_key
		FROM job_queue WHERE status = 'pending' AND scheduled_for <= ?`
	args := []interface{}{now}
	if len(excludeTypes) > 0 {
		placeholders := make([]string, len(excludeTypes))
		for i, t := range excludeTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type NOT IN (%s)", strings.Join(placeholders, ","))
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT 1`

	job, err := scanJobRow(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE job_queue SET status = 'processing', started_at = ? WHERE id = ?`, now, job.ID); err != nil {
		return Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, err
	}
	job.Status = StatusProcessing
	job.StartedAt = now
	return job, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, result []byte, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'completed', result = ?, completed_at = ? WHERE id = ?`,
		string(result), now, id)
	return err
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, errMsg string, now int64) (Status, error) {
	row := s.db.QueryRowContext(ctx, `SELECT retry_count, max_retries FROM job_queue WHERE id = ?`, id)
	var retryCount, maxRetries int
	if err := row.Scan(&retryCount, &maxRetries); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	if retryCount < maxRetries {
		retryCount++
		scheduledFor := now + backoffMS(retryCount)
		_, err := s.db.ExecContext(ctx, `
			UPDATE job_queue SET status = 'pending', retry_count = ?, last_error = ?, scheduled_for = ?, started_at = NULL
			WHERE id = ?`, retryCount, errMsg, scheduledFor, id)
		if err != nil {
			return "", err
		}
		return StatusPending, nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'failed', retry_count = ?, last_error = ?, completed_at = ?
		WHERE id = ?`, retryCount, errMsg, now, id)
	if err != nil {
		return "", err
	}
	return StatusFailed, nil
}

func (s *SQLiteStore) FailTerminal(ctx context.Context, id string, errMsg string, now int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'failed', last_error = ?, completed_at = ?
		WHERE id = ?`, errMsg, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, data []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE job_queue SET data = ? WHERE id = ?`, string(compressIfLarge(data, s.compressAbove)), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, data, result, source, metadata, status, priority, retry_count, max_retries,
		last_error, created_at, scheduled_for, started_at, completed_at, dedup_key
		FROM job_queue WHERE id = ?`, id)
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	return job, err
}

func (s *SQLiteStore) GetByEntityID(ctx context.Context, jsonPathExpr, entityID string) (Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, data, result, source, metadata, status, priority, retry_count, max_retries,
		last_error, created_at, scheduled_for, started_at, completed_at, dedup_key
		FROM job_queue ORDER BY created_at DESC`)
	if err != nil {
		return Job{}, err
	}
	defer rows.Close()
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return Job{}, err
		}
		if matchesJSONPath(job.Data, jsonPathExpr, entityID) {
			return job, nil
		}
	}
	return Job{}, ErrNotFound
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			COUNT(*)
		FROM job_queue`)
	var st Stats
	var pending, processing, failed, completed sql.NullInt64
	if err := row.Scan(&pending, &processing, &failed, &completed, &st.Total); err != nil {
		return Stats{}, err
	}
	st.Pending, st.Processing, st.Failed, st.Completed = pending.Int64, processing.Int64, failed.Int64, completed.Int64
	return st, nil
}

func (s *SQLiteStore) GetActiveJobs(ctx context.Context, types []string) ([]Job, error) {
	query := `SELECT id, type, data, result, source, metadata, status, priority, retry_count, max_retries,
		last_error, created_at, scheduled_for, started_at, completed_at, dedup_key
		FROM job_queue WHERE status IN ('pending', 'processing')`
	args := []interface{}{}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Cleanup(ctx context.Context, olderThanMs int64, now int64) (int64, error) {
	cutoff := now - olderThanMs
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM job_queue WHERE status IN ('completed', 'failed') AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ResetStuckJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'pending', started_at = NULL WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ResetStaleProcessing(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// backoffMS implements the shared exponential backoff schedule:
// min(1000*2^retryCount, 60000).
func backoffMS(retryCount int) int64 {
	delay := int64(1000)
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= 60000 {
			return 60000
		}
	}
	if delay > 60000 {
		return 60000
	}
	return delay
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobRow(row *sql.Row) (Job, error) {
	return scanJob(row)
}

func scanJobRows(rows *sql.Rows) (Job, error) {
	return scanJob(rows)
}

func scanJob(sc rowScanner) (Job, error) {
	var (
		job                                   Job
		data, metaRaw                         string
		status                                string
		result, source, lastError, dedupKey   sql.NullString
		startedAt, completedAt                sql.NullInt64
	)
	if err := sc.Scan(&job.ID, &job.Type, &data, &result, &source, &metaRaw, &status, &job.Priority,
		&job.RetryCount, &job.MaxRetries, &lastError, &job.CreatedAt, &job.ScheduledFor, &startedAt, &completedAt, &dedupKey); err != nil {
		return Job{}, err
	}
	decompressed, err := decompressIfNeeded([]byte(data))
	if err != nil {
		return Job{}, fmt.Errorf("decompress data: %w", err)
	}
	job.Data = decompressed
	job.Status = Status(status)
	job.Result = []byte(result.String)
	job.Source = source.String
	job.LastError = lastError.String
	job.DeduplicationKey = dedupKey.String
	job.StartedAt = startedAt.Int64
	job.CompletedAt = completedAt.Int64
	if err := json.Unmarshal([]byte(metaRaw), &job.Metadata); err != nil {
		return Job{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return job, nil
}
