// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/ManuGH/aperio/internal/jobs"
)

// SQLiteConfig defines operational parameters for the SQLite store.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int // 0 picks a CPU-scaled default
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{BusyTimeout: 5 * time.Second}
}

// transient-error retry policy for SQLITE_BUSY style failures
const (
	maxAttempts  = 3
	retryBackoff = 50 * time.Millisecond
)

// SQLiteStore implements Store on modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite initialises a SQLite connection pool with mandatory PRAGMAs and
// returns a ready store. The parent directory is created if missing.
func OpenSQLite(dbPath string, cfg SQLiteConfig) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// PRAGMAs go in the DSN so they apply to every connection in the pool.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = min(max(runtime.NumCPU()*4, 10), 100)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying pool for migrations and health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// isTransient reports whether the error is worth retrying: lock contention
// and dropped connections, never constraint or logic errors.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") ||
		strings.Contains(msg, "locked") ||
		strings.Contains(msg, "connection reset")
}

// withRetry runs op up to maxAttempts times with short exponential backoff on
// transient errors. Context cancellation aborts between attempts.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	backoff := retryBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// timeFormat is fixed-width so the TEXT columns sort lexicographically in
// time order; RFC3339Nano trims trailing fractional zeros, which breaks
// ORDER BY created_at and the updated_at cutoff comparison.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

const jobColumns = `id, url, priority, status, created_at, updated_at,
	downloaded_path, processed_path, error_message, processing_time_seconds`

func scanJob(row interface{ Scan(...any) error }) (*jobs.Job, error) {
	var (
		j                  jobs.Job
		createdAt, updated string
		downloaded, processed, errMsg sql.NullString
		procSecs           sql.NullInt64
		priority           int
		status             string
	)
	if err := row.Scan(&j.ID, &j.URL, &priority, &status, &createdAt, &updated,
		&downloaded, &processed, &errMsg, &procSecs); err != nil {
		return nil, err
	}
	j.Priority = jobs.Priority(priority)
	if st, ok := jobs.ParseStatus(status); ok {
		j.Status = st
	} else {
		j.Status = jobs.StatusFailed
	}
	var err error
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	j.DownloadedPath = downloaded.String
	j.ProcessedPath = processed.String
	j.ErrorMessage = errMsg.String
	j.ProcessingSeconds = procSecs.Int64
	return &j, nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *jobs.Job) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL)`,
			job.ID, job.URL, int(job.Priority), string(job.Status),
			formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	var job *jobs.Job
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		job = j
		return nil
	})
	return job, err
}

func (s *SQLiteStore) List(ctx context.Context, page, pageSize int, status *jobs.Status) ([]*jobs.Job, int64, error) {
	if pageSize < 1 || pageSize > 100 {
		return nil, 0, fmt.Errorf("page size must be in [1,100], got %d", pageSize)
	}
	if page < 0 {
		return nil, 0, fmt.Errorf("page must be >= 0, got %d", page)
	}

	where := ""
	args := []any{}
	if status != nil {
		where = ` WHERE status = ?`
		args = append(args, string(*status))
	}

	var out []*jobs.Job
	var total int64
	err := withRetry(ctx, func() error {
		out = out[:0]
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("count jobs: %w", err)
		}
		listArgs := append(append([]any{}, args...), pageSize, page*pageSize)
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			listArgs...)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to jobs.Status, mut Mutations) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		set := []string{"status = ?", "updated_at = ?"}
		args := []any{string(to), formatTime(time.Now())}
		if mut.DownloadedPath != nil {
			set = append(set, "downloaded_path = ?")
			args = append(args, *mut.DownloadedPath)
		}
		if mut.ProcessedPath != nil {
			set = append(set, "processed_path = ?")
			args = append(args, *mut.ProcessedPath)
		}
		if mut.ErrorMessage != nil {
			set = append(set, "error_message = ?")
			args = append(args, *mut.ErrorMessage)
		}
		if mut.ProcessingSeconds != nil {
			set = append(set, "processing_time_seconds = ?")
			args = append(args, *mut.ProcessingSeconds)
		}
		args = append(args, id, string(from))

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`, args...)
		if err != nil {
			return fmt.Errorf("transition job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transition rows affected: %w", err)
		}
		if n == 0 {
			// Distinguish a stale expectation from a missing row.
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("transition lookup: %w", err)
			}
			return ErrConflict
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) ClaimPending(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit < 1 {
		return nil, nil
	}
	var claimed []*jobs.Job
	err := withRetry(ctx, func() error {
		claimed = claimed[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ?
			 ORDER BY priority DESC, created_at ASC LIMIT ?`,
			string(jobs.StatusPending), limit)
		if err != nil {
			return fmt.Errorf("select pending: %w", err)
		}
		var batch []*jobs.Job
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			batch = append(batch, j)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		now := formatTime(time.Now())
		for _, j := range batch {
			res, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				string(jobs.StatusClaimed), now, j.ID, string(jobs.StatusPending))
			if err != nil {
				return fmt.Errorf("claim job %s: %w", j.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				j.Status = jobs.StatusClaimed
				claimed = append(claimed, j)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	var out []*jobs.Job
	err := withRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`)
			 ORDER BY priority DESC, created_at ASC`, args...)
		if err != nil {
			return fmt.Errorf("list by status: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) FindActiveByURL(ctx context.Context, url string) (*jobs.Job, error) {
	var job *jobs.Job
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs
			 WHERE url = ? AND status IN (?, ?, ?, ?)
			 ORDER BY created_at DESC LIMIT 1`,
			url,
			string(jobs.StatusPending), string(jobs.StatusClaimed),
			string(jobs.StatusDownloading), string(jobs.StatusProcessing))
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find active by url: %w", err)
		}
		job = j
		return nil
	})
	return job, err
}

func (s *SQLiteStore) ListTerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*jobs.Job, error) {
	var out []*jobs.Job
	err := withRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs
			 WHERE status IN (?, ?, ?) AND updated_at < ?`,
			string(jobs.StatusCompleted), string(jobs.StatusFailed),
			string(jobs.StatusCancelled),
			formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("list terminal: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[jobs.Status]int64, error) {
	counts := make(map[jobs.Status]int64)
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
		if err != nil {
			return fmt.Errorf("count by status: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			if st, ok := jobs.ParseStatus(status); ok {
				counts[st] = n
			}
		}
		return rows.Err()
	})
	return counts, err
}
