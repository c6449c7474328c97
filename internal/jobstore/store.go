package jobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"framegate/internal/config"
	"framegate/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Older databases must
// be removed by hand.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout keeps a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = "id, scene_id, sample_id, template, inputs_json, backend_url, backend_job_id, status, attempts_used, retry_budget, exit_reason, verdict, decision, average_similarity, error_kind, error_message, telemetry_path, created_at, updated_at, submitted_at, finished_at"

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenFromConfig opens the job database under the configured state directory.
func OpenFromConfig(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return Open(cfg.JobStorePath())
}

// Open initializes or connects to the job database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("job database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create job database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Create inserts a new pending job. An empty ID is assigned a UUID.
func (s *Store) Create(ctx context.Context, job GenerationJob) (*GenerationJob, error) {
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if job.RetryBudget < 0 {
		return nil, services.Wrap(services.ErrValidation, "jobstore", "create", "retry budget must be non-negative", nil)
	}
	inputs, err := json.Marshal(job.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	timestamp := s.timestamp()
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO generation_jobs (
            id, scene_id, sample_id, template, inputs_json, backend_url,
            status, attempts_used, retry_budget, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		job.ID,
		nullableString(job.SceneID),
		nullableString(job.SampleID),
		nullableString(job.Template),
		string(inputs),
		nullableString(job.BackendURL),
		StatusPending,
		job.RetryBudget,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, job.ID)
}

// Get returns the job with id, or an error wrapping services.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*GenerationJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "jobstore", "get", fmt.Sprintf("no job %q", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// Transition moves a job to status to. Moves the lifecycle forbids return a
// *TransitionError.
func (s *Store) Transition(ctx context.Context, id string, to Status) error {
	return s.update(ctx, id, to, nil)
}

// RecordAttempt marks a fresh submission: the job moves to submitted with the
// backend's job id and its attempt counter.
func (s *Store) RecordAttempt(ctx context.Context, id, backendJobID string, attempt int) error {
	return s.update(ctx, id, StatusSubmitted, func(tx *sql.Tx, now string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE generation_jobs SET backend_job_id = ?, attempts_used = ?,
                 submitted_at = COALESCE(submitted_at, ?) WHERE id = ?`,
			nullableString(backendJobID), attempt, now, id)
		return err
	})
}

// RecordOutcome finalizes a job. The outcome status must be terminal.
func (s *Store) RecordOutcome(ctx context.Context, id string, outcome Outcome) error {
	if !outcome.Status.Terminal() {
		return services.Wrap(services.ErrValidation, "jobstore", "record outcome",
			fmt.Sprintf("status %s is not terminal", outcome.Status), nil)
	}
	return s.update(ctx, id, outcome.Status, func(tx *sql.Tx, _ string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE generation_jobs SET exit_reason = ?, verdict = ?, decision = ?,
                 average_similarity = ?, error_kind = ?, error_message = ?, telemetry_path = ?
             WHERE id = ?`,
			nullableString(outcome.ExitReason),
			nullableString(outcome.Verdict),
			nullableString(outcome.Decision),
			nullableFloat(outcome.AverageSimilarity),
			nullableString(outcome.ErrorKind),
			nullableString(outcome.ErrorMessage),
			nullableString(outcome.TelemetryPath),
			id)
		return err
	})
}

// List returns jobs newest first, filtered to statuses when any are given.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM generation_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// update validates the move to status to, applies it, then runs extra in the
// same transaction.
func (s *Store) update(ctx context.Context, id string, to Status, extra func(tx *sql.Tx, now string) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current Status
		if err := tx.QueryRowContext(ctx, `SELECT status FROM generation_jobs WHERE id = ?`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return services.Wrap(services.ErrNotFound, "jobstore", "transition", fmt.Sprintf("no job %q", id), nil)
			}
			return fmt.Errorf("read status: %w", err)
		}
		if !CanTransition(current, to) {
			return &TransitionError{JobID: id, From: current, To: to}
		}

		now := s.timestamp()
		var finished any
		if to.Terminal() {
			finished = now
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE generation_jobs SET status = ?, updated_at = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?`,
			to, now, finished, id); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if extra != nil {
			if err := extra(tx, now); err != nil {
				return fmt.Errorf("update job: %w", err)
			}
		}
		return tx.Commit()
	})
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}
