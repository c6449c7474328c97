package quality

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed baselines.sql
var baselinesSQL string

// SQLiteStore keeps baselines in an SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens or creates the baseline database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("baseline database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create baseline directory: %w", err)
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
	if _, err := db.Exec(baselinesSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create baselines table: %w", err)
	}
	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// GetBaseline implements BaselineRepository.
func (s *SQLiteStore) GetBaseline(ctx context.Context, sampleID string) (Baseline, error) {
	sampleID = strings.TrimSpace(sampleID)
	row := s.db.QueryRowContext(ctx,
		`SELECT sample_id, baseline_average_similarity, fail_threshold, warn_threshold, updated_at
         FROM baselines WHERE sample_id = ?`, sampleID)
	baseline, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Baseline{}, notFound(sampleID)
	}
	if err != nil {
		return Baseline{}, fmt.Errorf("query baseline: %w", err)
	}
	return baseline, nil
}

// PromoteToBaseline implements BaselineRepository.
func (s *SQLiteStore) PromoteToBaseline(ctx context.Context, sampleID string, measured float64, thresholds Thresholds) (Baseline, error) {
	sampleID = strings.TrimSpace(sampleID)
	updated := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO baselines (sample_id, baseline_average_similarity, fail_threshold, warn_threshold, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(sample_id) DO UPDATE SET
             baseline_average_similarity = excluded.baseline_average_similarity,
             updated_at = excluded.updated_at`,
		sampleID, measured, thresholds.Fail, thresholds.Warn, updated)
	if err != nil {
		return Baseline{}, fmt.Errorf("promote baseline: %w", err)
	}
	return s.GetBaseline(ctx, sampleID)
}

// ListBaselines implements BaselineRepository.
func (s *SQLiteStore) ListBaselines(ctx context.Context) ([]Baseline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sample_id, baseline_average_similarity, fail_threshold, warn_threshold, updated_at
         FROM baselines ORDER BY sample_id`)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var out []Baseline
	for rows.Next() {
		baseline, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		out = append(out, baseline)
	}
	return out, rows.Err()
}

// Close implements BaselineRepository.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanBaseline(scanner interface{ Scan(dest ...any) error }) (Baseline, error) {
	var (
		baseline Baseline
		average  sql.NullFloat64
		updated  sql.NullString
	)
	if err := scanner.Scan(&baseline.SampleID, &average, &baseline.FailThreshold, &baseline.WarnThreshold, &updated); err != nil {
		return Baseline{}, err
	}
	if average.Valid {
		value := average.Float64
		baseline.BaselineAverageSimilarity = &value
	}
	if updated.Valid && updated.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, updated.String); err == nil {
			baseline.UpdatedAt = &ts
		}
	}
	return baseline, nil
}
