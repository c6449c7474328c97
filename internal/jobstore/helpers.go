package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

func scanJob(scanner interface{ Scan(dest ...any) error }) (*GenerationJob, error) {
	var (
		job                                    GenerationJob
		sceneID, sampleID, template, inputs    sql.NullString
		backendURL, backendJobID               sql.NullString
		status                                 string
		exitReason, verdict, decision          sql.NullString
		average                                sql.NullFloat64
		errorKind, errorMessage, telemetryPath sql.NullString
		createdRaw, updatedRaw                 string
		submittedRaw, finishedRaw              sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&sceneID,
		&sampleID,
		&template,
		&inputs,
		&backendURL,
		&backendJobID,
		&status,
		&job.AttemptsUsed,
		&job.RetryBudget,
		&exitReason,
		&verdict,
		&decision,
		&average,
		&errorKind,
		&errorMessage,
		&telemetryPath,
		&createdRaw,
		&updatedRaw,
		&submittedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	job.SceneID = sceneID.String
	job.SampleID = sampleID.String
	job.Template = template.String
	job.BackendURL = backendURL.String
	job.BackendJobID = backendJobID.String
	job.Status = Status(status)
	job.ExitReason = exitReason.String
	job.Verdict = verdict.String
	job.Decision = decision.String
	if average.Valid {
		v := average.Float64
		job.AverageSimilarity = &v
	}
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String
	job.TelemetryPath = telemetryPath.String
	if inputs.Valid && inputs.String != "" && inputs.String != "null" {
		if err := json.Unmarshal([]byte(inputs.String), &job.Inputs); err != nil {
			return nil, err
		}
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	if t, err := parseTimeString(submittedRaw.String); err == nil {
		job.SubmittedAt = &t
	}
	if t, err := parseTimeString(finishedRaw.String); err == nil {
		job.FinishedAt = &t
	}
	return &job, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
