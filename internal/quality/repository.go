package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"framegate/internal/config"
	"framegate/internal/services"
	"framegate/internal/similarity"
)

// BaselineRepository stores baselines keyed by sample id. Records are only
// ever created or updated; the gate never deletes calibration history.
type BaselineRepository interface {
	// GetBaseline returns the stored baseline or an error wrapping
	// services.ErrNotFound.
	GetBaseline(ctx context.Context, sampleID string) (Baseline, error)
	// PromoteToBaseline overwrites the stored measurement for sampleID.
	// A new record takes thresholds from the argument; an existing record
	// keeps its own.
	PromoteToBaseline(ctx context.Context, sampleID string, measured float64, thresholds Thresholds) (Baseline, error)
	// ListBaselines returns every stored baseline sorted by sample id.
	ListBaselines(ctx context.Context) ([]Baseline, error)
	Close() error
}

// Lookup returns the stored baseline for sampleID, or an uncalibrated one
// using defaults when none exists yet.
func Lookup(ctx context.Context, repo BaselineRepository, sampleID string, defaults Thresholds) (Baseline, error) {
	if repo == nil {
		return Uncalibrated(sampleID, defaults), nil
	}
	baseline, err := repo.GetBaseline(ctx, sampleID)
	if errors.Is(err, services.ErrNotFound) {
		return Uncalibrated(sampleID, defaults), nil
	}
	if err != nil {
		return Baseline{}, err
	}
	return baseline, nil
}

// Promote records a known-good run as the sample's baseline. It is the only
// path that changes BaselineAverageSimilarity.
func Promote(ctx context.Context, repo BaselineRepository, sampleID string, measured similarity.Result, defaults Thresholds) (Baseline, error) {
	sampleID = strings.TrimSpace(sampleID)
	if sampleID == "" {
		return Baseline{}, services.Wrap(services.ErrValidation, "quality", "promote", "sample id is required", nil)
	}
	if repo == nil {
		return Baseline{}, services.Wrap(services.ErrConfiguration, "quality", "promote", "no baseline store configured", nil)
	}
	if err := defaults.Validate(); err != nil {
		return Baseline{}, err
	}
	return repo.PromoteToBaseline(ctx, sampleID, measured.AverageSimilarity, defaults)
}

// OpenRepository opens the baseline store selected by cfg.
func OpenRepository(cfg *config.Config, logger *slog.Logger) (BaselineRepository, error) {
	path := strings.TrimSpace(cfg.Quality.BaselinePath)
	switch cfg.Quality.BaselineStore {
	case config.BaselineStoreSQLite:
		if path == "" {
			path = filepath.Join(cfg.Paths.StateDir, "baselines.db")
		}
		return OpenSQLite(path)
	case config.BaselineStoreJSON, "":
		if path == "" {
			path = filepath.Join(cfg.Paths.StateDir, "baselines.json")
		}
		return NewFileStore(path, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "quality", "open baseline store",
			fmt.Sprintf("unknown baseline store %q", cfg.Quality.BaselineStore), nil)
	}
}

func notFound(sampleID string) error {
	return services.Wrap(services.ErrNotFound, "quality", "get baseline",
		fmt.Sprintf("no baseline for sample %q", sampleID), nil)
}
