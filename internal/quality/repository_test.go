package quality_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"framegate/internal/config"
	"framegate/internal/quality"
	"framegate/internal/services"
	"framegate/internal/similarity"
)

var defaults = quality.Thresholds{Fail: 25, Warn: 35}

func stores(t *testing.T) map[string]func() quality.BaselineRepository {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() quality.BaselineRepository{
		"file": func() quality.BaselineRepository {
			s, err := quality.NewFileStore(filepath.Join(dir, "baselines.json"), nil)
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			return s
		},
		"sqlite": func() quality.BaselineRepository {
			s, err := quality.OpenSQLite(filepath.Join(dir, "baselines.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return s
		},
	}
}

func TestRepositories(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()

			if _, err := repo.GetBaseline(ctx, "bookend-01"); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			b, err := quality.Lookup(ctx, repo, "bookend-01", defaults)
			if err != nil || b.Calibrated() || b.Thresholds() != defaults {
				t.Fatalf("expected uncalibrated default, got %+v err=%v", b, err)
			}

			promoted, err := quality.Promote(ctx, repo, "bookend-01", similarity.NewResult(80, 90), defaults)
			if err != nil {
				t.Fatalf("Promote: %v", err)
			}
			if !promoted.Calibrated() || *promoted.BaselineAverageSimilarity != 85 || promoted.UpdatedAt == nil {
				t.Fatalf("unexpected promoted baseline %+v", promoted)
			}

			// A second promotion keeps stored thresholds.
			if _, err := repo.PromoteToBaseline(ctx, "bookend-01", 70, quality.Thresholds{Fail: 1, Warn: 2}); err != nil {
				t.Fatalf("PromoteToBaseline: %v", err)
			}
			if _, err := repo.PromoteToBaseline(ctx, "another", 50, defaults); err != nil {
				t.Fatalf("PromoteToBaseline: %v", err)
			}
			if err := repo.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reopened := open()
			defer reopened.Close()
			got, err := reopened.GetBaseline(ctx, "bookend-01")
			if err != nil {
				t.Fatalf("GetBaseline: %v", err)
			}
			if *got.BaselineAverageSimilarity != 70 || got.Thresholds() != defaults {
				t.Fatalf("unexpected reloaded baseline %+v", got)
			}
			list, err := reopened.ListBaselines(ctx)
			if err != nil || len(list) != 2 || list[0].SampleID != "another" {
				t.Fatalf("unexpected list %+v err=%v", list, err)
			}
		})
	}
}

func TestPromoteRejectsEmptySample(t *testing.T) {
	repo, err := quality.NewFileStore(filepath.Join(t.TempDir(), "b.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := quality.Promote(context.Background(), repo, " ", similarity.NewResult(1, 1), defaults); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baselines.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := quality.NewFileStore(path, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpenRepositoryHonorsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()

	cfg.Quality.BaselineStore = config.BaselineStoreSQLite
	repo, err := quality.OpenRepository(&cfg, nil)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	if _, ok := repo.(*quality.SQLiteStore); !ok {
		t.Fatalf("expected sqlite store, got %T", repo)
	}
	_ = repo.Close()

	cfg.Quality.BaselineStore = "etcd"
	if _, err := quality.OpenRepository(&cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
