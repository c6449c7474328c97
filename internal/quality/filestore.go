package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"framegate/internal/logging"
)

// FileStore keeps baselines in a single JSON file. Writes go to a temp file
// that is renamed over the original.
type FileStore struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]Baseline
	now     func() time.Time
}

// NewFileStore loads path if it exists. The file is created on the first
// promotion.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("baseline file path is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &FileStore{
		path:    path,
		logger:  logging.NewComponentLogger(logger, "baselines"),
		entries: make(map[string]Baseline),
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetBaseline implements BaselineRepository.
func (s *FileStore) GetBaseline(_ context.Context, sampleID string) (Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	baseline, ok := s.entries[strings.TrimSpace(sampleID)]
	if !ok {
		return Baseline{}, notFound(sampleID)
	}
	return baseline, nil
}

// PromoteToBaseline implements BaselineRepository.
func (s *FileStore) PromoteToBaseline(_ context.Context, sampleID string, measured float64, thresholds Thresholds) (Baseline, error) {
	sampleID = strings.TrimSpace(sampleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	baseline, ok := s.entries[sampleID]
	if !ok {
		baseline = Uncalibrated(sampleID, thresholds)
	}
	previous := baseline.BaselineAverageSimilarity
	value := measured
	updated := s.now().UTC()
	baseline.BaselineAverageSimilarity = &value
	baseline.UpdatedAt = &updated
	s.entries[sampleID] = baseline

	if err := s.save(); err != nil {
		if ok {
			baseline.BaselineAverageSimilarity = previous
			s.entries[sampleID] = baseline
		} else {
			delete(s.entries, sampleID)
		}
		return Baseline{}, fmt.Errorf("persist baselines: %w", err)
	}

	s.logger.Info("baseline promoted",
		logging.SampleID(sampleID),
		logging.Float64("baseline", measured))
	return baseline, nil
}

// ListBaselines implements BaselineRepository.
func (s *FileStore) ListBaselines(context.Context) ([]Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedBaselines(s.entries), nil
}

// Close implements BaselineRepository.
func (s *FileStore) Close() error { return nil }

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read baseline file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var entries []Baseline
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse baseline file %s: %w", s.path, err)
	}
	for _, entry := range entries {
		if id := strings.TrimSpace(entry.SampleID); id != "" {
			s.entries[id] = entry
		}
	}
	s.logger.Debug("loaded baselines",
		logging.Int("entry_count", len(s.entries)),
		logging.String("path", s.path))
	return nil
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(sortedBaselines(s.entries), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baselines: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create baseline directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func sortedBaselines(entries map[string]Baseline) []Baseline {
	out := make([]Baseline, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
	return out
}
