package golden

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"framegate/internal/jobgraph"
	"framegate/internal/quality"
	"framegate/internal/services"
	"framegate/internal/submit"
	"framegate/internal/textutil"
)

// ManifestName is the manifest file expected in every sample directory.
const ManifestName = "sample.yaml"

const stageName = "golden"

// Sample is one golden sample manifest with its paths resolved.
type Sample struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	SceneID        string   `yaml:"scene_id"`
	Prompt         string   `yaml:"prompt"`
	NegativePrompt string   `yaml:"negative_prompt"`
	StartImage     string   `yaml:"start_image"`
	EndImage       string   `yaml:"end_image"`
	Workflow       string   `yaml:"workflow"`
	FailThreshold  *float64 `yaml:"fail_threshold"`
	WarnThreshold  *float64 `yaml:"warn_threshold"`

	// Dir is the sample directory the manifest was read from.
	Dir string `yaml:"-"`
}

// Load reads dir/sample.yaml. workflowsDir is the fallback location for the
// workflow file and may be empty.
func Load(dir, workflowsDir string) (*Sample, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, stageName, "load",
				fmt.Sprintf("no %s in %s", ManifestName, dir), err)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var sample Sample
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sample); err != nil && !errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "parse", path, err)
	}

	base := filepath.Base(filepath.Clean(dir))
	sample.Dir = dir
	sample.ID = strings.TrimSpace(sample.ID)
	if sample.ID == "" {
		sample.ID = textutil.SanitizeToken(base)
	}
	if strings.TrimSpace(sample.Name) == "" {
		sample.Name = textutil.DisplayName(base)
	}
	if strings.TrimSpace(sample.SceneID) == "" {
		sample.SceneID = sample.ID
	}

	if err := sample.resolve(workflowsDir); err != nil {
		return nil, err
	}
	return &sample, nil
}

// LoadAll loads every sample directory under samplesDir, sorted by id.
// Directories without a manifest are skipped. Duplicate ids are an error.
func LoadAll(samplesDir, workflowsDir string) ([]*Sample, error) {
	entries, err := os.ReadDir(samplesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, stageName, "list",
				fmt.Sprintf("samples directory %s does not exist", samplesDir), err)
		}
		return nil, fmt.Errorf("read samples directory: %w", err)
	}

	var samples []*Sample
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(samplesDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
			continue
		}
		sample, err := Load(dir, workflowsDir)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[sample.ID]; ok {
			return nil, services.Wrap(services.ErrConfiguration, stageName, "list",
				fmt.Sprintf("sample id %q used by both %s and %s", sample.ID, prev, dir), nil)
		}
		seen[sample.ID] = dir
		samples = append(samples, sample)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })
	return samples, nil
}

// Find returns the sample with the given id.
func Find(samplesDir, workflowsDir, id string) (*Sample, error) {
	samples, err := LoadAll(samplesDir, workflowsDir)
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, services.Wrap(services.ErrNotFound, stageName, "find",
		fmt.Sprintf("no golden sample %q under %s", id, samplesDir), nil)
}

// Thresholds returns defaults with this sample's overrides applied.
func (s *Sample) Thresholds(defaults quality.Thresholds) quality.Thresholds {
	out := defaults
	if s.FailThreshold != nil {
		out.Fail = *s.FailThreshold
	}
	if s.WarnThreshold != nil {
		out.Warn = *s.WarnThreshold
	}
	return out
}

// ApplyOverrides replaces a stored baseline's thresholds with the ones the
// manifest pins explicitly. The promoted measurement is untouched.
func (s *Sample) ApplyOverrides(b quality.Baseline) quality.Baseline {
	t := s.Thresholds(b.Thresholds())
	b.FailThreshold, b.WarnThreshold = t.Fail, t.Warn
	return b
}

// Inputs binds the manifest to the conventional bookend slots.
func (s *Sample) Inputs() map[string]submit.Input {
	return map[string]submit.Input{
		jobgraph.SlotPositivePrompt: submit.Text(s.Prompt),
		jobgraph.SlotNegativePrompt: submit.Text(s.NegativePrompt),
		jobgraph.SlotStartImage:     submit.File(s.StartImage),
		jobgraph.SlotEndImage:       submit.File(s.EndImage),
		jobgraph.SlotSceneID:        submit.Text(s.SceneID),
	}
}

// Template parses the sample's workflow.
func (s *Sample) Template() (*jobgraph.Template, error) {
	tmpl, err := jobgraph.ReadFile(s.Workflow)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "workflow",
			fmt.Sprintf("sample %s", s.ID), err)
	}
	return tmpl, nil
}

func (s *Sample) resolve(workflowsDir string) error {
	var missing []string
	if strings.TrimSpace(s.StartImage) == "" {
		missing = append(missing, "start_image")
	}
	if strings.TrimSpace(s.EndImage) == "" {
		missing = append(missing, "end_image")
	}
	if strings.TrimSpace(s.Workflow) == "" {
		missing = append(missing, "workflow")
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrConfiguration, stageName, "validate",
			fmt.Sprintf("sample %s is missing %s", s.ID, strings.Join(missing, ", ")), nil)
	}

	s.StartImage = resolveAgainst(s.Dir, s.StartImage)
	s.EndImage = resolveAgainst(s.Dir, s.EndImage)

	workflow := resolveAgainst(s.Dir, s.Workflow)
	if _, err := os.Stat(workflow); err != nil && workflowsDir != "" && !filepath.IsAbs(s.Workflow) {
		workflow = filepath.Join(workflowsDir, s.Workflow)
	}
	s.Workflow = workflow

	// Partial overrides are checked once merged with the defaults.
	if s.FailThreshold != nil && s.WarnThreshold != nil {
		t := quality.Thresholds{Fail: *s.FailThreshold, Warn: *s.WarnThreshold}
		if err := t.Validate(); err != nil {
			return services.Wrap(services.ErrConfiguration, stageName, "validate",
				fmt.Sprintf("sample %s", s.ID), err)
		}
	}
	return nil
}

func resolveAgainst(dir, path string) string {
	path = strings.TrimSpace(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
