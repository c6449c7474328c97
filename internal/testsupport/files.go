package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// BookendWorkflow is a minimal JSONC job graph using every bookend slot.
const BookendWorkflow = `{
	// prompts
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{positive-prompt-slot}}"}},
	"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{negative-prompt-slot}}"}},
	// keyframes
	"10": {"class_type": "LoadImage", "inputs": {"image": "{{start-image-slot}}"}},
	"11": {"class_type": "LoadImage", "inputs": {"image": "{{end-image-slot}}"}},
	"20": {"class_type": "SaveVideo", "inputs": {"filename_prefix": "golden/{{scene-id}}"}},
}`

// SampleFixture describes a golden sample written by WriteSample.
type SampleFixture struct {
	ID         string
	Prompt     string
	Start, End []byte
	// Extra is appended verbatim to the manifest (threshold overrides, etc).
	Extra string
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteSample writes a golden sample directory under samplesDir containing
// both keyframes, a bookend workflow, and sample.yaml. It returns the sample
// directory. Missing keyframes default to a 16x16 gradient.
func WriteSample(t testing.TB, samplesDir string, fx SampleFixture) string {
	t.Helper()
	dir := filepath.Join(samplesDir, fx.ID)
	start, end := fx.Start, fx.End
	if start == nil {
		start = KeyframePNG(t, 16, 16, GradientRGB(16, 16))
	}
	if end == nil {
		end = start
	}
	WriteFile(t, filepath.Join(dir, "start.png"), start)
	WriteFile(t, filepath.Join(dir, "end.png"), end)
	WriteFile(t, filepath.Join(dir, "workflow.jsonc"), []byte(BookendWorkflow))

	prompt := fx.Prompt
	if prompt == "" {
		prompt = "a lighthouse at dusk"
	}
	var manifest strings.Builder
	fmt.Fprintf(&manifest, "id: %s\n", fx.ID)
	fmt.Fprintf(&manifest, "prompt: %q\n", prompt)
	manifest.WriteString("negative_prompt: blurry\n")
	manifest.WriteString("start_image: start.png\nend_image: end.png\nworkflow: workflow.jsonc\n")
	manifest.WriteString(fx.Extra)
	WriteFile(t, filepath.Join(dir, "sample.yaml"), []byte(manifest.String()))
	return dir
}
