package jobgraph_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"framegate/internal/jobgraph"
	"framegate/internal/services"
)

const bookendGraph = `{
	// positive prompt
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{positive-prompt-slot}}"}},
	"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{ negative-prompt-slot }}"}},
	"10": {"class_type": "LoadImage", "inputs": {"image": "{{start-image-slot}}"}},
	"11": {"class_type": "LoadImage", "inputs": {"image": "{{end-image-slot}}"}},
	"20": {"class_type": "SaveVideo", "inputs": {"filename_prefix": "runs/{{scene-id}}_clip", "fps": 16, "steps": [1, 2.5]}},
}`

func TestParseDiscoversSlots(t *testing.T) {
	tmpl, err := jobgraph.Parse("bookend", []byte(bookendGraph))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"end-image-slot", "negative-prompt-slot", "positive-prompt-slot", "scene-id", "start-image-slot"}
	if got := tmpl.Slots(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected slots: %v", got)
	}
	if !tmpl.HasSlot(jobgraph.SlotStartImage) || tmpl.HasSlot("other") {
		t.Fatal("HasSlot mismatch")
	}
}

func TestRenderSubstitutesValues(t *testing.T) {
	tmpl, err := jobgraph.Parse("bookend", []byte(bookendGraph))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rendered, err := tmpl.Render(map[string]string{
		jobgraph.SlotPositivePrompt: `a "quoted" lighthouse`,
		jobgraph.SlotNegativePrompt: "",
		jobgraph.SlotStartImage:     "start.png",
		jobgraph.SlotEndImage:       "end.png",
		"scene-id":                  "s01",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	var graph map[string]struct {
		Inputs map[string]any `json:"inputs"`
	}
	if err := json.Unmarshal(rendered, &graph); err != nil {
		t.Fatalf("rendered graph is not JSON: %v", err)
	}
	if graph["6"].Inputs["text"] != `a "quoted" lighthouse` {
		t.Fatalf("unexpected prompt: %v", graph["6"].Inputs["text"])
	}
	if graph["7"].Inputs["text"] != "" {
		t.Fatalf("expected empty negative prompt, got %v", graph["7"].Inputs["text"])
	}
	if graph["20"].Inputs["filename_prefix"] != "runs/s01_clip" {
		t.Fatalf("unexpected prefix: %v", graph["20"].Inputs["filename_prefix"])
	}
	if graph["20"].Inputs["fps"] != float64(16) {
		t.Fatalf("numbers must survive rendering, got %v", graph["20"].Inputs["fps"])
	}
}

func TestRenderReportsMissingSlot(t *testing.T) {
	tmpl, err := jobgraph.Parse("bookend", []byte(bookendGraph))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = tmpl.Render(map[string]string{jobgraph.SlotPositivePrompt: "x"})
	var missing *jobgraph.MissingSlotError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSlotError, got %v", err)
	}
	if missing.Slot != "end-image-slot" {
		t.Fatalf("expected first missing slot to be named, got %q", missing.Slot)
	}
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatal("missing slot must classify as a submission error")
	}
}

func TestParseRejectsMalformedGraphs(t *testing.T) {
	for name, input := range map[string]string{
		"truncated": `{"1": {`,
		"array":     `[1, 2]`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := jobgraph.Parse(name, []byte(input)); !errors.Is(err, services.ErrSubmission) {
				t.Fatalf("expected submission error, got %v", err)
			}
		})
	}
}

func TestReadFileNamesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wan-bookend.jsonc")
	if err := os.WriteFile(path, []byte(bookendGraph), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmpl, err := jobgraph.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if tmpl.Name != "wan-bookend" {
		t.Fatalf("unexpected name %q", tmpl.Name)
	}
}
