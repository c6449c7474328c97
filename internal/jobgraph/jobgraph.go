// Package jobgraph parses templated workflow documents and renders them with
// bound slot values.
//
// Templates are authored as JSONC (JSON with comments and trailing commas).
// A placeholder slot is written inside any string value as {{slot-name}} and
// is replaced by the bound string value when the graph is rendered.
package jobgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"framegate/internal/services"
)

// Conventional slot names used by bookend workflows.
const (
	SlotPositivePrompt = "positive-prompt-slot"
	SlotNegativePrompt = "negative-prompt-slot"
	SlotStartImage     = "start-image-slot"
	SlotEndImage       = "end-image-slot"
	SlotSceneID        = "scene-id"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Template is a parsed job graph with its placeholder slots.
type Template struct {
	Name  string
	root  any
	slots []string
}

// MissingSlotError names a slot with no bound value.
type MissingSlotError struct {
	Template string
	Slot     string
}

func (e *MissingSlotError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("slot %q has no bound value", e.Slot)
	}
	return fmt.Sprintf("job graph %s: slot %q has no bound value", e.Template, e.Slot)
}

func (e *MissingSlotError) Unwrap() error { return services.ErrSubmission }

// Parse strips JSONC comments and trailing commas, then decodes the graph.
func Parse(name string, data []byte) (*Template, error) {
	stripped := jsonc.ToJSON(data)
	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.UseNumber()
	var root any
	if err := decoder.Decode(&root); err != nil {
		return nil, services.Wrap(services.ErrSubmission, "jobgraph", "parse", name, err)
	}
	if _, ok := root.(map[string]any); !ok {
		return nil, services.Wrap(services.ErrSubmission, "jobgraph", "parse", name+": top level must be an object", nil)
	}
	t := &Template{Name: name, root: root}
	seen := map[string]struct{}{}
	collectSlots(root, seen)
	t.slots = make([]string, 0, len(seen))
	for slot := range seen {
		t.slots = append(t.slots, slot)
	}
	sort.Strings(t.slots)
	return t, nil
}

// ReadFile loads a JSONC template from disk. The template name is the file
// name without its extension.
func ReadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrSubmission, "jobgraph", "read", path, err)
	}
	base := filepath.Base(path)
	return Parse(strings.TrimSuffix(base, filepath.Ext(base)), data)
}

// Slots lists the placeholder names, sorted. Every slot is required.
func (t *Template) Slots() []string {
	return append([]string(nil), t.slots...)
}

// HasSlot reports whether the template references slot.
func (t *Template) HasSlot(slot string) bool {
	i := sort.SearchStrings(t.slots, slot)
	return i < len(t.slots) && t.slots[i] == slot
}

// Missing returns the slots with no entry in values, sorted.
func (t *Template) Missing(values map[string]string) []string {
	var missing []string
	for _, slot := range t.slots {
		if _, ok := values[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	return missing
}

// Render substitutes every slot and returns the graph as JSON. The first
// unbound slot is reported as a MissingSlotError.
func (t *Template) Render(values map[string]string) (json.RawMessage, error) {
	if missing := t.Missing(values); len(missing) > 0 {
		return nil, &MissingSlotError{Template: t.Name, Slot: missing[0]}
	}
	rendered := substitute(t.root, values)
	data, err := json.Marshal(rendered)
	if err != nil {
		return nil, services.Wrap(services.ErrSubmission, "jobgraph", "render", t.Name, err)
	}
	return data, nil
}

func collectSlots(node any, seen map[string]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			collectSlots(child, seen)
		}
	case []any:
		for _, child := range v {
			collectSlots(child, seen)
		}
	case string:
		for _, match := range placeholder.FindAllStringSubmatch(v, -1) {
			seen[match[1]] = struct{}{}
		}
	}
}

func substitute(node any, values map[string]string) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			out[key] = substitute(child, values)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = substitute(child, values)
		}
		return out
	case string:
		return placeholder.ReplaceAllStringFunc(v, func(match string) string {
			name := placeholder.FindStringSubmatch(match)[1]
			return values[name]
		})
	default:
		return v
	}
}
