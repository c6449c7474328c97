// Package submit builds a generation request from a job graph template and
// bound inputs, stages file inputs on the backend, and posts the graph.
//
// The submitter never retries. Retries belong to the retry coordinator, which
// calls Submit again for a fresh job.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"

	"framegate/internal/jobgraph"
	"framegate/internal/logging"
	"framegate/internal/services"
	"framegate/internal/services/backend"
)

// InputKind distinguishes text values from files that must be uploaded.
type InputKind int

const (
	InputText InputKind = iota
	InputFile
)

func (k InputKind) String() string {
	if k == InputFile {
		return "file"
	}
	return "text"
}

// Input is a value bound to a job graph slot.
type Input struct {
	Kind  InputKind
	Value string
}

// Text binds a literal string.
func Text(value string) Input { return Input{Kind: InputText, Value: value} }

// File binds a local file that is uploaded before submission.
func File(path string) Input { return Input{Kind: InputFile, Value: path} }

// Backend is the part of the backend client the submitter needs.
type Backend interface {
	Upload(ctx context.Context, localPath string) (string, error)
	Submit(ctx context.Context, graph json.RawMessage) (backend.JobHandle, error)
}

// SubmissionError reports a request that cannot be submitted as built. Slot
// names the offending slot when one is involved.
type SubmissionError struct {
	Slot   string
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	msg := "submission rejected"
	if e.Slot != "" {
		msg = fmt.Sprintf("submission rejected: slot %q", e.Slot)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrSubmission}
	}
	return []error{services.ErrSubmission, e.Err}
}

func (e *SubmissionError) ErrorKind() string { return "submission" }

// Submitter posts job graphs to one backend.
type Submitter struct {
	backend Backend
	logger  *slog.Logger
}

// New constructs a submitter.
func New(b Backend, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Submitter{backend: b, logger: logging.NewComponentLogger(logger, "submit")}
}

// Submit validates the bindings, uploads file inputs, renders the graph, and
// posts it. Missing slots and unreadable or rejected file inputs produce a
// SubmissionError. A transport failure while posting the graph is returned
// unchanged so it can be retried.
func (s *Submitter) Submit(ctx context.Context, tmpl *jobgraph.Template, inputs map[string]Input) (backend.JobHandle, error) {
	if tmpl == nil {
		return backend.JobHandle{}, &SubmissionError{Reason: "job graph required"}
	}
	for _, slot := range tmpl.Slots() {
		if _, ok := inputs[slot]; !ok {
			return backend.JobHandle{}, &SubmissionError{Slot: slot, Reason: "no bound value"}
		}
	}
	for slot, input := range inputs {
		if input.Kind != InputFile {
			continue
		}
		if err := checkReadable(input.Value); err != nil {
			return backend.JobHandle{}, &SubmissionError{Slot: slot, Reason: "input file unavailable", Err: err}
		}
	}

	values := make(map[string]string, len(inputs))
	uploaded := make(map[string]string)
	for _, slot := range tmpl.Slots() {
		input := inputs[slot]
		switch input.Kind {
		case InputFile:
			staged, ok := uploaded[input.Value]
			if !ok {
				var err error
				staged, err = s.backend.Upload(ctx, input.Value)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return backend.JobHandle{}, ctxErr
					}
					return backend.JobHandle{}, &SubmissionError{Slot: slot, Reason: "upload to backend staging failed", Err: err}
				}
				uploaded[input.Value] = staged
			}
			values[slot] = staged
		default:
			values[slot] = norm.NFC.String(input.Value)
		}
	}
	for slot := range inputs {
		if !tmpl.HasSlot(slot) {
			s.logger.Debug("ignoring input for unknown slot", logging.String("slot", slot))
		}
	}

	graph, err := tmpl.Render(values)
	if err != nil {
		var missing *jobgraph.MissingSlotError
		if errors.As(err, &missing) {
			return backend.JobHandle{}, &SubmissionError{Slot: missing.Slot, Reason: "no bound value"}
		}
		return backend.JobHandle{}, &SubmissionError{Reason: "render job graph", Err: err}
	}

	handle, err := s.backend.Submit(ctx, graph)
	if err != nil {
		if errors.Is(err, services.ErrSubmission) {
			return backend.JobHandle{}, &SubmissionError{Reason: "backend rejected job graph", Err: err}
		}
		return backend.JobHandle{}, err
	}
	s.logger.Info("job submitted",
		logging.BackendJobID(handle.ID),
		logging.String("template", tmpl.Name),
		logging.Int("uploads", len(uploaded)))
	return handle, nil
}

func checkReadable(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}
