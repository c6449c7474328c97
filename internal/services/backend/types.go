package backend

import (
	"path"
	"slices"
	"strings"
)

// Media types reported for job outputs.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// TagAnimated marks the animated output a job produced.
const TagAnimated = "animated"

// JobHandle identifies a submitted job on the backend.
type JobHandle struct {
	ID       string `json:"jobId"`
	ClientID string `json:"clientId,omitempty"`
	Number   int    `json:"number,omitempty"`
}

// Output is one artifact listed in a job's history entry.
type Output struct {
	MediaType string   `json:"mediaType"`
	Path      string   `json:"path"`
	Tags      []string `json:"tags,omitempty"`
	Node      string   `json:"node,omitempty"`
	// Folder is the backend storage area (output, temp) when the dialect
	// reports one.
	Folder string `json:"folder,omitempty"`
}

// HasTag reports whether the output carries tag (case-insensitive).
func (o Output) HasTag(tag string) bool {
	return slices.ContainsFunc(o.Tags, func(t string) bool {
		return strings.EqualFold(strings.TrimSpace(t), tag)
	})
}

// IsAnimated reports whether the output is the video/animated artifact.
func (o Output) IsAnimated() bool {
	return strings.EqualFold(o.MediaType, MediaVideo) || o.HasTag(TagAnimated) || o.HasTag(MediaVideo)
}

// Filename returns the final path element.
func (o Output) Filename() string {
	return path.Base(o.Path)
}

// Subfolder returns the directory portion of the output path, if any.
func (o Output) Subfolder() string {
	dir := path.Dir(o.Path)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// HistoryEntry is the normalized answer of a history-by-id query.
type HistoryEntry struct {
	// Found is false while the backend has no history for the job yet.
	Found   bool
	Outputs []Output
	// Error carries a backend-reported failure for the job.
	Error string
}

// SuccessMarker reports whether the entry lists media-type-tagged outputs,
// which is how backends signal that a job finished.
func (h HistoryEntry) SuccessMarker() bool {
	if !h.Found || h.Error != "" {
		return false
	}
	for _, out := range h.Outputs {
		if strings.TrimSpace(out.MediaType) != "" {
			return true
		}
	}
	return false
}

// Artifact returns the output of interest: the animated/video output when
// present, otherwise the last media output.
func (h HistoryEntry) Artifact() (Output, bool) {
	for _, out := range h.Outputs {
		if out.IsAnimated() {
			return out, true
		}
	}
	for i := len(h.Outputs) - 1; i >= 0; i-- {
		if strings.TrimSpace(h.Outputs[i].MediaType) != "" {
			return h.Outputs[i], true
		}
	}
	return Output{}, false
}

// Images returns the image outputs in listing order.
func (h HistoryEntry) Images() []Output {
	var images []Output
	for _, out := range h.Outputs {
		if strings.EqualFold(out.MediaType, MediaImage) && !out.IsAnimated() {
			images = append(images, out)
		}
	}
	return images
}

// QueueSnapshot is the backend queue state. Counts are always set; the id
// lists are only filled when the dialect reports them.
type QueueSnapshot struct {
	Running    int      `json:"running"`
	Pending    int      `json:"pending"`
	RunningIDs []string `json:"runningIds,omitempty"`
	PendingIDs []string `json:"pendingIds,omitempty"`
}

// Depth returns running plus pending jobs.
func (q QueueSnapshot) Depth() int {
	return q.Running + q.Pending
}

// HasIDs reports whether job ids were listed.
func (q QueueSnapshot) HasIDs() bool {
	return q.RunningIDs != nil || q.PendingIDs != nil
}

// IsRunning reports whether id is listed as running.
func (q QueueSnapshot) IsRunning(id string) bool {
	return slices.Contains(q.RunningIDs, id)
}

// IsPending reports whether id is listed as pending.
func (q QueueSnapshot) IsPending(id string) bool {
	return slices.Contains(q.PendingIDs, id)
}

// Device is one GPU reported by the backend.
type Device struct {
	Name        string
	Type        string
	VRAMTotalMB float64
	VRAMFreeMB  float64
}

// VRAMUsedMB returns total minus free memory.
func (d Device) VRAMUsedMB() float64 {
	return d.VRAMTotalMB - d.VRAMFreeMB
}

// SystemStats is the backend's device report.
type SystemStats struct {
	Devices []Device
}

// Primary returns the first device.
func (s SystemStats) Primary() (Device, bool) {
	if len(s.Devices) == 0 {
		return Device{}, false
	}
	return s.Devices[0], true
}

// EventKind classifies push-channel events.
type EventKind string

const (
	EventStatus     EventKind = "status"
	EventQueued     EventKind = "queued"
	EventRunning    EventKind = "running"
	EventExecuting  EventKind = "executing"
	EventProgress   EventKind = "progress"
	EventNodeOutput EventKind = "node_output"
	EventExecuted   EventKind = "executed"
	EventError      EventKind = "error"
)

// Terminal reports whether the event ends the job.
func (k EventKind) Terminal() bool {
	return k == EventExecuted || k == EventError
}

// Event is a normalized push-channel message.
type Event struct {
	Kind    EventKind
	JobID   string
	Node    string
	Value   int
	Max     int
	Message string
	// QueueRemaining is set on status events.
	QueueRemaining int
}

// Percent returns progress as a percentage, or -1 when unknown.
func (e Event) Percent() float64 {
	if e.Max <= 0 {
		return -1
	}
	return float64(e.Value) / float64(e.Max) * 100
}
