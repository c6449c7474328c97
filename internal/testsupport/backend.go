package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"framegate/internal/services/backend"
)

// FakeDevice is a GPU reported by the fake backend's system stats route.
type FakeDevice struct {
	Name       string
	TotalBytes int64
	FreeBytes  int64
}

// FakeBackend serves the generic backend dialect from memory. Every job
// reports an empty history for PollsUntilDone queries, then its outputs.
type FakeBackend struct {
	Server *httptest.Server

	mu             sync.Mutex
	pollsUntilDone int
	outputs        []backend.Output
	artifacts      map[string][]byte
	jobError       string
	running        int
	pending        int
	devices        []FakeDevice
	submitStatus   int
	historyStatus  int
	nextID         int
	submissions    []json.RawMessage
	uploads        map[string][]byte
	historyCalls   map[string]int
}

// NewFakeBackend starts a fake backend that is closed with the test.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		artifacts:    make(map[string][]byte),
		uploads:      make(map[string][]byte),
		historyCalls: make(map[string]int),
	}
	router := mux.NewRouter()
	router.HandleFunc("/submit", f.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/history/{id}", f.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/queue", f.handleQueue).Methods(http.MethodGet)
	router.HandleFunc("/system_stats", f.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/upload", f.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/view", f.handleView).Methods(http.MethodGet)
	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake backend.
func (f *FakeBackend) URL() string { return f.Server.URL }

// CompleteAfter makes jobs report outputs after polls empty history queries.
func (f *FakeBackend) CompleteAfter(polls int, outputs ...backend.Output) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollsUntilDone = polls
	f.outputs = outputs
}

// ServeArtifact registers content served by /view for path.
func (f *FakeBackend) ServeArtifact(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[path] = data
}

// FailJobs makes every finished job report message as its error.
func (f *FakeBackend) FailJobs(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobError = message
}

// SetQueue sets the counts reported by /queue.
func (f *FakeBackend) SetQueue(running, pending int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running, f.pending = running, pending
}

// SetDevices sets the devices reported by /system_stats.
func (f *FakeBackend) SetDevices(devices ...FakeDevice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

// RejectSubmissions makes /submit answer with status.
func (f *FakeBackend) RejectSubmissions(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitStatus = status
}

// FailHistory makes /history answer with status. Zero restores normal replies.
func (f *FakeBackend) FailHistory(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyStatus = status
}

// Submissions returns the job graphs posted so far.
func (f *FakeBackend) Submissions() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.submissions...)
}

// Uploads returns the staged file names.
func (f *FakeBackend) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.uploads))
	for name := range f.uploads {
		names = append(names, name)
	}
	return names
}

func (f *FakeBackend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobGraph json.RawMessage `json:"jobGraph"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitStatus != 0 {
		http.Error(w, "rejected", f.submitStatus)
		return
	}
	f.nextID++
	f.submissions = append(f.submissions, payload.JobGraph)
	writeJSON(w, map[string]string{"jobId": fmt.Sprintf("job-%d", f.nextID)})
}

func (f *FakeBackend) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyStatus != 0 {
		http.Error(w, "history unavailable", f.historyStatus)
		return
	}
	f.historyCalls[id]++
	if f.historyCalls[id] <= f.pollsUntilDone {
		writeJSON(w, map[string]any{})
		return
	}
	if f.jobError != "" {
		writeJSON(w, map[string]any{"error": f.jobError, "status": "error"})
		return
	}
	writeJSON(w, map[string]any{"outputs": f.outputs})
}

func (f *FakeBackend) handleQueue(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, map[string]int{"running": f.running, "pending": f.pending})
}

func (f *FakeBackend) handleStats(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	devices := make([]map[string]any, 0, len(f.devices))
	for _, d := range f.devices {
		devices = append(devices, map[string]any{
			"name":       d.Name,
			"type":       "cuda",
			"vram_total": d.TotalBytes,
			"vram_free":  d.FreeBytes,
		})
	}
	writeJSON(w, map[string]any{"devices": devices})
}

func (f *FakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f.mu.Lock()
	f.uploads[header.Filename] = data
	f.mu.Unlock()
	writeJSON(w, map[string]string{"name": "input/" + header.Filename})
}

func (f *FakeBackend) handleView(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	data, ok := f.artifacts[r.URL.Query().Get("path")]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
