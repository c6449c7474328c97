package backend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"framegate/internal/config"
	"framegate/internal/services"
	"framegate/internal/services/backend"
)

func newClient(t *testing.T, server *httptest.Server, dialect string) *backend.Client {
	t.Helper()
	client, err := backend.New(server.URL, dialect, backend.WithClientID("client-1"), backend.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestGenericDialectRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/submit":
			var body struct {
				JobGraph map[string]any `json:"jobGraph"`
				ClientID string         `json:"clientId"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode submit: %v", err)
			}
			if body.ClientID != "client-1" || body.JobGraph["node"] != "value" {
				t.Errorf("unexpected submit body: %+v", body)
			}
			_, _ = io.WriteString(w, `{"jobId":"job-42"}`)
		case r.URL.Path == "/history/job-42":
			_, _ = io.WriteString(w, `{"outputs":[{"mediaType":"image","path":"out/frame.png","tags":["preview"]},{"mediaType":"video","path":"out/clip.mp4","tags":["animated"]}]}`)
		case r.URL.Path == "/history/job-pending":
			_, _ = io.WriteString(w, `{}`)
		case r.URL.Path == "/queue":
			_, _ = io.WriteString(w, `{"running":1,"pending":3}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newClient(t, server, config.DialectGeneric)
	ctx := context.Background()

	handle, err := client.Submit(ctx, json.RawMessage(`{"node":"value"}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle.ID != "job-42" || handle.ClientID != "client-1" {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	entry, err := client.History(ctx, handle.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !entry.SuccessMarker() {
		t.Fatal("expected success marker")
	}
	artifact, ok := entry.Artifact()
	if !ok || artifact.Path != "out/clip.mp4" {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}

	pending, err := client.History(ctx, "job-pending")
	if err != nil {
		t.Fatalf("History pending: %v", err)
	}
	if pending.Found || pending.SuccessMarker() {
		t.Fatalf("expected empty entry, got %+v", pending)
	}

	queue, err := client.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if queue.Running != 1 || queue.Pending != 3 || queue.Depth() != 4 || queue.HasIDs() {
		t.Fatalf("unexpected queue: %+v", queue)
	}
}

func TestComfyDialectHistoryAndQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prompt":
			var body map[string]json.RawMessage
			_ = json.NewDecoder(r.Body).Decode(&body)
			if _, ok := body["prompt"]; !ok {
				t.Errorf("expected prompt key, got %v", body)
			}
			_, _ = io.WriteString(w, `{"prompt_id":"p-1","number":7,"node_errors":{}}`)
		case "/history/p-1":
			_, _ = io.WriteString(w, `{"p-1":{"outputs":{
				"9":{"images":[{"filename":"still_00001.png","subfolder":"","type":"output"}]},
				"12":{"gifs":[{"filename":"clip_00001.mp4","subfolder":"runs","type":"output"}]}
			},"status":{"status_str":"success","completed":true,"messages":[]}}}`)
		case "/history/p-err":
			_, _ = io.WriteString(w, `{"p-err":{"outputs":{},"status":{"status_str":"error","completed":false,
				"messages":[["execution_start",{}],["execution_error",{"node_type":"KSampler","exception_message":"CUDA out of memory"}]]}}}`)
		case "/queue":
			_, _ = io.WriteString(w, `{"queue_running":[[7,"p-1",{},{},[]]],"queue_pending":[[8,"p-2",{},{},[]],[9,"p-3",{},{},[]]]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newClient(t, server, config.DialectComfyUI)
	ctx := context.Background()

	handle, err := client.Submit(ctx, json.RawMessage(`{"3":{"class_type":"KSampler"}}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle.ID != "p-1" || handle.Number != 7 {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	entry, err := client.History(ctx, "p-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	artifact, ok := entry.Artifact()
	if !ok || artifact.Path != "runs/clip_00001.mp4" || !artifact.IsAnimated() || artifact.Subfolder() != "runs" {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	if images := entry.Images(); len(images) != 1 || images[0].Filename() != "still_00001.png" {
		t.Fatalf("unexpected images: %+v", images)
	}

	failed, err := client.History(ctx, "p-err")
	if err != nil {
		t.Fatalf("History error entry: %v", err)
	}
	if failed.SuccessMarker() || failed.Error != "KSampler: CUDA out of memory" {
		t.Fatalf("unexpected error entry: %+v", failed)
	}

	queue, err := client.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if queue.Running != 1 || queue.Pending != 2 || !queue.IsRunning("p-1") || !queue.IsPending("p-3") {
		t.Fatalf("unexpected queue: %+v", queue)
	}
}

func TestErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			http.Error(w, `{"error":"missing node"}`, http.StatusBadRequest)
		case "/history/busy":
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		case "/history/garbled":
			_, _ = io.WriteString(w, `{"outputs": [`)
		case "/history/nothing":
			_, _ = io.WriteString(w, `{"status":"done"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	client := newClient(t, server, config.DialectGeneric)
	ctx := context.Background()

	_, err := client.Submit(ctx, json.RawMessage(`{}`))
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	var statusErr *backend.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status error, got %T", err)
	}

	_, err = client.History(ctx, "busy")
	if !errors.Is(err, services.ErrNetwork) || !backend.IsTransient(err) {
		t.Fatalf("expected network error for 503, got %v", err)
	}

	for _, id := range []string{"garbled", "nothing"} {
		_, err = client.History(ctx, id)
		if !errors.Is(err, services.ErrBackend) || backend.IsTransient(err) {
			t.Fatalf("expected backend error for %s, got %v", id, err)
		}
	}

	server.Close()
	_, err = client.Queue(ctx)
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected network error after close, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = client.Queue(cancelled)
	if !errors.Is(err, context.Canceled) || errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestUploadStagesFile(t *testing.T) {
	var gotName, gotOverwrite string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotOverwrite = r.FormValue("overwrite")
		gotBody, _ = io.ReadAll(file)
		_, _ = io.WriteString(w, `{"name":"start.png","subfolder":"keyframes","type":"input"}`)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "start.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	client := newClient(t, server, config.DialectComfyUI)
	staged, err := client.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if staged != "keyframes/start.png" {
		t.Fatalf("unexpected staged name %q", staged)
	}
	if gotName != "start.png" || gotOverwrite != "true" || !bytes.Equal(gotBody, []byte("png-bytes")) {
		t.Fatalf("unexpected upload: name=%q overwrite=%q body=%q", gotName, gotOverwrite, gotBody)
	}

	if _, err := client.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.png")); !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission error for missing file, got %v", err)
	}
}

func TestSystemStatsConvertsToMegabytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"system":{},"devices":[{"name":"cuda:0 NVIDIA GeForce RTX 4090","type":"cuda","vram_total":25757220864,"vram_free":12884901888}]}`)
	}))
	defer server.Close()

	stats, err := newClient(t, server, config.DialectComfyUI).SystemStats(context.Background())
	if err != nil {
		t.Fatalf("SystemStats: %v", err)
	}
	device, ok := stats.Primary()
	if !ok {
		t.Fatal("expected a device")
	}
	if device.VRAMFreeMB != 12288 || device.VRAMTotalMB != 24564 {
		t.Fatalf("unexpected vram: %+v", device)
	}
	if device.VRAMUsedMB() != 12276 {
		t.Fatalf("unexpected used vram: %v", device.VRAMUsedMB())
	}
}

func TestArtifactAvailableAndDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("filename") != "clip.mp4" || q.Get("subfolder") != "runs" || q.Get("type") != "output" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "video-bytes")
	}))
	defer server.Close()

	client := newClient(t, server, config.DialectComfyUI)
	ctx := context.Background()
	out := backend.Output{MediaType: backend.MediaVideo, Path: "runs/clip.mp4"}

	ok, err := client.ArtifactAvailable(ctx, out)
	if err != nil || !ok {
		t.Fatalf("expected artifact available, got %v %v", ok, err)
	}
	ok, err = client.ArtifactAvailable(ctx, backend.Output{Path: "runs/other.mp4"})
	if err != nil || ok {
		t.Fatalf("expected artifact missing, got %v %v", ok, err)
	}

	var buf bytes.Buffer
	if _, err := client.Download(ctx, out, &buf); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if buf.String() != "video-bytes" {
		t.Fatalf("unexpected download %q", buf.String())
	}
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	if _, err := backend.New("", config.DialectGeneric); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := backend.New("http://localhost:8188", "a1111"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for dialect, got %v", err)
	}
	cfg := config.Default()
	cfg.Backend.URL = "http://localhost:8188/"
	cfg.Backend.ClientID = "fixed"
	client, err := backend.NewFromConfig(&cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if client.BaseURL() != "http://localhost:8188" || client.ClientID() != "fixed" {
		t.Fatalf("unexpected client: %s %s", client.BaseURL(), client.ClientID())
	}
}
