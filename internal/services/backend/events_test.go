package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"framegate/internal/config"
	"framegate/internal/services/backend"
)

func eventServer(t *testing.T, route string, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != route {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("clientId"); got != "client-1" {
			t.Errorf("unexpected client id %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2})
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		time.Sleep(50 * time.Millisecond)
	}))
}

func collect(t *testing.T, sub *backend.Subscription) []backend.Event {
	t.Helper()
	var events []backend.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestSubscribeNormalizesComfyEvents(t *testing.T) {
	server := eventServer(t, "/ws", []string{
		`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":2}}}}`,
		`{"type":"execution_start","data":{"prompt_id":"p-1"}}`,
		`{"type":"execution_cached","data":{"nodes":[],"prompt_id":"p-1"}}`,
		`{"type":"executing","data":{"node":"3","prompt_id":"p-1"}}`,
		`{"type":"progress","data":{"value":5,"max":20,"node":"3","prompt_id":"p-1"}}`,
		`{"type":"executed","data":{"node":"9","output":{},"prompt_id":"p-1"}}`,
		`not json`,
		`{"type":"executing","data":{"node":null,"prompt_id":"p-1"}}`,
	})
	defer server.Close()

	client := newClient(t, server, config.DialectComfyUI)
	sub, err := client.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	events := collect(t, sub)
	want := []backend.EventKind{
		backend.EventStatus,
		backend.EventRunning,
		backend.EventExecuting,
		backend.EventProgress,
		backend.EventNodeOutput,
		backend.EventExecuted,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Fatalf("event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}
	if events[0].QueueRemaining != 2 {
		t.Fatalf("unexpected queue remaining %d", events[0].QueueRemaining)
	}
	if events[3].Percent() != 25 || events[3].Node != "3" {
		t.Fatalf("unexpected progress event %+v", events[3])
	}
	if !events[5].Kind.Terminal() || events[5].JobID != "p-1" {
		t.Fatalf("unexpected terminal event %+v", events[5])
	}
	if err := sub.Err(); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
}

func TestSubscribeGenericErrorEvent(t *testing.T) {
	server := eventServer(t, "/events", []string{
		`{"type":"queued","jobId":"job-1"}`,
		`{"type":"running","jobId":"job-1"}`,
		`{"type":"heartbeat"}`,
		`{"type":"error","jobId":"job-1","message":"sampler crashed"}`,
	})
	defer server.Close()

	client := newClient(t, server, config.DialectGeneric)
	sub, err := client.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	events := collect(t, sub)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	last := events[2]
	if last.Kind != backend.EventError || last.Message != "sampler crashed" || !last.Kind.Terminal() {
		t.Fatalf("unexpected error event %+v", last)
	}
}

func TestSubscribeFailsWhenEndpointMissing(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newClient(t, server, config.DialectComfyUI)
	if _, err := client.Subscribe(context.Background()); err == nil {
		t.Fatal("expected subscribe to fail without a websocket endpoint")
	}
}
