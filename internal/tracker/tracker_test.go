package tracker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"framegate/internal/clock"
	"framegate/internal/services"
	"framegate/internal/services/backend"
	"framegate/internal/tracker"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedSource answers history queries from a function of the call number.
type scriptedSource struct {
	mu       sync.Mutex
	history  func(call int) (backend.HistoryEntry, error)
	queue    func(call int) backend.QueueSnapshot
	calls    int
	queueHit int
}

func (s *scriptedSource) History(_ context.Context, _ string) (backend.HistoryEntry, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if s.history == nil {
		return backend.HistoryEntry{}, nil
	}
	return s.history(call)
}

func (s *scriptedSource) Queue(context.Context) (backend.QueueSnapshot, error) {
	s.mu.Lock()
	s.queueHit++
	call := s.queueHit
	s.mu.Unlock()
	if s.queue == nil {
		return backend.QueueSnapshot{}, nil
	}
	return s.queue(call), nil
}

func finished() backend.HistoryEntry {
	return backend.HistoryEntry{Found: true, Outputs: []backend.Output{
		{MediaType: backend.MediaImage, Path: "runs/frame_00001.png"},
		{MediaType: backend.MediaVideo, Path: "runs/clip_00001.mp4", Tags: []string{backend.TagAnimated}},
	}}
}

func settings() tracker.Settings {
	return tracker.Settings{
		MaxWait:              600 * time.Second,
		PollInterval:         2 * time.Second,
		PostExecutionTimeout: 30 * time.Second,
	}
}

func assertFinalized(t *testing.T, rec *tracker.Record) {
	t.Helper()
	if rec == nil || !rec.Finalized() || !rec.ExitReason.Valid() {
		t.Fatalf("record not finalized with a valid exit reason: %+v", rec)
	}
}

func TestTrackNeverCompletingJobHitsMaxWait(t *testing.T) {
	source := &scriptedSource{}
	clk := clock.AutoFake(epoch)
	tr := tracker.New(source, settings(), tracker.WithClock(clk))

	rec, err := tr.Track(context.Background(), "job-a", epoch)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	assertFinalized(t, rec)
	if rec.ExitReason != tracker.ExitMaxWait {
		t.Fatalf("expected maxWait, got %s", rec.ExitReason)
	}
	if rec.ExecutionSuccessDetected || rec.ExecutionSuccessAt != nil {
		t.Fatal("success must not be detected")
	}
	// One query at t=0 and one after each 2s sleep up to t=600.
	if rec.HistoryAttempts != 301 {
		t.Fatalf("expected about 300 attempts, got %d", rec.HistoryAttempts)
	}
	if rec.Duration() != 600*time.Second {
		t.Fatalf("unexpected duration %v", rec.Duration())
	}
	if rec.State != tracker.StateFailed {
		t.Fatalf("unexpected state %s", rec.State)
	}
	if !errors.Is(rec.Err(), services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", rec.Err())
	}
}

func TestTrackStopsAtAttemptLimit(t *testing.T) {
	s := settings()
	s.HistoryAttemptLimit = 5
	tr := tracker.New(&scriptedSource{}, s, tracker.WithClock(clock.AutoFake(epoch)))

	rec, err := tr.Track(context.Background(), "job-b", epoch)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	assertFinalized(t, rec)
	if rec.ExitReason != tracker.ExitAttemptLimit || rec.HistoryAttempts != 5 {
		t.Fatalf("expected attemptLimit after 5, got %s after %d", rec.ExitReason, rec.HistoryAttempts)
	}
	if rec.HistoryAttemptLimit != 5 {
		t.Fatalf("limit not recorded: %d", rec.HistoryAttemptLimit)
	}
}

func TestTrackSuccessWaitsForArtifact(t *testing.T) {
	source := &scriptedSource{history: func(call int) (backend.HistoryEntry, error) {
		if call < 4 {
			return backend.HistoryEntry{}, nil
		}
		return finished(), nil
	}}
	probes := 0
	probe := tracker.ProbeFunc(func(_ context.Context, out backend.Output) (bool, error) {
		probes++
		if out.Path != "runs/clip_00001.mp4" {
			t.Errorf("probe asked about %q", out.Path)
		}
		return probes >= 3, nil
	})
	clk := clock.AutoFake(epoch)
	tr := tracker.New(source, settings(), tracker.WithClock(clk), tracker.WithProbe(probe))

	rec, err := tr.Track(context.Background(), "job-c", epoch)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	assertFinalized(t, rec)
	if rec.ExitReason != tracker.ExitSuccess || !rec.Succeeded() {
		t.Fatalf("expected success, got %s", rec.ExitReason)
	}
	if !rec.ExecutionSuccessDetected || rec.ExecutionSuccessAt == nil {
		t.Fatal("expected success detection")
	}
	if !rec.ExecutionSuccessAt.Equal(epoch.Add(6 * time.Second)) {
		t.Fatalf("unexpected success time %v", rec.ExecutionSuccessAt)
	}
	if rec.HistoryAttempts != 3 {
		t.Fatalf("success poll must not count as an attempt, got %d", rec.HistoryAttempts)
	}
	if rec.Artifact == nil || !rec.Artifact.IsAnimated() {
		t.Fatalf("expected animated artifact, got %+v", rec.Artifact)
	}
	if rec.State != tracker.StateSucceeded || rec.Err() != nil {
		t.Fatalf("unexpected state %s err %v", rec.State, rec.Err())
	}
}

func TestTrackPostExecutionTimeout(t *testing.T) {
	source := &scriptedSource{history: func(int) (backend.HistoryEntry, error) { return finished(), nil }}
	probe := tracker.ProbeFunc(func(context.Context, backend.Output) (bool, error) { return false, nil })
	tr := tracker.New(source, settings(), tracker.WithClock(clock.AutoFake(epoch)), tracker.WithProbe(probe))

	rec, err := tr.Track(context.Background(), "job-d", epoch)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	assertFinalized(t, rec)
	if rec.ExitReason != tracker.ExitPostExecution {
		t.Fatalf("expected postExecution, got %s", rec.ExitReason)
	}
	if !rec.ExecutionSuccessDetected {
		t.Fatal("success marker was seen and must be recorded")
	}
	if grace := rec.FinishedAt.Sub(*rec.ExecutionSuccessAt); grace != 30*time.Second {
		t.Fatalf("expected the full 30s grace window, got %v", grace)
	}
	if !errors.Is(rec.Err(), services.ErrPostExecution) {
		t.Fatalf("unexpected error marker %v", rec.Err())
	}
}

func TestTrackBackendFailuresAreUnknown(t *testing.T) {
	cases := map[string]func(int) (backend.HistoryEntry, error){
		"reported error": func(int) (backend.HistoryEntry, error) {
			return backend.HistoryEntry{Found: true, Error: "KSampler: out of memory"}, nil
		},
		"malformed payload": func(int) (backend.HistoryEntry, error) {
			return backend.HistoryEntry{}, services.Wrap(services.ErrBackend, "backend", "history", "decode response", errors.New("eof"))
		},
	}
	for name, history := range cases {
		t.Run(name, func(t *testing.T) {
			tr := tracker.New(&scriptedSource{history: history}, settings(), tracker.WithClock(clock.AutoFake(epoch)))
			rec, err := tr.Track(context.Background(), "job-e", epoch)
			if err != nil {
				t.Fatalf("unknown exits are not errors: %v", err)
			}
			assertFinalized(t, rec)
			if rec.ExitReason != tracker.ExitUnknown || rec.BackendError == "" || rec.Cancelled {
				t.Fatalf("unexpected record %+v", rec)
			}
		})
	}
}

func TestTrackNetworkErrorSurfaces(t *testing.T) {
	source := &scriptedSource{history: func(call int) (backend.HistoryEntry, error) {
		if call == 3 {
			return backend.HistoryEntry{}, services.Wrap(services.ErrNetwork, "backend", "history", "request failed", errors.New("connection refused"))
		}
		return backend.HistoryEntry{}, nil
	}}
	tr := tracker.New(source, settings(), tracker.WithClock(clock.AutoFake(epoch)))
	rec, err := tr.Track(context.Background(), "job-f", epoch)
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	assertFinalized(t, rec)
	if rec.ExitReason != tracker.ExitUnknown || rec.HistoryAttempts != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestTrackCancellationReturnsCancelledRecord(t *testing.T) {
	clk := clock.Fake(epoch)
	tr := tracker.New(&scriptedSource{}, settings(), tracker.WithClock(clk))
	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		rec *tracker.Record
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := tr.Track(ctx, "job-g", epoch)
		done <- result{rec, err}
	}()

	clk.WaitForTimers(1)
	cancel()

	select {
	case res := <-done:
		if !errors.Is(res.err, services.ErrCancelled) {
			t.Fatalf("expected cancelled error, got %v", res.err)
		}
		assertFinalized(t, res.rec)
		if !res.rec.Cancelled || res.rec.HistoryAttempts != 1 {
			t.Fatalf("unexpected record %+v", res.rec)
		}
		if services.ErrorKind(res.rec.Err()) != "cancelled" {
			t.Fatalf("unexpected kind %q", services.ErrorKind(res.rec.Err()))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not stop after cancellation")
	}
}

func TestTrackDerivesQueueStates(t *testing.T) {
	source := &scriptedSource{
		history: func(call int) (backend.HistoryEntry, error) {
			if call < 4 {
				return backend.HistoryEntry{}, nil
			}
			return finished(), nil
		},
		queue: func(call int) backend.QueueSnapshot {
			if call == 1 {
				return backend.QueueSnapshot{Running: 1, Pending: 1, RunningIDs: []string{"other"}, PendingIDs: []string{"job-h"}}
			}
			return backend.QueueSnapshot{Running: 1, RunningIDs: []string{"job-h"}, PendingIDs: []string{}}
		},
	}
	updates := make(chan tracker.Update, 16)
	tr := tracker.New(source, settings(), tracker.WithClock(clock.AutoFake(epoch)), tracker.WithProgress(updates))

	rec, err := tr.Track(context.Background(), "job-h", epoch)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	close(updates)
	var states []tracker.State
	for u := range updates {
		if len(states) == 0 || states[len(states)-1] != u.State {
			states = append(states, u.State)
		}
	}
	want := []tracker.State{tracker.StateQueued, tracker.StateRunning, tracker.StateSucceeded}
	if len(states) != len(want) {
		t.Fatalf("unexpected state sequence %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected state sequence %v", states)
		}
	}
	if source.queueHit != 2 {
		t.Fatalf("queue should stop being polled once running, got %d queries", source.queueHit)
	}
	if rec.ExitReason != tracker.ExitSuccess {
		t.Fatalf("unexpected exit %s", rec.ExitReason)
	}
}

func TestTrackWithoutProbeTrustsSuccessMarker(t *testing.T) {
	source := &scriptedSource{history: func(int) (backend.HistoryEntry, error) { return finished(), nil }}
	tr := tracker.New(source, settings(), tracker.WithClock(clock.AutoFake(epoch)))
	rec, err := tr.Track(context.Background(), "job-i", epoch)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if rec.ExitReason != tracker.ExitSuccess || rec.Duration() != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestExitReasonsAreExhaustive(t *testing.T) {
	if len(tracker.ExitReasons) != 5 {
		t.Fatalf("expected five exit reasons, got %d", len(tracker.ExitReasons))
	}
	for _, reason := range tracker.ExitReasons {
		if !reason.Valid() {
			t.Fatalf("%s should be valid", reason)
		}
	}
	if tracker.ExitReason("cancelled").Valid() || tracker.ExitReason("").Valid() {
		t.Fatal("unexpected valid exit reason")
	}
}
