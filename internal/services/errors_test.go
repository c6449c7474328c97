package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"framegate/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrNetwork, "tracker", "history", "poll failed", base)
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"tracker", "history", "poll failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrBackend) {
		t.Fatalf("expected backend marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

type kindErr struct{}

func (kindErr) Error() string     { return "custom" }
func (kindErr) ErrorKind() string { return "custom_kind" }

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrSubmission, "submit", "", "missing slot", nil), "submission"},
		{services.Wrap(services.ErrNetwork, "", "", "", nil), "network"},
		{services.Wrap(services.ErrTimeout, "", "", "", nil), "timeout"},
		{services.Wrap(services.ErrDecode, "", "", "", nil), "decode"},
		{fmt.Errorf("outer: %w", context.Canceled), "cancelled"},
		{services.Wrap(services.ErrResourceExhaustion, "", "", "", nil), "resource_exhaustion"},
		{fmt.Errorf("wrapped: %w", kindErr{}), "custom_kind"},
		{errors.New("mystery"), "unknown"},
	}
	for _, tc := range cases {
		if got := services.ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsSetupFailure(t *testing.T) {
	if !services.IsSetupFailure(services.Wrap(services.ErrConfiguration, "config", "", "bad", nil)) {
		t.Fatal("configuration errors are setup failures")
	}
	if services.IsSetupFailure(services.Wrap(services.ErrNetwork, "", "", "", nil)) {
		t.Fatal("network errors are not setup failures")
	}
}
