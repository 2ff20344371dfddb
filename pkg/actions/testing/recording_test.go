package testing

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/openfroyo/openfroyo/pkg/actions"
)

func TestRecordingHostIdempotentCallsYieldEqualResults(t *testing.T) {
	r := NewRecordingHost()
	r.Script(actions.CapAwaitReachable, actions.Ok("target reachable", map[string]string{"probe": "ok"}))

	host := actions.Host{Address: "10.0.0.5"}

	first, err := r.AwaitReachable(context.Background(), host, time.Second)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := r.AwaitReachable(context.Background(), host, time.Second)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected idempotent results, got %+v and %+v", first, second)
	}
	if len(r.Calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(r.Calls))
	}
}

func TestRecordingHostUnscriptedCapabilityDefaultsToSuccess(t *testing.T) {
	r := NewRecordingHost()
	result, err := r.EnsureImageArtifact(context.Background(), actions.Host{}, "deb12")
	if err != nil {
		t.Fatalf("EnsureImageArtifact: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected default success, got %+v", result)
	}
}
