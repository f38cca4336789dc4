package telemetry

import (
	"testing"

	"lobbysim/server/logging"
)

func TestLoggerFuncForwards(t *testing.T) {
	var got string
	logger := LoggerFunc(func(format string, args ...any) {
		got = format
	})
	logger.Printf("hello %s", "world")
	if got != "hello %s" {
		t.Fatalf("expected format forwarded, got %q", got)
	}
}

func TestWrapMetricsForwardsCounters(t *testing.T) {
	store := logging.NewMetrics()
	metrics := WrapMetrics(store)

	metrics.Add("replication.directives_start", 3)
	metrics.Add("replication.directives_start", 2)
	metrics.Store("replication.clients", 4)

	if got := store.TelemetryValue("replication.directives_start"); got != 5 {
		t.Fatalf("expected counter 5, got %d", got)
	}
	if got := store.TelemetryValue("replication.clients"); got != 4 {
		t.Fatalf("expected stored value 4, got %d", got)
	}
}

func TestNilAdaptersAreSafe(t *testing.T) {
	var logger LoggerFunc
	logger.Printf("ignored")

	metrics := WrapMetrics(nil)
	metrics.Add("x", 1)
	metrics.Store("x", 1)
}
