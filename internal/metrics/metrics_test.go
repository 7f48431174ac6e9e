package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_ServesHandlerMetrics(t *testing.T) {
	reg := NewRegistry(Config{Enabled: true, Namespace: "filestor"})

	reg.Handler.Scheduled(0)
	reg.Handler.Dispatched(0, 0.002)
	reg.Handler.QueueTimeout(0, 1.5)
	reg.Handler.SetQueueSize(0, 7)
	reg.Handler.LockAcquired(0, "exclusive")
	reg.Handler.SetActiveMerges(2)

	rec := httptest.NewRecorder()
	reg.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`filestor_scheduled_total{disk="0"} 1`,
		`filestor_dispatched_total{disk="0"} 1`,
		`filestor_queue_timeouts_total{disk="0"} 1`,
		`filestor_queue_size{disk="0"} 7`,
		`filestor_locks_held{disk="0",mode="exclusive"} 1`,
		`filestor_active_merges 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	// Both the dispatch and the timeout wait times land in one histogram.
	if !strings.Contains(body, `filestor_queue_wait_seconds_count{disk="0"} 2`) {
		t.Error("queue_wait histogram count missing or wrong")
	}
}

func TestRegistry_DisabledIsNoOp(t *testing.T) {
	reg := NewRegistry(Config{Enabled: false})

	// Must not panic or register anything.
	reg.Handler.Scheduled(0)
	reg.Handler.Aborted(3)

	rec := httptest.NewRecorder()
	reg.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rec.Body.String(), "filestor_") {
		t.Error("disabled registry still exposes filestor metrics")
	}
}

func TestNopHandlerMetrics(t *testing.T) {
	m := NopHandlerMetrics()
	// All methods are safe no-ops.
	m.Scheduled(1)
	m.Rejected(1)
	m.Dispatched(1, 0.1)
	m.QueueTimeout(1, 0.1)
	m.Aborted(5)
	m.Remapped("split")
	m.FailedOperation(1)
	m.SetQueueSize(1, 1)
	m.SetStripeQueueSize(1, 2, 3)
	m.LockAcquired(1, "shared")
	m.LockReleased(1, "shared")
	m.SetActiveMerges(1)
}
