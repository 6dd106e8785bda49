package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.IncEventIngested()
	m.IncEventDelivered()
	m.IncEventFailed("permanent_error")
	m.IncRetryScheduled()
	m.ObserveDeliveryDuration(time.Second)
	m.SetPendingEvents(3)

	if m.Handler() == nil {
		t.Fatal("nil metrics should still return a handler")
	}
}

func TestMetrics_Exposition(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.IncEventIngested()
	m.IncEventDelivered()
	m.IncEventFailed("retry_exhausted")
	m.IncEventFailed("")
	m.IncRetryScheduled()
	m.ObserveDeliveryDuration(-time.Second)
	m.SetPendingEvents(7)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(recorder, request)

	if recorder.Code != 200 {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	body := recorder.Body.String()
	for _, want := range []string{
		"tagrelay_events_ingested_total 1",
		"tagrelay_events_delivered_total 1",
		`tagrelay_events_failed_total{reason="retry_exhausted"} 1`,
		`tagrelay_events_failed_total{reason="unknown"} 1`,
		"tagrelay_retry_scheduled_total 1",
		"tagrelay_pending_events 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
