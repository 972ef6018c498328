package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(Joins)
	m.Add(RelayForwarded, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE signaling_relay_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `signaling_relay_events_total{event="relay_forwarded"} 2`) {
		t.Fatalf("missing relay_forwarded counter: %s", body)
	}
	if !strings.Contains(body, `signaling_relay_events_total{event="joins"} 1`) {
		t.Fatalf("missing joins counter: %s", body)
	}
	// Label escaping must match Prometheus text format rules.
	if !strings.Contains(body, `signaling_relay_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetricsGet(t *testing.T) {
	m := New()
	if m.Get(Joins) != 0 {
		t.Fatalf("expected zero for unknown counter")
	}
	m.Inc(Joins)
	m.Inc(Joins)
	if got := m.Get(Joins); got != 2 {
		t.Fatalf("Get=%d, want 2", got)
	}
}
