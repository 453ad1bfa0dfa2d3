package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sum float64
	found := false
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		found = true
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			}
		}
	}
	if !found {
		t.Fatalf("metric %s not found", name)
	}
	return sum
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPass("alarm", 10*time.Millisecond)
	c.RecordPass("catchup", time.Millisecond)
	c.RecordRuleFailure("r1")
	c.RecordMoves(3, 1)
	c.RecordCatchUp(0)
	c.RecordCatchUp(4)

	if v := gatherValue(t, reg, "tabqueue_passes_total"); v != 2 {
		t.Errorf("passes = %v, want 2", v)
	}
	if v := gatherValue(t, reg, "tabqueue_rule_failures_total"); v != 1 {
		t.Errorf("rule failures = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "tabqueue_items_moved_total"); v != 3 {
		t.Errorf("moved = %v, want 3", v)
	}
	if v := gatherValue(t, reg, "tabqueue_item_moves_failed_total"); v != 1 {
		t.Errorf("failed moves = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "tabqueue_catchup_runs_total"); v != 1 {
		t.Errorf("catchup runs = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "tabqueue_missed_occurrences_total"); v != 4 {
		t.Errorf("missed = %v, want 4", v)
	}
}

func TestNextWakeGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetNextWake(at)
	if v := gatherValue(t, reg, "tabqueue_next_wake_timestamp_seconds"); v != float64(at.Unix()) {
		t.Errorf("next wake = %v", v)
	}
	c.SetNextWake(time.Time{})
	if v := gatherValue(t, reg, "tabqueue_next_wake_timestamp_seconds"); v != 0 {
		t.Errorf("next wake after clear = %v", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordMoves(1, 0)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tabqueue_items_moved_total") {
		t.Error("body missing tabqueue_items_moved_total")
	}
}

func TestNopIsSafe(t *testing.T) {
	r := Nop()
	r.RecordPass("manual", 0)
	r.RecordRuleFailure("x")
	r.RecordMoves(1, 1)
	r.RecordCatchUp(1)
	r.SetNextWake(time.Now())
}
