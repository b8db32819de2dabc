package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/sigrt/internal/metrics"
)

func TestRegistryExposesMetrics(t *testing.T) {
	t.Helper()

	metrics.EmitBuildInfo()
	metrics.SignalSent("metrics_test_route", "USR1")
	metrics.SignalSent("metrics_test_route", "USR1")
	metrics.SignalDelivered("metrics_test_sig", "handler")
	metrics.SignalRequeued("metrics_test_sig")
	metrics.AddChildren(2, 1)
	metrics.AddChildren(-1, 0)
	metrics.ZombieDropped()
	metrics.WaitsInterrupted(0)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}

	body := rec.Body.String()
	for _, line := range []string{
		`sigrt_signals_sent_total{route="metrics_test_route",signal="USR1"} 2`,
		`sigrt_signals_delivered_total{disposition="handler",signal="metrics_test_sig"} 1`,
		`sigrt_signals_requeued_total{signal="metrics_test_sig"} 1`,
		"sigrt_zombies_dropped_total ",
		"sigrt_children_live ",
		"sigrt_build_info{",
		"go_version=",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}
}
