package metrics_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/botshell/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistryExposesMetrics(t *testing.T) {
	metrics.EmitBuildInfo()
	metrics.SetBackendReachable(true)
	metrics.RecordSpawn(nil)
	metrics.RecordSpawn(errors.New("boom"))
	metrics.RecordRestart("managed_skip_graceful", nil)
	metrics.ObserveProbeLatency(3 * time.Millisecond)

	body := scrape(t)
	for _, line := range []string{
		"botshell_backend_reachable 1",
		`botshell_backend_spawns_total{result="ok"} 1`,
		`botshell_backend_spawns_total{result="error"} 1`,
		`botshell_backend_restarts_total{result="ok",strategy="managed_skip_graceful"} 1`,
		"botshell_probe_latency_seconds_count 1",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}
	if !strings.Contains(body, "botshell_build_info{") || !strings.Contains(body, "go_version=") {
		t.Fatalf("expected build info metric in body:\n%s", body)
	}

	metrics.SetBackendReachable(false)
	if !strings.Contains(scrape(t), "botshell_backend_reachable 0") {
		t.Fatalf("expected reachability gauge to drop")
	}
}
