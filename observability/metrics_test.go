package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReloadMetrics_Record(t *testing.T) {
	m := NewReloadMetrics(DefaultMetricsConfig())

	m.RecordScan("no_change", 10*time.Millisecond)
	m.RecordScan("no_change", 10*time.Millisecond)
	m.RecordScan("reloaded", 40*time.Millisecond)
	m.RecordCompilation("failed")
	m.RecordReload("hotswap", 3)
	m.SetFaulted(true)

	if got := testutil.ToFloat64(m.Scans.WithLabelValues("no_change")); got != 2 {
		t.Errorf("expected 2 no_change scans, got %v", got)
	}
	if got := testutil.ToFloat64(m.Compilations.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed compilation, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChangedClasses); got != 3 {
		t.Errorf("expected 3 changed classes, got %v", got)
	}
	if got := testutil.ToFloat64(m.Faulted); got != 1 {
		t.Errorf("expected faulted gauge 1, got %v", got)
	}

	m.SetFaulted(false)
	if got := testutil.ToFloat64(m.Faulted); got != 0 {
		t.Errorf("expected faulted gauge 0, got %v", got)
	}
}

func TestReloadMetrics_NilIsNoop(t *testing.T) {
	var m *ReloadMetrics
	m.RecordScan("no_change", time.Second)
	m.RecordCompilation("ok")
	m.RecordReload("restart", 1)
	m.SetFaulted(true)
}

func TestReloadMetrics_Handler(t *testing.T) {
	m := NewReloadMetrics(DefaultMetricsConfig())
	m.RecordReload("restart", 0)

	if m.MetricsPath() != "/metrics" {
		t.Errorf("expected /metrics, got %q", m.MetricsPath())
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `devreload_reloads_total{kind="restart"} 1`) {
		t.Errorf("expected reloads counter in output, got:\n%s", body)
	}
}
