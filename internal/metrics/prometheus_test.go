package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncExecution(OutcomeSucceeded)
	pr.IncExecution(OutcomeSucceeded)
	pr.IncExecution(OutcomeRejected)
	pr.ObserveExecutionDuration(150 * time.Millisecond)
	pr.AddCommands(7)
	pr.IncPreflightRejection("E_ZONE_VIOLATION")
	pr.ObserveMatchRatio(0.97)
	pr.IncVerifyAttempt(true)
	pr.IncVerifyInconclusive()

	if got := testutil.ToFloat64(pr.executions.WithLabelValues("succeeded")); got != 2 {
		t.Fatalf("succeeded executions: got %v want 2", got)
	}
	if got := testutil.ToFloat64(pr.commands); got != 7 {
		t.Fatalf("commands: got %v want 7", got)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 7 {
		t.Fatalf("metric families: got %d want 7", len(mfs))
	}
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncExecution(OutcomeFailed)
	pr.AddCommands(3)
	pr.ObserveMatchRatio(1)
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncExecution(OutcomeCancelled)

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `voxelbuild_executions_total{outcome="cancelled"} 1`) {
		t.Fatalf("missing executions counter in:\n%s", body)
	}
}
