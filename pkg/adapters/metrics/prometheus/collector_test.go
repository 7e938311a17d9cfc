package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollector()

	c.RecordRun("completed", 2*time.Second)
	c.RecordRun("failed", time.Second)
	c.RecordJob("callable", "completed", 10*time.Millisecond)
	c.RecordJob("callable", "completed", 20*time.Millisecond)
	c.RecordJob("script", "failed", time.Millisecond)
	c.IncRerunWarnings("callable")
	c.IncDependencyTriggered()
	c.IncDependencyTriggered()
	c.SetActiveRuns(3)
	c.RecordWorkerPoolStatus(2, 1, 0)

	body := scrape(t, c)
	for _, want := range []string{
		`maestro_runs_total{status="completed"} 1`,
		`maestro_runs_total{status="failed"} 1`,
		`maestro_jobs_executed_total{job_type="callable",status="completed"} 2`,
		`maestro_jobs_executed_total{job_type="script",status="failed"} 1`,
		`maestro_job_duration_seconds_count{job_type="callable"} 2`,
		`maestro_rerun_warnings_total{job_type="callable"} 1`,
		`maestro_dependency_triggered_total 2`,
		`maestro_active_runs 3`,
		`maestro_workers{status="idle"} 2`,
		`maestro_workers{status="busy"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.IncDependencyTriggered()

	if !strings.Contains(scrape(t, a), "maestro_dependency_triggered_total 1") {
		t.Error("expected first collector to count the dependency")
	}
	if !strings.Contains(scrape(t, b), "maestro_dependency_triggered_total 0") {
		t.Error("expected second collector to be untouched")
	}
}
