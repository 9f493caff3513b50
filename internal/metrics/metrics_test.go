package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunCollectors(t *testing.T) {
	r := New()
	r.ObserveFetch("gdg-buenos-aires", true, 1, 200*time.Millisecond)
	r.ObserveFetch("broken", false, 2, time.Second)
	r.ObserveFetch("broken", false, 2, time.Second)
	r.SetEvents("final", 42)
	r.SetMonths(3)
	r.RunFinished(nil, time.Unix(1700000000, 0))
	r.RunFinished(errors.New("disk full"), time.Now())

	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("broken", "error")); got != 2 {
		t.Errorf("broken errors = %v", got)
	}
	if got := testutil.ToFloat64(r.stageEvents.WithLabelValues("final")); got != 42 {
		t.Errorf("final events = %v", got)
	}
	if got := testutil.ToFloat64(r.lastSuccessTS); got != 1700000000 {
		t.Errorf("last success = %v", got)
	}
	if got := testutil.ToFloat64(r.runsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
}

func TestWriteFile(t *testing.T) {
	r := New()
	r.SetMonths(2)
	r.ObserveStage("dedupe", 1500*time.Millisecond)

	path := filepath.Join(t.TempDir(), "cfpradar.prom")
	if err := r.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"cfpradar_months 2", `cfpradar_stage_duration_seconds{stage="dedupe"} 1.5`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
