package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.IncRow(RowAccepted)
	r.IncRow(RowAccepted)
	r.IncRow(RowShort)
	r.IncBinding(BindConflict)
	r.SetPoolSize(3)
	r.ObserveRun(ResultSuccess, 2*time.Second)

	if got := testutil.ToFloat64(r.rows.WithLabelValues(RowAccepted)); got != 2 {
		t.Fatalf("expected 2 accepted rows, got %v", got)
	}
	if got := testutil.ToFloat64(r.rows.WithLabelValues(RowShort)); got != 1 {
		t.Fatalf("expected 1 short row, got %v", got)
	}
	if got := testutil.ToFloat64(r.bindings.WithLabelValues(BindConflict)); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(r.poolSize); got != 3 {
		t.Fatalf("expected pool size 3, got %v", got)
	}
	if got := testutil.ToFloat64(r.runs.WithLabelValues(ResultSuccess)); got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.IncRow(RowAccepted)
	r.ObserveRun(ResultError, time.Second)
	if err := r.WriteTextfile("ignored.prom"); err != nil {
		t.Fatalf("nil recorder write: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.IncRow(RowMalformed)
	path := filepath.Join(t.TempDir(), "etl.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `battery_etl_rows_total{outcome="malformed"} 1`) {
		t.Fatalf("unexpected textfile content:\n%s", data)
	}
}
