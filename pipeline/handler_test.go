package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"battery_dashboard_etl/aggregator"
	"battery_dashboard_etl/config"
	"battery_dashboard_etl/database"
	"battery_dashboard_etl/metrics"
	"battery_dashboard_etl/modelpool"
	"battery_dashboard_etl/models"
	"battery_dashboard_etl/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/driver/sqlite"
)

const (
	dashboardKey = "dashBateria/" + DashboardFile
	historyKey   = "dashBateria/" + HistoryFile
)

func newTestHandler(pool modelpool.Pool, timeout time.Duration) (*Handler, *storage.MemoryBucket, *storage.MemoryBucket) {
	source := storage.NewMemoryBucket("trusted")
	dest := storage.NewMemoryBucket("client")
	h := NewHandler(HandlerConfig{
		Pool:              pool,
		Source:            source,
		Destination:       dest,
		DestinationPrefix: "dashBateria/",
		RunTimeout:        timeout,
		Metrics:           metrics.New(),
		NewRand:           func() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) },
	})
	return h, source, dest
}

func expectRuns(t *testing.T, h *Handler, result string) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP battery_etl_runs_total Total pipeline runs by result
# TYPE battery_etl_runs_total counter
battery_etl_runs_total{result=%q} 1
`, result)
	if err := testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected), "battery_etl_runs_total"); err != nil {
		t.Fatalf("unexpected run metrics: %v", err)
	}
}

func TestHandleWritesBothArtifacts(t *testing.T) {
	pool := newMemPool(map[uint]string{1: "X"})
	h, source, dest := newTestHandler(pool, time.Minute)
	if err := source.PutString("telemetry/2024-01-01.csv", lines("t1,AA:BB,50,80,x,x,90,30,x,10,5,x,x,x,x")); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	msg, err := h.Handle(context.Background(), NewEvent("trusted", "telemetry/2024-01-01.csv"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg != SuccessMessage {
		t.Fatalf("unexpected message %q", msg)
	}

	for _, key := range []string{dashboardKey, historyKey} {
		content, ok := dest.Contents(key)
		if !ok {
			t.Fatalf("missing artifact %s", key)
		}
		meta, err := dest.Head(context.Background(), key)
		if err != nil {
			t.Fatalf("head %s: %v", key, err)
		}
		if meta.ContentType != storage.ContentTypeCSV || meta.ContentLength != int64(len(content)) {
			t.Fatalf("unexpected metadata for %s: %+v", key, meta)
		}
	}

	dashboard, _ := dest.Contents(dashboardKey)
	if dashboard != aggregator.DashboardHeader+"\nX,90.00,80.00,30.00,1,0,NORMAL\n" {
		t.Fatalf("unexpected dashboard:\n%s", dashboard)
	}
	expectRuns(t, h, "success")
}

func TestHandleOnlyFirstRecord(t *testing.T) {
	pool := newMemPool(map[uint]string{1: "X", 2: "Y"})
	h, source, dest := newTestHandler(pool, time.Minute)
	source.PutString("a.csv", lines("t1,AA,50,80,x,x,90,30,x,10,5,x,x,x,x"))
	source.PutString("b.csv", lines("t1,BB,50,80,x,x,90,30,x,10,5,x,x,x,x"))

	ev := NewEvent("trusted", "a.csv")
	ev.Records = append(ev.Records, NewEvent("trusted", "b.csv").Records...)
	if _, err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	hist, _ := dest.Contents(historyKey)
	if strings.Contains(hist, "BB") {
		t.Fatalf("second record must be ignored, history:\n%s", hist)
	}
	if pool.models[1].Available() == pool.models[2].Available() {
		t.Fatalf("exactly one model should be claimed")
	}
}

func TestHandleNoRecords(t *testing.T) {
	h, _, _ := newTestHandler(newMemPool(nil), time.Minute)
	if _, err := h.Handle(context.Background(), Event{}); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
}

func TestHandleUnknownBucket(t *testing.T) {
	h, _, _ := newTestHandler(newMemPool(nil), time.Minute)
	if _, err := h.Handle(context.Background(), NewEvent("elsewhere", "a.csv")); !errors.Is(err, ErrUnknownBucket) {
		t.Fatalf("expected ErrUnknownBucket, got %v", err)
	}
}

func TestHandleMissingObjectIsFatal(t *testing.T) {
	h, _, dest := newTestHandler(newMemPool(nil), time.Minute)
	_, err := h.Handle(context.Background(), NewEvent("trusted", "missing.csv"))
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if keys, _ := dest.List(context.Background(), ""); len(keys) != 0 {
		t.Fatalf("no artifact may be written on failure, got %v", keys)
	}
	expectRuns(t, h, "error")
}

func TestHandleDeadlineIsFatal(t *testing.T) {
	pool := newMemPool(map[uint]string{1: "X"})
	pool.block = true
	h, source, dest := newTestHandler(pool, 20*time.Millisecond)
	source.PutString("a.csv", lines("t1,AA,50,80,x,x,90,30,x,10,5,x,x,x,x"))

	_, err := h.Handle(context.Background(), NewEvent("trusted", "a.csv"))
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
	if keys, _ := dest.List(context.Background(), ""); len(keys) != 0 {
		t.Fatalf("no artifact may be written after a timeout, got %v", keys)
	}
}

// failingBucket rejects writes of one key
type failingBucket struct {
	*storage.MemoryBucket
	failKey string
}

func (b *failingBucket) Put(ctx context.Context, key string, body io.Reader, meta storage.ObjectMetadata) error {
	if key == b.failKey {
		return errors.New("write refused")
	}
	return b.MemoryBucket.Put(ctx, key, body, meta)
}

func TestHandleHistoryWriteFailureLeavesNoArtifacts(t *testing.T) {
	source := storage.NewMemoryBucket("trusted")
	dest := &failingBucket{MemoryBucket: storage.NewMemoryBucket("client"), failKey: historyKey}
	h := NewHandler(HandlerConfig{
		Pool:              newMemPool(map[uint]string{1: "X"}),
		Source:            source,
		Destination:       dest,
		DestinationPrefix: "dashBateria/",
		RunTimeout:        time.Minute,
		Metrics:           metrics.New(),
	})
	source.PutString("a.csv", lines("t1,AA,50,80,x,x,90,30,x,10,5,x,x,x,x"))

	if _, err := h.Handle(context.Background(), NewEvent("trusted", "a.csv")); err == nil {
		t.Fatalf("expected the failed history write to be fatal")
	}
	if keys, _ := dest.List(context.Background(), ""); len(keys) != 0 {
		t.Fatalf("dashboard must be removed when history fails, got %v", keys)
	}
	expectRuns(t, h, "error")
}

func TestProcessAgainstSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.db")
	db, err := database.Open(sqlite.Open(path), config.PoolConfig{MaxOpenConns: 1}, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := modelpool.NewStore(db)
	if _, err := store.Seed(context.Background(), "Alpha", "Beta"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var rows []string
	for i := 0; i < 5; i++ {
		for j := 0; j < 2; j++ {
			rows = append(rows, fmt.Sprintf("t%d%d,MAC-%d,50,80,x,x,90,30,x,1,1,x,x,x,x", i, j, i))
		}
	}

	h, source, _ := newTestHandler(store, time.Minute)
	source.PutString("a.csv", lines(rows...))

	res, err := h.Process(context.Background(), "a.csv")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted != 4 || res.Unmapped != 6 {
		t.Fatalf("expected 4 accepted and 6 unmapped, got %+v", res)
	}

	all, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := make(map[string]bool)
	for _, m := range all {
		if m.Available() {
			t.Fatalf("model %s should be bound", m.Name)
		}
		if seen[m.Mac()] {
			t.Fatalf("mac %s bound twice", m.Mac())
		}
		seen[m.Mac()] = true
	}

	// a second run with the same input resolves through existing bindings
	again, err := h.Process(context.Background(), "a.csv")
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if again.Accepted != 4 {
		t.Fatalf("expected stable bindings on rerun, got %+v", again)
	}
}
