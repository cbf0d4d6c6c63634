package modelpool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"battery_dashboard_etl/config"
	"battery_dashboard_etl/database"
	"battery_dashboard_etl/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.db")
	db, err := database.Open(sqlite.Open(path), config.PoolConfig{MaxOpenConns: 1}, false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(db), db
}

func TestListAvailableSkipsBoundAndEmptyCountsAsAvailable(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	bound := "AA:BB"
	empty := ""
	rows := []models.DeviceModel{
		{Name: "Free"},
		{Name: "Bound", MacAddress: &bound},
		{Name: "Blank", MacAddress: &empty},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	available, err := store.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("expected 2 available models, got %v", available)
	}
	if available[rows[0].ID] != "Free" || available[rows[2].ID] != "Blank" {
		t.Fatalf("unexpected available mapping %v", available)
	}
}

func TestListAvailableUnreachable(t *testing.T) {
	store, db := newTestStore(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.Close()

	available, err := store.ListAvailable(context.Background())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if available == nil || len(available) != 0 {
		t.Fatalf("expected empty non-nil mapping, got %v", available)
	}
}

func TestTryBindMacOnlyWhenUnbound(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	seeded, err := store.Seed(ctx, "X")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := seeded[0].ID

	ok, err := store.TryBindMac(ctx, id, "AA:BB")
	if err != nil || !ok {
		t.Fatalf("first bind: ok=%v err=%v", ok, err)
	}
	ok, err = store.TryBindMac(ctx, id, "CC:DD")
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if ok {
		t.Fatalf("second bind must fail on an already bound model")
	}

	model, err := store.FindByMac(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if model == nil || model.ID != id || model.Name != "X" {
		t.Fatalf("unexpected model %+v", model)
	}

	missing, err := store.FindByMac(ctx, "CC:DD")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected no model for CC:DD, got %+v", missing)
	}
}

func TestTryBindMacConcurrentClaimsHaveOneWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	seeded, err := store.Seed(ctx, "Only")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := seeded[0].ID

	const binders = 8
	var wg sync.WaitGroup
	results := make(chan bool, binders)
	for i := 0; i < binders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.TryBindMac(ctx, id, fmt.Sprintf("MAC-%d", i))
			if err != nil {
				t.Errorf("bind %d: %v", i, err)
				return
			}
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", winners)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Available() {
		t.Fatalf("expected the single model to be bound, got %+v", all)
	}
}
