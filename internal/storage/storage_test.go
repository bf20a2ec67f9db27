package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "tradecore.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	invalidPath := "/root/nonexistent/path"

	_, err := New(invalidPath)
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{db: nil}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestSaveAndListOrphans(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	o := common.OrphanSL{SLOrderID: "sl-1", Reason: "cancel failed: timeout", Timestamp: time.Now()}
	if err := store.SaveOrphan(ctx, o); err != nil {
		t.Fatalf("Failed to save orphan: %v", err)
	}

	orphans, err := store.ListOrphans(ctx)
	if err != nil {
		t.Fatalf("Failed to list orphans: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("Expected 1 orphan, got %d", len(orphans))
	}
	if orphans[0].SLOrderID != "sl-1" {
		t.Errorf("Expected sl-1, got %s", orphans[0].SLOrderID)
	}
}

func TestListOrphansPrunesExpired(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	stale := common.OrphanSL{
		SLOrderID: "sl-stale",
		Reason:    "old",
		Timestamp: time.Now().Add(-time.Duration(common.OrphanSLTTLDays+1) * 24 * time.Hour),
	}
	fresh := common.OrphanSL{SLOrderID: "sl-fresh", Reason: "recent", Timestamp: time.Now()}
	if err := store.SaveOrphan(ctx, stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}
	if err := store.SaveOrphan(ctx, fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	orphans, err := store.ListOrphans(ctx)
	if err != nil {
		t.Fatalf("list orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].SLOrderID != "sl-fresh" {
		t.Errorf("expected only sl-fresh to survive TTL pruning, got %+v", orphans)
	}
}

func TestRemoveOrphan(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	o := common.OrphanSL{SLOrderID: "sl-2", Reason: "x", Timestamp: time.Now()}
	if err := store.SaveOrphan(ctx, o); err != nil {
		t.Fatalf("save orphan: %v", err)
	}
	if err := store.RemoveOrphan(ctx, "sl-2"); err != nil {
		t.Fatalf("remove orphan: %v", err)
	}

	orphans, err := store.ListOrphans(ctx)
	if err != nil {
		t.Fatalf("list orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("expected no orphans after removal, got %d", len(orphans))
	}
}

func TestSaveOrphanEvictsOldestBeyondCap(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < common.OrphanSLJournalCap+5; i++ {
		o := common.OrphanSL{
			SLOrderID: fmt.Sprintf("sl-%d", i),
			Reason:    "x",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveOrphan(ctx, o); err != nil {
			t.Fatalf("save orphan %d: %v", i, err)
		}
	}

	orphans, err := store.ListOrphans(ctx)
	if err != nil {
		t.Fatalf("list orphans: %v", err)
	}
	if len(orphans) > common.OrphanSLJournalCap {
		t.Errorf("expected at most %d orphans after eviction, got %d", common.OrphanSLJournalCap, len(orphans))
	}
}

func TestSaveAndGetBars(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now()
	bars := []exchange.Bar{
		{TimestampMs: now.UnixMilli(), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
		{TimestampMs: now.Add(time.Minute).UnixMilli(), Open: 100.5, High: 102, Low: 100, Close: 101, Volume: 12},
		{TimestampMs: now.Add(10 * time.Minute).UnixMilli(), Open: 101, High: 103, Low: 100.5, Close: 102, Volume: 8}, // outside range below
	}
	for _, bar := range bars {
		if err := store.SaveBar("BTCUSDT", "1m", bar); err != nil {
			t.Fatalf("save bar: %v", err)
		}
	}

	start := now.Add(-time.Second)
	end := now.Add(5 * time.Minute)
	got, err := store.GetBars("BTCUSDT", "1m", start, end)
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars in range, got %d", len(got))
	}
	if got[0].Close != 100.5 {
		t.Errorf("expected first bar close 100.5, got %v", got[0].Close)
	}
}

func TestGetBarsEmptyResult(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now()
	bars, err := store.GetBars("BTCUSDT", "1m", now.Add(-time.Hour), now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("expected empty result, got %d bars", len(bars))
	}
}

func TestGetBarsIsolatesSymbolAndTimeframe(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now()
	if err := store.SaveBar("BTCUSDT", "1m", exchange.Bar{TimestampMs: now.UnixMilli(), Close: 100}); err != nil {
		t.Fatalf("save bar: %v", err)
	}
	if err := store.SaveBar("BTCUSDT", "5m", exchange.Bar{TimestampMs: now.UnixMilli(), Close: 200}); err != nil {
		t.Fatalf("save bar: %v", err)
	}
	if err := store.SaveBar("ETHUSDT", "1m", exchange.Bar{TimestampMs: now.UnixMilli(), Close: 300}); err != nil {
		t.Fatalf("save bar: %v", err)
	}

	got, err := store.GetBars("BTCUSDT", "1m", now.Add(-time.Second), now.Add(time.Second))
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(got) != 1 || got[0].Close != 100 {
		t.Errorf("expected exactly the BTCUSDT/1m bar, got %+v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	done := make(chan bool, 10)

	for i := 0; i < 5; i++ {
		go func(id int) {
			now := time.Now()
			for j := 0; j < 10; j++ {
				store.SaveBar("BTCUSDT", "1m", exchange.Bar{TimestampMs: now.Add(time.Duration(j) * time.Millisecond).UnixMilli()})
				store.SaveOrphan(ctx, common.OrphanSL{SLOrderID: fmt.Sprintf("sl-%d-%d", id, j), Timestamp: now})
			}
			done <- true
		}(i)
	}
	for i := 0; i < 5; i++ {
		go func(id int) {
			now := time.Now()
			for j := 0; j < 10; j++ {
				store.GetBars("BTCUSDT", "1m", now.Add(-time.Second), now.Add(time.Second))
				store.ListOrphans(ctx)
			}
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func BenchmarkSaveBar(b *testing.B) {
	tempDir := b.TempDir()
	store, err := New(tempDir)
	if err != nil {
		b.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	baseTime := time.Now()
	bars := make([]exchange.Bar, b.N)
	for i := 0; i < b.N; i++ {
		bars[i] = exchange.Bar{TimestampMs: baseTime.Add(time.Duration(i) * time.Millisecond).UnixMilli(), Close: 100}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.SaveBar("BTCUSDT", "1m", bars[i])
	}
}
