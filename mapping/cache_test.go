package mapping

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  map[string][]IoMapping
	calls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{rows: make(map[string][]IoMapping)}
}

func (f *fakeSource) Load(ctx context.Context, imei string) ([]IoMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rows[imei], nil
}

func (f *fakeSource) MaxUpdatedAt(ctx context.Context, imei string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max time.Time
	for _, m := range f.rows[imei] {
		if m.UpdatedAt.After(max) {
			max = m.UpdatedAt
		}
	}
	return max, nil
}

func TestCacheLoadsOnFirstSight(t *testing.T) {
	src := newFakeSource()
	src.rows["123"] = []IoMapping{{IMEI: "123", IoID: 1, ColumnName: "main_battery", UpdatedAt: time.Now()}}

	c := New(src, Config{TTL: time.Hour, InactiveWindow: time.Hour, MaxSize: 10, CleanupEvery: time.Hour}, nil)
	got, err := c.Get(context.Background(), "123", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0].ColumnName != "main_battery" {
		t.Fatalf("unexpected mappings: %+v", got)
	}
	if src.calls != 1 {
		t.Fatalf("expected exactly one load call, got %d", src.calls)
	}
}

func TestCacheEmptyMappingsCachedOnMiss(t *testing.T) {
	src := newFakeSource()
	c := New(src, Config{TTL: time.Hour, InactiveWindow: time.Hour, MaxSize: 10, CleanupEvery: time.Hour}, nil)

	got, err := c.Get(context.Background(), "999", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty mappings, got %+v", got)
	}
	c.Get(context.Background(), "999", 1)
	if src.calls != 1 {
		t.Fatalf("expected the empty result to be cached, not reloaded; calls=%d", src.calls)
	}
}

func TestCacheReloadsOnTTLExpiry(t *testing.T) {
	src := newFakeSource()
	src.rows["123"] = []IoMapping{{IMEI: "123", IoID: 1, ColumnName: "v1", UpdatedAt: time.Now()}}

	c := New(src, Config{TTL: time.Millisecond, InactiveWindow: time.Hour, MaxSize: 10, CleanupEvery: time.Hour}, nil)
	c.Get(context.Background(), "123", 1)

	time.Sleep(5 * time.Millisecond)
	src.rows["123"] = []IoMapping{{IMEI: "123", IoID: 1, ColumnName: "v2", UpdatedAt: time.Now()}}

	got, _ := c.Get(context.Background(), "123", 1)
	if len(got) != 1 || got[0].ColumnName != "v2" {
		t.Fatalf("expected reload to pick up v2, got %+v", got)
	}
	if src.calls < 2 {
		t.Fatalf("expected reload to trigger a second load call, got %d", src.calls)
	}
}

func TestCacheEnforcesLRUCap(t *testing.T) {
	src := newFakeSource()
	c := New(src, Config{TTL: time.Hour, InactiveWindow: time.Hour, MaxSize: 2, CleanupEvery: time.Hour}, nil)

	c.Get(context.Background(), "a", 1)
	c.Get(context.Background(), "b", 1)
	c.Get(context.Background(), "c", 1) // should evict "a"

	if c.Len() != 2 {
		t.Fatalf("expected cache capped at 2 entries, got %d", c.Len())
	}
	c.mu.Lock()
	_, hasA := c.entries["a"]
	c.mu.Unlock()
	if hasA {
		t.Fatalf("expected least-recently-used entry \"a\" to be evicted")
	}
}

func TestColumnNamesSplitsPipeDelimited(t *testing.T) {
	m := IoMapping{ColumnName: "main_battery | battery_voltage"}
	names := m.ColumnNames()
	if len(names) != 2 || names[0] != "main_battery" || names[1] != "battery_voltage" {
		t.Fatalf("unexpected split: %+v", names)
	}
}

func TestWindowWrapsMidnight(t *testing.T) {
	w := Window{Start: 22 * time.Hour, End: 6 * time.Hour}
	late := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	early := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !w.Contains(late) || !w.Contains(early) {
		t.Fatalf("expected wrapping window to contain late/early times")
	}
	if w.Contains(midday) {
		t.Fatalf("expected wrapping window to exclude midday")
	}
}
