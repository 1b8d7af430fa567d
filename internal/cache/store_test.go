package cache

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dentalnet/offline-edge/internal/fetch"
)

func TestPartitionPutAndGet(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	partition, err := manager.OpenPartition(ctx, "dentalnet-v1.0.0")
	if err != nil {
		t.Fatalf("open partition error: %v", err)
	}

	key := Key("GET http://clinic.local/app.css")
	header := http.Header{}
	header.Set("Content-Type", "text/css")
	if err := partition.Put(ctx, key, CapturedResponse{Status: 200, Header: header, Body: []byte("body{}")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := partition.Get(ctx, key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got.Body) != "body{}" {
		t.Fatalf("cached payload mismatch: %s", string(got.Body))
	}
	if got.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("header mismatch: %v", got.Header)
	}
	if got.StoredAt.IsZero() {
		t.Fatalf("StoredAt should be filled on write")
	}
	if partition.Len() != 1 {
		t.Fatalf("expected one entry, got %d", partition.Len())
	}
}

func TestPartitionGetMissing(t *testing.T) {
	manager := newTestManager(t)
	partition, err := manager.OpenPartition(context.Background(), "dentalnet-api-v1.0.0")
	if err != nil {
		t.Fatalf("open partition error: %v", err)
	}
	if _, err := partition.Get(context.Background(), Key("GET http://clinic.local/missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPartitionPutStoresClone(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	partition, _ := manager.OpenPartition(ctx, "dentalnet-v1.0.0")

	body := []byte("original")
	key := Key("GET http://clinic.local/index.html")
	if err := partition.Put(ctx, key, CapturedResponse{Status: 200, Body: body}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	copy(body, "mutated!")

	got, err := partition.Get(ctx, key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got.Body) != "original" {
		t.Fatalf("cache must hold its own copy, got %s", string(got.Body))
	}
}

func TestPartitionDelete(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	partition, _ := manager.OpenPartition(ctx, "dentalnet-v1.0.0")
	key := Key("GET http://clinic.local/remove")
	if err := partition.Put(ctx, key, CapturedResponse{Status: 200, Body: []byte("data")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := partition.Delete(ctx, key); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := partition.Get(ctx, key); err != ErrNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := partition.Delete(ctx, key); err != nil {
		t.Fatalf("deleting a missing entry should not fail: %v", err)
	}
}

func TestOpenPartitionIsIdempotent(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	first, err := manager.OpenPartition(ctx, "dentalnet-v1.0.0")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	second, err := manager.OpenPartition(ctx, "dentalnet-v1.0.0")
	if err != nil {
		t.Fatalf("second open error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same partition handle")
	}
	names, _ := manager.Partitions(ctx)
	if len(names) != 1 {
		t.Fatalf("expected a single partition, got %v", names)
	}
}

func TestOpenPartitionRejectsTraversal(t *testing.T) {
	manager := newTestManager(t)
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := manager.OpenPartition(context.Background(), name); err != ErrInvalidPartition {
			t.Fatalf("expected ErrInvalidPartition for %q, got %v", name, err)
		}
	}
}

func TestEvictStalePartitions(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	for _, name := range []string{"dentalnet-v0.9.0", "dentalnet-api-v0.9.0", "dentalnet-v1.0.0", "dentalnet-api-v1.0.0", "other"} {
		if _, err := manager.OpenPartition(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	current := NewPartitionSet("dentalnet", "1.0.0")
	removed, err := manager.EvictStalePartitions(ctx, current.Names())
	if err != nil {
		t.Fatalf("evict error: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("expected 3 removed partitions, got %v", removed)
	}
	for _, name := range removed {
		if manager.Has(name) {
			t.Fatalf("partition %s should be gone", name)
		}
	}
	if !manager.Has(current.Static) || !manager.Has(current.API) {
		t.Fatalf("current partitions must survive eviction")
	}
}

func TestEvictIgnoresLooseFiles(t *testing.T) {
	manager := newTestManager(t)
	stray := filepath.Join(manager.basePath, partitionsDir, "README")
	if err := os.WriteFile(stray, []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if _, err := manager.EvictStalePartitions(context.Background(), map[string]struct{}{}); err != nil {
		t.Fatalf("evict error: %v", err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("non-partition files should be left alone: %v", err)
	}
}

func TestKeyForNormalizesQueryAndHost(t *testing.T) {
	a, _ := fetch.NewRequest("get", "http://Clinic.Local/api/clinics?b=2&a=1#frag")
	b, _ := fetch.NewRequest("GET", "http://clinic.local/api/./clinics?a=1&b=2")
	if KeyFor(a) != KeyFor(b) {
		t.Fatalf("keys should match: %s vs %s", KeyFor(a), KeyFor(b))
	}
	post, _ := fetch.NewRequest("POST", "http://clinic.local/api/clinics?a=1&b=2")
	if KeyFor(post) == KeyFor(b) {
		t.Fatalf("method must be part of the key")
	}
}

func TestCapturedResponseRoundTrip(t *testing.T) {
	resp := &fetch.Response{Status: 200, Header: http.Header{"X-Test": {"1"}}, Body: []byte("hi"), Source: fetch.SourceNetwork}
	captured := Capture(resp)
	resp.Body[0] = 'H'
	out := captured.Response()
	if string(out.Body) != "hi" {
		t.Fatalf("capture must copy the body, got %s", string(out.Body))
	}
	if out.Source != fetch.SourceCache {
		t.Fatalf("restored response should be marked as cache, got %s", out.Source)
	}
}

// newTestManager returns a Manager backed by a temporary directory.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return manager
}

func TestPartitionPutLeavesNoTempFiles(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	partition, _ := manager.OpenPartition(ctx, "dentalnet-v1.0.0")
	for i := 0; i < 3; i++ {
		if err := partition.Put(ctx, Key("GET http://clinic.local/app.js"), CapturedResponse{Status: 200, Body: []byte("x")}); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(manager.basePath, partitionsDir, "dentalnet-v1.0.0", ".cache-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files should be renamed or removed, found %v", matches)
	}
	if partition.Len() != 1 {
		t.Fatalf("overwrite should keep a single entry, got %d", partition.Len())
	}
}

func TestVersionRecordsFollowPartitions(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	set := NewPartitionSet("dentalnet", "1.0.0")
	if _, ok := manager.Installed(set); ok {
		t.Fatalf("nothing is installed yet")
	}
	for _, name := range []string{set.Static, set.API} {
		if _, err := manager.OpenPartition(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := manager.MarkInstalled(ctx, set, at); err != nil {
		t.Fatalf("mark installed: %v", err)
	}
	record, ok := manager.Installed(set)
	if !ok || !record.InstalledAt.Equal(at) {
		t.Fatalf("install record missing: %+v %v", record, ok)
	}
	static, _ := manager.OpenPartition(ctx, set.Static)
	if static.Len() != 0 {
		t.Fatalf("the marker must not count as a cache entry")
	}

	if err := manager.SetActive(ctx, set, at); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if active, ok := manager.Active(); !ok || active.Set != set {
		t.Fatalf("active record mismatch: %+v %v", active, ok)
	}

	if _, err := manager.EvictStalePartitions(ctx, map[string]struct{}{}); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, ok := manager.Installed(set); ok {
		t.Fatalf("evicted partitions lose their install marker")
	}
	if _, ok := manager.Active(); ok {
		t.Fatalf("active record must be ignored once its partitions are gone")
	}
}
