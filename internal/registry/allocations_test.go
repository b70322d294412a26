package registry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adnuntius/ASgard/internal/config"
	"github.com/Adnuntius/ASgard/internal/models"
)

func newTestAllocationCache(t *testing.T, sources []string) (*AllocationCache, *time.Time) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RegistrySources = sources
	paths := config.StatePaths{BaseDir: t.TempDir()}
	cache := NewAllocationCache(cfg, paths)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	return cache, &now
}

func writeSnapshot(t *testing.T, cache *AllocationCache, stamp time.Time, allocations []models.AsnAllocation) {
	t.Helper()
	if err := cache.paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	name := allocationFilePrefix + stamp.UTC().Format("20060102T150405Z") + ".ndjson"
	path := filepath.Join(cache.paths.AllocationsDir(), name)
	if err := writeAllocationFile(path, allocations); err != nil {
		t.Fatalf("writeAllocationFile: %v", err)
	}
}

func TestAllocationsUsesFreshSnapshot(t *testing.T) {
	cache, now := newTestAllocationCache(t, []string{"http://unreachable.invalid/feed"})
	cached := []models.AsnAllocation{{StartASN: 100, Count: 5, Registry: "ripencc", Status: "allocated"}}
	writeSnapshot(t, cache, now.Add(-time.Hour), cached)

	allocations, err := cache.Allocations()
	if err != nil {
		t.Fatalf("Allocations: %v", err)
	}
	if len(allocations) != 1 || allocations[0].StartASN != 100 || allocations[0].Count != 5 {
		t.Errorf("allocations = %+v", allocations)
	}
}

func TestAllocationsRefreshesExpiredSnapshot(t *testing.T) {
	feed := "arin|US|asn|200|1|20010101|allocated|handle\n" +
		"arin|US|asn|300|2|20020202|assigned|handle\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	cache, now := newTestAllocationCache(t, []string{server.URL})
	stale := []models.AsnAllocation{{StartASN: 1, Count: 1, Registry: "ripencc", Status: "allocated"}}
	writeSnapshot(t, cache, now.Add(-8*24*time.Hour), stale)

	allocations, err := cache.Allocations()
	if err != nil {
		t.Fatalf("Allocations: %v", err)
	}
	if len(allocations) != 2 || allocations[0].StartASN != 200 || allocations[1].StartASN != 300 {
		t.Errorf("allocations = %+v", allocations)
	}

	// The refresh leaves a new snapshot behind
	entries, err := os.ReadDir(cache.paths.AllocationsDir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	wantName := allocationFilePrefix + now.UTC().Format("20060102T150405Z") + ".ndjson"
	var found bool
	for _, entry := range entries {
		if entry.Name() == wantName {
			found = true
		}
	}
	if !found {
		t.Errorf("snapshot %s not written; have %v", wantName, entries)
	}
}

func TestAllocationsRefreshWhenNoSnapshotExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ripencc|NL|asn|400|1|20100101|allocated\n")
	}))
	defer server.Close()

	cache, _ := newTestAllocationCache(t, []string{server.URL})
	allocations, err := cache.Allocations()
	if err != nil {
		t.Fatalf("Allocations: %v", err)
	}
	if len(allocations) != 1 || allocations[0].StartASN != 400 {
		t.Errorf("allocations = %+v", allocations)
	}
}
