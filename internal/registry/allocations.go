package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/config"
	"github.com/Adnuntius/ASgard/internal/models"
)

const allocationFilePrefix = "allocations-"

// AllocationCache serves the list of allocated ASN ranges, refreshing it
// from the delegated-extended feeds when the newest cached snapshot is older
// than the configured TTL.
type AllocationCache struct {
	cfg        *config.Config
	paths      config.StatePaths
	downloader *Downloader
	now        func() time.Time
}

// NewAllocationCache returns a cache over the configured state directory.
func NewAllocationCache(cfg *config.Config, paths config.StatePaths) *AllocationCache {
	return &AllocationCache{cfg: cfg, paths: paths, downloader: NewDownloader(), now: time.Now}
}

// Allocations returns the cached allocations when fresh, otherwise fetches
// the feeds and writes a new timestamped snapshot.
func (c *AllocationCache) Allocations() ([]models.AsnAllocation, error) {
	if err := c.paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	if path, ok := c.freshSnapshot(); ok {
		allocations, err := readAllocationFile(path)
		if err == nil {
			commons.Logger.Infof("Loaded %d allocations from %s", len(allocations), path)
			return allocations, nil
		}
		commons.Logger.Warnf("Discarding unreadable allocation snapshot %s: %v", path, err)
	}
	return c.refresh()
}

// freshSnapshot returns the newest allocation file still within the TTL.
func (c *AllocationCache) freshSnapshot() (string, bool) {
	entries, err := os.ReadDir(c.paths.AllocationsDir())
	if err != nil {
		return "", false
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, allocationFilePrefix) && strings.HasSuffix(name, ".ndjson") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	// Timestamped names sort chronologically
	sort.Strings(names)
	newest := names[len(names)-1]
	stamp := strings.TrimSuffix(strings.TrimPrefix(newest, allocationFilePrefix), ".ndjson")
	written, err := time.Parse("20060102T150405Z", stamp)
	if err != nil {
		return "", false
	}
	if c.now().UTC().Sub(written) > c.cfg.RegistryTTL {
		return "", false
	}
	return filepath.Join(c.paths.AllocationsDir(), newest), true
}

func (c *AllocationCache) refresh() ([]models.AsnAllocation, error) {
	commons.Logger.Info("Refreshing ASN allocations from delegated extended feeds")
	var all []models.AsnAllocation
	for _, source := range c.cfg.RegistrySources {
		path, err := c.downloader.FetchToTemp(source)
		if err != nil {
			return nil, fmt.Errorf("allocation refresh failed for %s: %w", source, err)
		}
		allocations, err := parseAllocationDownload(path)
		os.Remove(path)
		if err != nil {
			return nil, fmt.Errorf("parse delegated extended from %s: %w", source, err)
		}
		all = append(all, allocations...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartASN < all[j].StartASN })

	name := allocationFilePrefix + c.now().UTC().Format("20060102T150405Z") + ".ndjson"
	target := filepath.Join(c.paths.AllocationsDir(), name)
	if err := writeAllocationFile(target, all); err != nil {
		return nil, err
	}
	commons.Logger.Infof("Cached %d allocations to %s", len(all), target)
	return all, nil
}

func parseAllocationDownload(path string) ([]models.AsnAllocation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseAllocations(file)
}

func readAllocationFile(path string) ([]models.AsnAllocation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var allocations []models.AsnAllocation
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var allocation models.AsnAllocation
		if err := json.Unmarshal(line, &allocation); err != nil {
			return nil, err
		}
		allocations = append(allocations, allocation)
	}
	return allocations, scanner.Err()
}

func writeAllocationFile(path string, allocations []models.AsnAllocation) error {
	temp, err := os.CreateTemp(filepath.Dir(path), "allocations-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp allocation file: %w", err)
	}
	writer := bufio.NewWriter(temp)
	for _, allocation := range allocations {
		line, err := json.Marshal(allocation)
		if err != nil {
			temp.Close()
			os.Remove(temp.Name())
			return err
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			temp.Close()
			os.Remove(temp.Name())
			return fmt.Errorf("write allocation snapshot: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("flush allocation snapshot: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return err
	}
	if err := os.Rename(temp.Name(), path); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("promote allocation snapshot: %w", err)
	}
	return nil
}
