package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// StatePaths resolves the on-disk layout of the state directory.
type StatePaths struct {
	BaseDir string
}

// NewStatePaths picks the state directory from the override, the
// ASGARD_STATE_DIR environment variable, or ~/.asgard.
func NewStatePaths(override string) StatePaths {
	if override != "" {
		return StatePaths{BaseDir: override}
	}
	if env := os.Getenv("ASGARD_STATE_DIR"); env != "" {
		return StatePaths{BaseDir: env}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return StatePaths{BaseDir: filepath.Join(home, ".asgard")}
}

// ConfigFile is the JSON configuration file path.
func (p StatePaths) ConfigFile() string {
	return filepath.Join(p.BaseDir, "asgard.json")
}

// CacheDir holds downloaded registry artifacts.
func (p StatePaths) CacheDir() string {
	return filepath.Join(p.BaseDir, "cache")
}

// AllocationsDir holds timestamped allocation cache files.
func (p StatePaths) AllocationsDir() string {
	return filepath.Join(p.CacheDir(), "allocations")
}

// DatabaseFile is the assembled registry metadata cache (NDJSON).
func (p StatePaths) DatabaseFile() string {
	return filepath.Join(p.CacheDir(), "registry-cache.ndjson")
}

// AuditDir holds per-ASN classifier request/response logs.
func (p StatePaths) AuditDir() string {
	return filepath.Join(p.BaseDir, "logs")
}

// OutputFile returns the override when given, otherwise the default
// classification output path inside the state directory.
func (p StatePaths) OutputFile(override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(p.BaseDir, "asn-classifications.tsv")
}

// EnsureDirectories creates the state directory tree.
func (p StatePaths) EnsureDirectories() error {
	for _, dir := range []string{p.BaseDir, p.CacheDir(), p.AllocationsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("unable to initialize state directory %s: %w", dir, err)
		}
	}
	return nil
}
