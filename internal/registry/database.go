package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/models"
)

// Database is the in-memory view of the registry cache, loaded once from the
// NDJSON file that a cache build produced. Lookups are read-only after load.
type Database struct {
	entries map[int64]models.AsnMetadata
}

// OpenDatabase loads the registry cache at path. A missing file yields an
// empty database with a warning; a corrupt line aborts the load so a
// truncated cache is never half-trusted.
func OpenDatabase(path string) (*Database, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			commons.Logger.Warnf("Registry cache %s not found, run the cache build first", path)
			return &Database{entries: map[int64]models.AsnMetadata{}}, nil
		}
		return nil, fmt.Errorf("open registry cache %s: %w", path, err)
	}
	defer file.Close()

	entries := make(map[int64]models.AsnMetadata)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry models.AsnMetadata
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("registry cache %s line %d: %w", path, lineNo, err)
		}
		entries[entry.ASN] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read registry cache %s: %w", path, err)
	}
	commons.Logger.Infof("Loaded registry cache with %d entries from %s", len(entries), path)
	return &Database{entries: entries}, nil
}

// Lookup returns the cached record for an ASN.
func (d *Database) Lookup(asn int64) (models.AsnMetadata, bool) {
	entry, ok := d.entries[asn]
	return entry, ok
}

// Size returns the number of cached records.
func (d *Database) Size() int {
	return len(d.entries)
}

// WriteDatabase writes entries as NDJSON through a temp file in the target
// directory and renames it into place, so readers only ever see a complete
// cache.
func WriteDatabase(path string, entries []models.AsnMetadata) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	temp, err := os.CreateTemp(dir, "registry-cache-*.ndjson")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tempPath := temp.Name()
	writer := bufio.NewWriter(temp)
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			temp.Close()
			os.Remove(tempPath)
			return fmt.Errorf("encode ASN %d: %w", entry.ASN, err)
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			temp.Close()
			os.Remove(tempPath)
			return fmt.Errorf("write temp cache file: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("flush temp cache file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("promote cache file to %s: %w", path, err)
	}
	return nil
}
