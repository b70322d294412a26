// Package pipeline drives resumable classification runs over the allocated
// ASN space and owns the tab-separated output file.
package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Adnuntius/ASgard/internal/models"
)

// Header is the first line of the canonical output format.
const Header = "asn\tname\torganization\tcategory"

var legacyHeaders = []string{
	Header,
	"asn,name,organization,category",
	"asn\tentity\tcategory",
	"asn,entity,category",
}

// Store reads and rewrites the classification output file. Rows from older
// format generations (JSON lines, three-column, comma-separated) are
// understood on read and written back in the canonical format.
type Store struct {
	path string
}

// NewStore returns a store over the output file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the output file location.
func (s *Store) Path() string { return s.path }

// Snapshot partitions prior output rows by resolution state.
type Snapshot struct {
	// Known maps fully resolved ASNs to their rows.
	Known map[int64]models.FinalClassification
	// Unknown holds ASNs whose row had an Unknown field, in file order.
	Unknown []int64
}

// Normalize guarantees the file exists, starts with the canonical header
// and contains only canonical rows. Legacy files are rewritten in place
// through a temp file.
func (s *Store) Normalize() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return os.WriteFile(s.path, []byte(Header+"\n"), 0o644)
	}
	if err != nil {
		return fmt.Errorf("stat output file: %w", err)
	}
	first, err := s.firstNonBlankLine()
	if err != nil {
		return err
	}
	if isHeader(first) {
		return nil
	}
	return s.rewrite(func(models.FinalClassification) bool { return true })
}

func (s *Store) firstNonBlankLine() (string, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", scanner.Err()
}

// Load reads the output file and partitions its rows. A missing file yields
// an empty snapshot.
func (s *Store) Load() (Snapshot, error) {
	snapshot := Snapshot{Known: make(map[int64]models.FinalClassification)}
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot, nil
		}
		return Snapshot{}, fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	unknownSeen := make(map[int64]struct{})
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isHeader(line) {
			continue
		}
		row, ok := ParseRow(line)
		if !ok || row.ASN <= 0 {
			continue
		}
		if row.HasUnknown() {
			if _, dup := unknownSeen[row.ASN]; !dup {
				unknownSeen[row.ASN] = struct{}{}
				snapshot.Unknown = append(snapshot.Unknown, row.ASN)
			}
			continue
		}
		snapshot.Known[row.ASN] = row
	}
	if err := scanner.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("read output file: %w", err)
	}
	return snapshot, nil
}

// RewriteKnown rewrites the file keeping only rows for the given ASNs, so
// rows with Unknown fields get re-classified on the next run.
func (s *Store) RewriteKnown(keep map[int64]models.FinalClassification) error {
	return s.rewrite(func(row models.FinalClassification) bool {
		_, ok := keep[row.ASN]
		return ok
	})
}

// Remove drops the rows of the given ASNs.
func (s *Store) Remove(asns []int64) error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}
	drop := make(map[int64]struct{}, len(asns))
	for _, asn := range asns {
		drop[asn] = struct{}{}
	}
	return s.rewrite(func(row models.FinalClassification) bool {
		_, dropped := drop[row.ASN]
		return !dropped
	})
}

func (s *Store) rewrite(keep func(models.FinalClassification) bool) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()
	temp, err := os.CreateTemp(filepath.Dir(s.path), "asn-classifications-*.tsv")
	if err != nil {
		return fmt.Errorf("create temp output file: %w", err)
	}
	writer := bufio.NewWriter(temp)
	fmt.Fprintln(writer, Header)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isHeader(line) {
			continue
		}
		row, ok := ParseRow(line)
		if !ok || !keep(row) {
			continue
		}
		fmt.Fprintln(writer, FormatRow(row))
	}
	if err := scanner.Err(); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("read output file: %w", err)
	}
	if err := writer.Flush(); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("write temp output file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return err
	}
	if err := os.Rename(temp.Name(), s.path); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("replace output file: %w", err)
	}
	return nil
}

// Appender writes result rows to the end of the output file, flushing after
// every row so an interrupted run loses nothing.
type Appender struct {
	file   *os.File
	writer *bufio.Writer
}

// OpenAppend opens the output file for appending.
func (s *Store) OpenAppend() (*Appender, error) {
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file for append: %w", err)
	}
	return &Appender{file: file, writer: bufio.NewWriter(file)}, nil
}

// Write appends one row.
func (a *Appender) Write(row models.FinalClassification) error {
	if _, err := fmt.Fprintln(a.writer, FormatRow(row)); err != nil {
		return fmt.Errorf("append classification row: %w", err)
	}
	return a.writer.Flush()
}

// Close flushes and closes the file.
func (a *Appender) Close() error {
	if err := a.writer.Flush(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

// FormatRow renders a row in the canonical tab-separated format.
func FormatRow(row models.FinalClassification) string {
	return strconv.FormatInt(row.ASN, 10) + "\t" +
		escapeField(row.Name) + "\t" +
		escapeField(row.Organization) + "\t" +
		escapeField(row.Category)
}

func escapeField(value string) string {
	cleaned := strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	return strings.NewReplacer(`\`, `\\`, "\t", `\t`).Replace(cleaned)
}

// ParseRow understands every format generation: a JSON object per line, the
// legacy three-column entity layout, and four-column rows separated by tab
// or comma with backslash escaping.
func ParseRow(line string) (models.FinalClassification, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isHeader(trimmed) {
		return models.FinalClassification{}, false
	}
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONRow(trimmed)
	}
	delimiter := byte(',')
	if strings.ContainsRune(trimmed, '\t') {
		delimiter = '\t'
	}
	parts := splitEscaped(trimmed, delimiter)
	switch len(parts) {
	case 4:
		asn, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return models.FinalClassification{}, false
		}
		return models.FinalClassification{ASN: asn, Name: parts[1], Organization: parts[2], Category: parts[3]}, true
	case 3:
		asn, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return models.FinalClassification{}, false
		}
		return models.FinalClassification{ASN: asn, Name: parts[1], Organization: parts[1], Category: parts[2]}, true
	}
	return models.FinalClassification{}, false
}

func parseJSONRow(line string) (models.FinalClassification, bool) {
	var row struct {
		ASN          int64   `json:"asn"`
		Name         *string `json:"name"`
		Organization *string `json:"organization"`
		Category     string  `json:"category"`
		Entity       *string `json:"entity"`
	}
	if err := json.Unmarshal([]byte(line), &row); err != nil {
		return models.FinalClassification{}, false
	}
	name := row.Entity
	if row.Name != nil {
		name = row.Name
	}
	organization := row.Entity
	if row.Organization != nil {
		organization = row.Organization
	}
	result := models.FinalClassification{ASN: row.ASN, Category: row.Category}
	if name != nil {
		result.Name = *name
	}
	if organization != nil {
		result.Organization = *organization
	}
	return result, true
}

// splitEscaped splits on the delimiter honoring backslash escapes, where
// "\t" decodes to a literal tab and any other escaped byte to itself.
func splitEscaped(line string, delimiter byte) []string {
	var parts []string
	var current strings.Builder
	escaping := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaping:
			if ch == 't' {
				current.WriteByte('\t')
			} else {
				current.WriteByte(ch)
			}
			escaping = false
		case ch == '\\':
			escaping = true
		case ch == delimiter:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	parts = append(parts, current.String())
	return parts
}

func isHeader(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, header := range legacyHeaders {
		if strings.EqualFold(trimmed, header) {
			return true
		}
	}
	return false
}

// CategoryCounts tallies rows per category for reporting.
func (s *Store) CategoryCounts() (map[string]int, error) {
	snapshot, err := s.Load()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, row := range snapshot.Known {
		counts[row.Category]++
	}
	return counts, nil
}
