package registry

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/Adnuntius/ASgard/internal/models"
)

// DelegatedRecord is one ASN range parsed from a RIR delegated-extended
// feed. The same record is indexed under every ASN it covers, so downstream
// code can see how many registries claim an ASN without copying record data.
type DelegatedRecord struct {
	Start          int64
	Count          int64
	Registry       string
	Country        string
	Status         string
	AllocationDate string
	Raw            string
}

// ParseDelegatedExtended parses concatenated delegated-extended files into a
// per-ASN index. Comment and blank lines, non-asn record types and malformed
// lines are skipped; this is a best-effort streaming parse, not validation.
func ParseDelegatedExtended(r io.Reader) (map[int64][]*DelegatedRecord, error) {
	byASN := make(map[int64][]*DelegatedRecord)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		record, ok := parseDelegatedLine(line)
		if !ok {
			continue
		}
		for asn := record.Start; asn < record.Start+record.Count; asn++ {
			byASN[asn] = append(byASN[asn], record)
		}
	}
	return byASN, scanner.Err()
}

func parseDelegatedLine(line string) (*DelegatedRecord, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 7 {
		return nil, false
	}
	if !strings.EqualFold(parts[2], "asn") {
		return nil, false
	}
	start := parseInt64(parts[3], -1)
	count := parseInt64(parts[4], 0)
	if start < 0 || count <= 0 {
		return nil, false
	}
	return &DelegatedRecord{
		Start:          start,
		Count:          count,
		Registry:       parts[0],
		Country:        parts[1],
		AllocationDate: parts[5],
		Status:         parts[6],
		Raw:            line,
	}, true
}

// ParseAllocations parses a delegated-extended file into allocation ranges,
// keeping only rows with an actionable lifecycle status ("allocated" or
// "assigned"). Used as the orchestrator's allocation source.
func ParseAllocations(r io.Reader) ([]models.AsnAllocation, error) {
	var allocations []models.AsnAllocation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 7 {
			continue
		}
		if !strings.EqualFold(parts[2], "asn") {
			continue
		}
		status := strings.ToLower(parts[6])
		if status != "allocated" && status != "assigned" {
			continue
		}
		start := parseInt64(parts[3], -1)
		count := parseInt64(parts[4], 0)
		if start < 0 || count <= 0 {
			continue
		}
		allocations = append(allocations, models.AsnAllocation{
			StartASN: start,
			Count:    count,
			Registry: parts[0],
			Country:  parts[1],
			Status:   status,
			Date:     parts[5],
		})
	}
	return allocations, scanner.Err()
}

func parseInt64(value string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
