package registry

import (
	"strings"
	"testing"
)

func TestParseDelegatedExtendedExpandsRanges(t *testing.T) {
	input := strings.Join([]string{
		"2|arin|20240101|1|19700101|20240101|+0000",
		"arin|*|asn|*|1|summary",
		"arin|US|asn|65000|2|20240101|allocated|abc123",
		"ripe|DE|asn|65100|1|20230615|assigned",
		"arin|US|ipv4|198.51.100.0|256|20240101|allocated",
	}, "\n")

	records, err := ParseDelegatedExtended(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseDelegatedExtended: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 indexed ASNs, got %d", len(records))
	}
	first, ok := records[65000]
	if !ok || len(first) != 1 {
		t.Fatalf("AS65000 not indexed: %v", records)
	}
	second, ok := records[65001]
	if !ok || len(second) != 1 {
		t.Fatalf("AS65001 not indexed: %v", records)
	}
	if first[0] != second[0] {
		t.Error("range members should share one record")
	}
	if got := first[0].Country; got != "US" {
		t.Errorf("country = %q, want US", got)
	}
	if got := first[0].Status; got != "allocated" {
		t.Errorf("status = %q, want allocated", got)
	}
	if got := first[0].AllocationDate; got != "20240101" {
		t.Errorf("allocation date = %q, want 20240101", got)
	}
	if _, ok := records[65100]; !ok {
		t.Error("AS65100 not indexed")
	}
}

func TestParseDelegatedExtendedSkipsMalformed(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"",
		"arin|US|asn|abc|2|20240101|allocated",
		"arin|US|asn|65000|0|20240101|allocated",
		"arin|US|asn|-5|1|20240101|allocated",
		"arin|US|asn|65010|1|20240101|reserved",
	}, "\n")

	records, err := ParseDelegatedExtended(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseDelegatedExtended: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected only AS65010, got %d entries", len(records))
	}
	if _, ok := records[65010]; !ok {
		t.Error("AS65010 missing")
	}
}

func TestParseAllocationsKeepsAllocatedAndAssigned(t *testing.T) {
	input := strings.Join([]string{
		"arin|US|asn|65000|2|20240101|allocated",
		"ripe|DE|asn|65100|1|20230615|assigned",
		"arin|US|asn|65200|1|20240101|reserved",
		"apnic|AU|asn|65300|1|20240101|available",
	}, "\n")

	allocations, err := ParseAllocations(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseAllocations: %v", err)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if allocations[0].StartASN != 65000 || allocations[0].Count != 2 {
		t.Errorf("first allocation = %+v", allocations[0])
	}
	if got := allocations[0].EndASN(); got != 65001 {
		t.Errorf("EndASN = %d, want 65001", got)
	}
	if allocations[1].Registry != "ripe" || allocations[1].Status != "assigned" {
		t.Errorf("second allocation = %+v", allocations[1])
	}
}
