package registry

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

const sampleRPSL = `aut-num:        AS65000
as-name:        EXAMPLE-AS
descr:          Example Networks
descr:          Second description
remarks:        line one
                line two continued
org:            ORG-EX1

aut-num:        AS65000
as-name:        DUPLICATE-AS

person:         Jane Operator
nic-hdl:        JO123

aut-num:        AS65001
as-name:        OTHER-AS
`

func TestParseRPSLObjects(t *testing.T) {
	objects, err := ParseRPSL(strings.NewReader(sampleRPSL))
	if err != nil {
		t.Fatalf("ParseRPSL: %v", err)
	}
	if len(objects) != 4 {
		t.Fatalf("expected 4 objects, got %d", len(objects))
	}
	first := objects[0]
	if first.Type != "aut-num" {
		t.Errorf("object type = %q, want aut-num", first.Type)
	}
	if got := first.First("as-name"); got != "EXAMPLE-AS" {
		t.Errorf("as-name = %q", got)
	}
	if got := len(first.Attrs["descr"]); got != 2 {
		t.Errorf("descr values = %d, want 2", got)
	}
	if got := first.First("remarks"); got != "line one line two continued" {
		t.Errorf("folded remark = %q", got)
	}
	if objects[2].Type != "person" {
		t.Errorf("third object type = %q, want person", objects[2].Type)
	}
}

func TestIndexRPSLByASNFirstWins(t *testing.T) {
	objects, err := ParseRPSL(strings.NewReader(sampleRPSL))
	if err != nil {
		t.Fatalf("ParseRPSL: %v", err)
	}
	byASN := IndexRPSLByASN(objects)
	if len(byASN) != 2 {
		t.Fatalf("expected 2 indexed ASNs, got %d", len(byASN))
	}
	if got := byASN[65000].First("as-name"); got != "EXAMPLE-AS" {
		t.Errorf("first object should win, got as-name %q", got)
	}
	if got := byASN[65001].First("as-name"); got != "OTHER-AS" {
		t.Errorf("AS65001 as-name = %q", got)
	}
}

func TestParseRPSLGz(t *testing.T) {
	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	if _, err := writer.Write([]byte(sampleRPSL)); err != nil {
		t.Fatalf("compress sample: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	objects, err := ParseRPSLGz(&compressed)
	if err != nil {
		t.Fatalf("ParseRPSLGz: %v", err)
	}
	if len(objects) != 4 {
		t.Errorf("expected 4 objects, got %d", len(objects))
	}
}

func TestParseRPSLGzRejectsPlainText(t *testing.T) {
	if _, err := ParseRPSLGz(strings.NewReader("not gzip")); err == nil {
		t.Fatal("expected gzip error")
	}
}

func TestFirstNilObject(t *testing.T) {
	var obj *RpslObject
	if got := obj.First("as-name"); got != "" {
		t.Errorf("nil object First = %q, want empty", got)
	}
}
