package registry

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RpslObject is one attributed object from a whois database dump. Attrs maps
// lowercased keys to their values in document order; Type is the key of the
// object's first attribute.
type RpslObject struct {
	Type  string
	Attrs map[string][]string
	Raw   string
}

// First returns the first value of an attribute, or "" when absent. Safe on
// a nil object so callers can chain it over map lookups.
func (o *RpslObject) First(key string) string {
	if o == nil {
		return ""
	}
	values := o.Attrs[strings.ToLower(key)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ParseRPSLGz streams a gzip-compressed whois dump and returns its objects.
func ParseRPSLGz(r io.Reader) ([]*RpslObject, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()
	return ParseRPSL(gz)
}

// ParseRPSL reads attributed objects line by line. A blank line ends the
// current object; a leading whitespace character continues the previous
// attribute's last value, merged with a single separating space. Objects
// with no attributes are dropped.
func ParseRPSL(r io.Reader) ([]*RpslObject, error) {
	var results []*RpslObject
	var raw strings.Builder
	var firstKey, lastKey string
	attrs := make(map[string][]string)

	flush := func() {
		if raw.Len() > 0 && len(attrs) > 0 {
			results = append(results, &RpslObject{Type: firstKey, Attrs: attrs, Raw: raw.String()})
		}
		raw.Reset()
		attrs = make(map[string][]string)
		firstKey = ""
		lastKey = ""
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		raw.WriteString(line)
		raw.WriteByte('\n')
		if line[0] == ' ' || line[0] == '\t' {
			// RPSL line folding: append to the previous attribute's last value
			if lastKey != "" {
				values := attrs[lastKey]
				values[len(values)-1] = values[len(values)-1] + " " + strings.TrimSpace(line)
			}
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if firstKey == "" {
			firstKey = key
		}
		attrs[key] = append(attrs[key], value)
		lastKey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return results, nil
}

// IndexRPSLByASN indexes objects by the numeric ASN in their aut-num
// attribute. The first object seen for an ASN wins; later duplicates are
// discarded.
func IndexRPSLByASN(objects []*RpslObject) map[int64]*RpslObject {
	byASN := make(map[int64]*RpslObject)
	for _, obj := range objects {
		autNum := obj.First("aut-num")
		if autNum == "" {
			continue
		}
		value := strings.ReplaceAll(strings.ToUpper(autNum), "AS", "")
		asn, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		if _, exists := byASN[asn]; !exists {
			byASN[asn] = obj
		}
	}
	return byASN
}
