package registry

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/Adnuntius/ASgard/internal/commons"
)

// DefaultRangeExpansionLimit bounds how wide an ASN range may be before it
// is recorded only at its start ASN instead of being fully expanded. This
// keeps enormous reserved blocks from exploding the index.
const DefaultRangeExpansionLimit int64 = 1000

// reservedOrgHandle marks bulk-whois ASN entries that belong to the IANA
// reserved pool rather than a real allocation.
const reservedOrgHandle = "IANA"

// BulkASN carries the attributes kept from one bulk-whois ASN element.
// Every ASN of an expanded range shares the same instance.
type BulkASN struct {
	OrgHandle string
	Name      string
}

// ArinOrg is one bulk-whois organization record. EmailDomains is attached
// after the contacts pass.
type ArinOrg struct {
	Name         string
	Address      string
	City         string
	State        string
	Country      string
	PostalCode   string
	EmailDomains []string
}

// ArinBulkData is the outcome of a bulk-whois parse: ASN attributes keyed by
// ASN and referenced organizations keyed by handle.
type ArinBulkData struct {
	Asns map[int64]*BulkASN
	Orgs map[string]ArinOrg
}

// EmptyArinBulkData is used when the bulk-whois step is skipped.
func EmptyArinBulkData() ArinBulkData {
	return ArinBulkData{Asns: map[int64]*BulkASN{}, Orgs: map[string]ArinOrg{}}
}

// BulkWhoisParser streams ARIN's three-file XML export (ASNs, orgs,
// contacts) in three passes, keeping only records reachable from an ASN.
type BulkWhoisParser struct {
	// RangeExpansionLimit overrides DefaultRangeExpansionLimit when > 0.
	RangeExpansionLimit int64
}

func (p BulkWhoisParser) rangeLimit() int64 {
	if p.RangeExpansionLimit > 0 {
		return p.RangeExpansionLimit
	}
	return DefaultRangeExpansionLimit
}

// ParseThreePass drives the full three-pass parse over the ASN, organization
// and contact files. Any XML stream error aborts the pass with a wrapped
// error; partial results are not salvaged.
func (p BulkWhoisParser) ParseThreePass(asnsPath, orgsPath, pocsPath string) (ArinBulkData, error) {
	asnsFile, err := os.Open(asnsPath)
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("open bulk-whois ASNs file: %w", err)
	}
	commons.Logger.Infof("Pass 1: parsing %s for ASNs and org references", asnsPath)
	asns, referencedOrgs, err := p.ParseASNs(asnsFile)
	asnsFile.Close()
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("parse bulk-whois ASNs file %s: %w", asnsPath, err)
	}
	commons.Logger.Infof("Parsed %d ASNs referencing %d unique orgs", len(asns), len(referencedOrgs))

	orgsFile, err := os.Open(orgsPath)
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("open bulk-whois orgs file: %w", err)
	}
	commons.Logger.Infof("Pass 2: parsing %s for referenced orgs", orgsPath)
	orgs, referencedPocs, err := p.ParseOrgs(orgsFile, referencedOrgs)
	orgsFile.Close()
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("parse bulk-whois orgs file %s: %w", orgsPath, err)
	}
	commons.Logger.Infof("Loaded %d orgs referencing %d unique contacts", len(orgs), len(referencedPocs))

	pocsFile, err := os.Open(pocsPath)
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("open bulk-whois contacts file: %w", err)
	}
	commons.Logger.Infof("Pass 3: parsing %s for referenced contact emails", pocsPath)
	emailsByPoc, err := p.ParsePOCs(pocsFile, referencedPocs)
	pocsFile.Close()
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("parse bulk-whois contacts file %s: %w", pocsPath, err)
	}
	commons.Logger.Infof("Loaded emails for %d contacts", len(emailsByPoc))

	// Separate re-scan for the org-to-contact mapping: keeps contact handle
	// lists out of the primary per-org state across the full file.
	mappingFile, err := os.Open(orgsPath)
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("open bulk-whois orgs file: %w", err)
	}
	orgToPocs, err := p.OrgContactMapping(mappingFile, referencedOrgs)
	mappingFile.Close()
	if err != nil {
		return ArinBulkData{}, fmt.Errorf("build org-to-contact mapping from %s: %w", orgsPath, err)
	}

	for handle, org := range orgs {
		domains := make(map[string]struct{})
		for pocHandle := range orgToPocs[handle] {
			for _, email := range emailsByPoc[pocHandle] {
				if domain := extractDomain(email); domain != "" {
					domains[strings.ToLower(domain)] = struct{}{}
				}
			}
		}
		if len(domains) > 0 {
			list := make([]string, 0, len(domains))
			for domain := range domains {
				list = append(list, domain)
			}
			org.EmailDomains = list
			orgs[handle] = org
		}
	}
	return ArinBulkData{Asns: asns, Orgs: orgs}, nil
}

// asnParserState tracks where a pass currently is inside the document; the
// parser carries no hidden mutable fields beyond this struct.
type parserState int

const (
	stateIdle parserState = iota
	stateInAsn
	stateInOrg
	stateInPoc
)

// ParseASNs is pass 1: it extracts {startAsNumber, endAsNumber, name,
// orgHandle} per ASN element and records every referenced org handle.
// Ranges up to the expansion limit are fully expanded, each entry sharing
// one record; wider ranges are indexed at their start ASN only. Entries
// owned by the reserved pool are dropped.
func (p BulkWhoisParser) ParseASNs(r io.Reader) (map[int64]*BulkASN, map[string]struct{}, error) {
	asns := make(map[int64]*BulkASN)
	referencedOrgs := make(map[string]struct{})
	limit := p.rangeLimit()

	state := stateIdle
	var currentTag string
	var text strings.Builder
	var current map[string]string

	decoder := newBulkDecoder(r)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("ASN stream: %w", err)
		}
		switch element := token.(type) {
		case xml.StartElement:
			local := element.Name.Local
			if local == "asn" {
				state = stateInAsn
				current = make(map[string]string)
			} else if state == stateInAsn {
				currentTag = local
				text.Reset()
			}
		case xml.CharData:
			if currentTag != "" {
				text.Write(element)
			}
		case xml.EndElement:
			local := element.Name.Local
			if currentTag != "" && currentTag == local && current != nil {
				if value := strings.TrimSpace(text.String()); value != "" {
					current[local] = value
				}
				currentTag = ""
			} else if local == "asn" && current != nil {
				p.recordASN(current, asns, referencedOrgs, limit)
				state = stateIdle
				current = nil
			}
		}
	}
	return asns, referencedOrgs, nil
}

func (p BulkWhoisParser) recordASN(attrs map[string]string, asns map[int64]*BulkASN,
	referencedOrgs map[string]struct{}, limit int64) {
	startASN := parseInt64(attrs["startAsNumber"], -1)
	if startASN <= 0 {
		return
	}
	endASN := parseInt64(attrs["endAsNumber"], startASN)
	orgHandle := attrs["orgHandle"]
	if orgHandle == reservedOrgHandle {
		return
	}
	if orgHandle != "" {
		referencedOrgs[orgHandle] = struct{}{}
	}
	shared := &BulkASN{OrgHandle: orgHandle, Name: attrs["name"]}
	if endASN-startASN+1 <= limit {
		for asn := startASN; asn <= endASN; asn++ {
			asns[asn] = shared
		}
	} else {
		// Record only the start ASN as a marker for huge reserved blocks
		asns[startASN] = shared
	}
}

// ParseOrgs is pass 2: it builds an ArinOrg only for handles referenced by
// pass 1 and collects the pocLinkRef handles of kept orgs into the
// referenced-contact set. All other orgs are counted and discarded.
func (p BulkWhoisParser) ParseOrgs(r io.Reader, referenced map[string]struct{}) (map[string]ArinOrg, map[string]struct{}, error) {
	orgs := make(map[string]ArinOrg)
	referencedPocs := make(map[string]struct{})
	skipped := 0

	state := stateIdle
	var currentTag string
	var text strings.Builder
	var current map[string]string
	var currentPocs []string

	decoder := newBulkDecoder(r)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("org stream: %w", err)
		}
		switch element := token.(type) {
		case xml.StartElement:
			local := element.Name.Local
			if local == "org" {
				state = stateInOrg
				current = make(map[string]string)
				currentPocs = nil
			} else if state == stateInOrg {
				currentTag = local
				text.Reset()
				// pocLinkRef carries its handle as an XML attribute:
				// <pocLinkRef handle="POC-HANDLE" ...>
				if local == "pocLinkRef" {
					if handle := xmlAttr(element, "handle"); handle != "" {
						currentPocs = append(currentPocs, handle)
					}
				}
			}
		case xml.CharData:
			if currentTag != "" {
				text.Write(element)
			}
		case xml.EndElement:
			local := element.Name.Local
			if currentTag != "" && currentTag == local && current != nil {
				if value := strings.TrimSpace(text.String()); value != "" {
					current[local] = value
				}
				currentTag = ""
			} else if local == "org" && current != nil {
				handle := current["handle"]
				if _, ok := referenced[handle]; handle != "" && ok {
					orgs[handle] = buildOrg(current)
					for _, poc := range currentPocs {
						referencedPocs[poc] = struct{}{}
					}
				} else {
					skipped++
				}
				state = stateIdle
				current = nil
				currentPocs = nil
			}
		}
	}
	if skipped > 0 {
		commons.Logger.Debugf("Skipped %d unreferenced orgs", skipped)
	}
	return orgs, referencedPocs, nil
}

// OrgContactMapping re-scans the organizations file and returns an
// org-handle to contact-handle-set mapping restricted to referenced orgs.
func (p BulkWhoisParser) OrgContactMapping(r io.Reader, referenced map[string]struct{}) (map[string]map[string]struct{}, error) {
	result := make(map[string]map[string]struct{})

	state := stateIdle
	var currentTag string
	var text strings.Builder
	var currentHandle string
	var currentPocs map[string]struct{}

	decoder := newBulkDecoder(r)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("org stream: %w", err)
		}
		switch element := token.(type) {
		case xml.StartElement:
			local := element.Name.Local
			if local == "org" {
				state = stateInOrg
				currentHandle = ""
				currentPocs = make(map[string]struct{})
			} else if state == stateInOrg {
				currentTag = local
				text.Reset()
				if local == "pocLinkRef" && currentPocs != nil {
					if handle := xmlAttr(element, "handle"); handle != "" {
						currentPocs[handle] = struct{}{}
					}
				}
			}
		case xml.CharData:
			if currentTag != "" {
				text.Write(element)
			}
		case xml.EndElement:
			local := element.Name.Local
			if currentTag != "" && currentTag == local {
				if value := strings.TrimSpace(text.String()); value != "" && local == "handle" {
					currentHandle = value
				}
				currentTag = ""
			} else if local == "org" {
				if _, ok := referenced[currentHandle]; currentHandle != "" && ok && currentPocs != nil {
					result[currentHandle] = currentPocs
				}
				state = stateIdle
				currentHandle = ""
				currentPocs = nil
			}
		}
	}
	return result, nil
}

// ParsePOCs is pass 3: it keeps email addresses only for contacts in the
// referenced set; contacts with no email are skipped.
func (p BulkWhoisParser) ParsePOCs(r io.Reader, referenced map[string]struct{}) (map[string][]string, error) {
	emailsByPoc := make(map[string][]string)
	skipped := 0

	state := stateIdle
	var currentTag string
	var text strings.Builder
	var currentHandle string
	var currentEmails []string

	decoder := newBulkDecoder(r)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("contact stream: %w", err)
		}
		switch element := token.(type) {
		case xml.StartElement:
			local := element.Name.Local
			if local == "poc" {
				state = stateInPoc
				currentHandle = ""
				currentEmails = nil
			} else if state == stateInPoc {
				currentTag = local
				text.Reset()
			}
		case xml.CharData:
			if currentTag != "" {
				text.Write(element)
			}
		case xml.EndElement:
			local := element.Name.Local
			if currentTag != "" && currentTag == local {
				value := strings.TrimSpace(text.String())
				if value != "" {
					switch local {
					case "handle":
						currentHandle = value
					case "email":
						currentEmails = append(currentEmails, value)
					}
				}
				currentTag = ""
			} else if local == "poc" {
				if _, ok := referenced[currentHandle]; currentHandle != "" && ok {
					if len(currentEmails) > 0 {
						emailsByPoc[currentHandle] = currentEmails
					}
				} else if currentHandle != "" {
					skipped++
				}
				state = stateIdle
				currentHandle = ""
				currentEmails = nil
			}
		}
	}
	if skipped > 0 {
		commons.Logger.Debugf("Skipped %d unreferenced contacts", skipped)
	}
	return emailsByPoc, nil
}

func buildOrg(attrs map[string]string) ArinOrg {
	var street []string
	for i := 1; i <= 6; i++ {
		if line := strings.TrimSpace(attrs[fmt.Sprintf("streetLine%d", i)]); line != "" {
			street = append(street, line)
		}
	}
	return ArinOrg{
		Name:       attrs["name"],
		Address:    strings.Join(street, ", "),
		City:       attrs["city"],
		State:      attrs["iso3166-2"],
		Country:    attrs["iso3166-1"],
		PostalCode: attrs["postalCode"],
	}
}

func newBulkDecoder(r io.Reader) *xml.Decoder {
	decoder := xml.NewDecoder(r)
	// ARIN exports are not always clean UTF-8
	decoder.CharsetReader = charset.NewReaderLabel
	return decoder
}

func xmlAttr(element xml.StartElement, name string) string {
	for _, attr := range element.Attr {
		if attr.Name.Local == name {
			return strings.TrimSpace(attr.Value)
		}
	}
	return ""
}

func extractDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at >= len(email)-1 {
		return ""
	}
	return email[at+1:]
}
