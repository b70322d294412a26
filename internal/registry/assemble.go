package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/Adnuntius/ASgard/internal/models"
)

// AssembleMetadata merges the three registry views into one AsnMetadata per
// ASN, sorted ascending. Any ASN present in at least one source gets a
// record; Name and the registrant organization fall back to "Unknown" so the
// classifier never sees an empty identity.
func AssembleMetadata(delegated map[int64][]*DelegatedRecord, rpslByASN map[int64]*RpslObject,
	arin ArinBulkData) []models.AsnMetadata {
	asnSet := make(map[int64]struct{}, len(delegated)+len(rpslByASN)+len(arin.Asns))
	for asn := range delegated {
		asnSet[asn] = struct{}{}
	}
	for asn := range rpslByASN {
		asnSet[asn] = struct{}{}
	}
	for asn := range arin.Asns {
		asnSet[asn] = struct{}{}
	}
	asns := make([]int64, 0, len(asnSet))
	for asn := range asnSet {
		asns = append(asns, asn)
	}
	sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })

	now := time.Now().UTC()
	results := make([]models.AsnMetadata, 0, len(asns))
	for _, asn := range asns {
		var del *DelegatedRecord
		if records := delegated[asn]; len(records) > 0 {
			del = records[0]
		}
		results = append(results, buildMetadata(asn, del, rpslByASN[asn], arin, now))
	}
	return results
}

func buildMetadata(asn int64, delegated *DelegatedRecord, rpsl *RpslObject,
	arin ArinBulkData, fetchedAt time.Time) models.AsnMetadata {
	var arinASN BulkASN
	if data := arin.Asns[asn]; data != nil {
		arinASN = *data
	}
	name := models.FirstNonBlank(rpsl.First("as-name"), rpsl.First("descr"), arinASN.Name, "Unknown")
	orgHandle := models.FirstNonBlank(rpsl.First("org"), rpsl.First("org-name"),
		rpsl.First("org-hdl"), arinASN.OrgHandle)

	var orgName, address string
	var emailDomains []string
	if arinOrg, ok := arin.Orgs[orgHandle]; ok {
		orgName = arinOrg.Name
		address = fullAddress(arinOrg)
		emailDomains = arinOrg.EmailDomains
	}
	organization := models.FirstNonBlank(orgName, orgHandle, name, "Unknown")
	registrant := &models.Entity{
		Handle:       orgHandle,
		Name:         organization,
		Organization: organization,
		Address:      address,
		Emails:       emailDomains,
	}

	meta := models.AsnMetadata{
		ASN:         asn,
		Handle:      rpsl.First("aut-num"),
		StartAutnum: asn,
		EndAutnum:   asn,
		Name:        name,
		Registrant:  registrant,
		FetchedAt:   fetchedAt,
	}
	// Country, registry, status and allocation date only ever come from the
	// delegated-extended feed.
	if delegated != nil {
		meta.Country = delegated.Country
		meta.Registry = delegated.Registry
		if strings.TrimSpace(delegated.Status) != "" {
			meta.Statuses = []string{delegated.Status}
		}
		meta.RegistrationDate = delegated.AllocationDate
		if delegated.Raw != "" {
			meta.Remarks = append(meta.Remarks, "delegated: "+delegated.Raw)
		}
	}
	if rpsl != nil && rpsl.Raw != "" {
		meta.Remarks = append(meta.Remarks, "rpsl: "+strings.ReplaceAll(rpsl.Raw, "\n", " "))
	}
	return meta
}

func fullAddress(org ArinOrg) string {
	var parts []string
	for _, part := range []string{org.Address, org.City, org.State, org.PostalCode, org.Country} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
