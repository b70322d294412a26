package classify

import (
	"strings"
	"testing"

	"github.com/Adnuntius/ASgard/internal/models"
)

func TestMetadataSummaryLabels(t *testing.T) {
	metadata := models.AsnMetadata{
		ASN:              65000,
		Handle:           "AS65000",
		Name:             "EXAMPLE-NET",
		Country:          "US",
		Registry:         "arin",
		Type:             "autnum",
		Statuses:         []string{"active"},
		RegistrationDate: "2004-03-01",
		Registrant: &models.Entity{
			Name:         "Example Networks",
			Organization: "Example Networks LLC",
			Address:      "1 Main St, Springfield, IL, US",
			Emails:       []string{"example.com"},
			Remarks:      []string{"delegated: arin|US|asn|65000|1|20040301|allocated"},
		},
		Remarks: []string{"rpsl: aut-num: AS65000"},
	}
	summary := MetadataSummary(metadata)

	for _, want := range []string{
		"ASN: 65000",
		"Handle: AS65000",
		"Name: EXAMPLE-NET",
		"Status: active",
		"Registered: 2004",
		"Registry: arin",
		"Country: US (United States)",
		"Organization: Example Networks LLC",
		"Entity: Example Networks",
		"Address: 1 Main St, Springfield, IL, US",
		"Emails: example.com",
		"Remark: delegated: arin|US|asn|65000|1|20040301|allocated",
		"Remark: rpsl: aut-num: AS65000",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestMetadataSummarySkipsBlankAndDuplicateValues(t *testing.T) {
	metadata := models.AsnMetadata{
		ASN:  65001,
		Name: "SAME-NAME",
		Registrant: &models.Entity{
			Name:         "same-name",
			Organization: "Acme",
		},
	}
	summary := MetadataSummary(metadata)

	if strings.Contains(summary, "Entity:") {
		t.Errorf("duplicate registrant name not deduplicated:\n%s", summary)
	}
	if strings.Contains(summary, "Country:") || strings.Contains(summary, "Handle:") {
		t.Errorf("blank fields rendered:\n%s", summary)
	}
	if !strings.Contains(summary, "Organization: Acme") {
		t.Errorf("organization missing:\n%s", summary)
	}
}

func TestMetadataSummaryUnknownCountryPassesThrough(t *testing.T) {
	metadata := models.AsnMetadata{ASN: 65002, Name: "X", Country: "ZZ"}
	summary := MetadataSummary(metadata)
	if !strings.Contains(summary, "Country: ZZ") || strings.Contains(summary, "Country: ZZ (") {
		t.Errorf("summary = %q", summary)
	}
}

func TestRegistrationYear(t *testing.T) {
	if got := registrationYear("2004-03-01"); got != "2004" {
		t.Errorf("got %q", got)
	}
	if got := registrationYear("99"); got != "99" {
		t.Errorf("got %q", got)
	}
	if got := registrationYear(""); got != "" {
		t.Errorf("got %q", got)
	}
}
