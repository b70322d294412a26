package classify

import (
	"strconv"
	"strings"

	"github.com/biter777/countries"

	"github.com/Adnuntius/ASgard/internal/models"
)

// MetadataSummary renders the registry record as the labeled-line user
// message for the model. Values are deduplicated case-insensitively across
// labels so the registrant organization is not repeated under every entity.
func MetadataSummary(metadata models.AsnMetadata) string {
	seen := make(map[string]struct{})
	var builder strings.Builder
	appendLine(&builder, "ASN", strconv.FormatInt(metadata.ASN, 10), seen)
	appendLine(&builder, "Handle", metadata.Handle, seen)
	appendLine(&builder, "Name", metadata.Name, seen)
	appendLine(&builder, "Status", strings.Join(metadata.Statuses, ", "), seen)
	appendLine(&builder, "Registered", registrationYear(metadata.RegistrationDate), seen)
	appendLine(&builder, "Registry", metadata.Registry, seen)
	appendLine(&builder, "Country", countryDisplay(metadata.Country), seen)
	appendLine(&builder, "Kind", metadata.Type, seen)
	for _, entity := range metadata.AllEntities() {
		appendLine(&builder, "Organization", entity.Organization, seen)
		appendLine(&builder, "Entity", entity.Name, seen)
		appendLine(&builder, "Address", entity.Address, seen)
		appendLine(&builder, "Kind", entity.Kind, seen)
		appendLine(&builder, "Emails", strings.Join(entity.Emails, ", "), seen)
		for _, remark := range entity.Remarks {
			appendLine(&builder, "Remark", remark, seen)
		}
	}
	for _, remark := range metadata.Remarks {
		appendLine(&builder, "Remark", remark, seen)
	}
	return strings.TrimSpace(builder.String())
}

func appendLine(builder *strings.Builder, label, value string, seen map[string]struct{}) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	normalized := strings.ToLower(trimmed)
	if _, dup := seen[normalized]; dup {
		return
	}
	seen[normalized] = struct{}{}
	builder.WriteString(label)
	builder.WriteString(": ")
	builder.WriteString(trimmed)
	builder.WriteByte('\n')
}

// countryDisplay expands a two-letter code to "US (United States)" when the
// code resolves; unknown codes pass through unchanged.
func countryDisplay(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return ""
	}
	country := countries.ByName(trimmed)
	if country == countries.Unknown {
		return trimmed
	}
	return trimmed + " (" + country.String() + ")"
}

func registrationYear(registrationDate string) string {
	trimmed := strings.TrimSpace(registrationDate)
	if len(trimmed) >= 4 {
		return trimmed[:4]
	}
	return trimmed
}
