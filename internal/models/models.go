package models

import (
	"strings"
	"time"
)

// AsnMetadata is the authoritative merged registry record for one ASN. It is
// the unit of truth consumed by the classifier; Name and the registrant
// organization are never empty (they fall back to "Unknown" at assembly).
type AsnMetadata struct {
	ASN              int64     `json:"asn"`
	Handle           string    `json:"handle,omitempty"`
	StartAutnum      int64     `json:"start_autnum"`
	EndAutnum        int64     `json:"end_autnum"`
	Name             string    `json:"name,omitempty"`
	Country          string    `json:"country,omitempty"`
	Registry         string    `json:"registry,omitempty"`
	Type             string    `json:"type,omitempty"`
	Statuses         []string  `json:"statuses,omitempty"`
	RegistrationDate string    `json:"registration_date,omitempty"`
	LastChangedDate  string    `json:"last_changed_date,omitempty"`
	Registrant       *Entity   `json:"registrant,omitempty"`
	Contacts         []Entity  `json:"contacts,omitempty"`
	Remarks          []string  `json:"remarks,omitempty"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// Entity is one registrant or contact attached to an ASN record.
type Entity struct {
	Handle       string   `json:"handle,omitempty"`
	Name         string   `json:"name,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	Address      string   `json:"address,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Emails       []string `json:"emails,omitempty"`
	Phones       []string `json:"phones,omitempty"`
	Remarks      []string `json:"remarks,omitempty"`
	Statuses     []string `json:"statuses,omitempty"`
}

// OrganizationName returns the registrant's organization or name, empty if
// neither is set.
func (m AsnMetadata) OrganizationName() string {
	if m.Registrant == nil {
		return ""
	}
	return FirstNonBlank(m.Registrant.Organization, m.Registrant.Name)
}

// DisplayName prefers the registrant name over the ASN record name.
func (m AsnMetadata) DisplayName() string {
	if m.Registrant == nil {
		return strings.TrimSpace(m.Name)
	}
	return FirstNonBlank(m.Registrant.Name, m.Name)
}

// EntityForClassification is the organization string handed to the
// classifier, falling through registrant organization, registrant name and
// the ASN name.
func (m AsnMetadata) EntityForClassification() string {
	if m.Registrant == nil {
		return strings.TrimSpace(m.Name)
	}
	return FirstNonBlank(m.Registrant.Organization, m.Registrant.Name, m.Name)
}

// AllEntities returns the registrant (if any) followed by the contacts.
func (m AsnMetadata) AllEntities() []Entity {
	var entities []Entity
	if m.Registrant != nil {
		entities = append(entities, *m.Registrant)
	}
	return append(entities, m.Contacts...)
}

// AsnAllocation is one allocated or assigned ASN range from a RIR
// delegated-extended feed.
type AsnAllocation struct {
	StartASN int64  `json:"start_asn"`
	Count    int64  `json:"count"`
	Registry string `json:"registry"`
	Country  string `json:"country,omitempty"`
	Status   string `json:"status"`
	Date     string `json:"date,omitempty"`
}

// EndASN returns the last ASN covered by the allocation.
func (a AsnAllocation) EndASN() int64 {
	return a.StartASN + a.Count - 1
}

// FinalClassification is the only externally persisted output shape.
type FinalClassification struct {
	ASN          int64  `json:"asn"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Category     string `json:"category"`
}

// HasUnknown reports whether any field is blank or the literal "Unknown".
func (c FinalClassification) HasUnknown() bool {
	return IsUnknown(c.Name) || IsUnknown(c.Organization) || IsUnknown(c.Category)
}

// IsUnknown reports whether a field value counts as unresolved: empty,
// whitespace, or "unknown" in any casing.
func IsUnknown(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed == "" || strings.EqualFold(trimmed, "unknown")
}

// FirstNonBlank returns the first value that is not empty after trimming,
// trimmed, or "" when all are blank.
func FirstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
