package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/models"
)

const (
	rdapMaxAttempts = 3
	// DefaultRdapBaseURL is the bootstrap redirector that routes an autnum
	// query to the owning RIR.
	DefaultRdapBaseURL = "https://rdap.org/"

	remarkLimit       = 2
	entityRemarkLimit = 3
	remarkMaxChars    = 420
)

// RdapClient fetches a single ASN record over RDAP. It is the per-ASN
// fallback when the registry cache has no entry; the bulk cache build never
// touches RDAP.
type RdapClient struct {
	httpClient  *http.Client
	baseURL     string
	fallbackURL string
	sleep       func(time.Duration)
	now         func() time.Time
}

// NewRdapClient returns a client querying baseURL with the public
// redirector as fallback.
func NewRdapClient(httpClient *http.Client, baseURL string) *RdapClient {
	return &RdapClient{
		httpClient:  httpClient,
		baseURL:     normalizeBaseURL(baseURL),
		fallbackURL: DefaultRdapBaseURL,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

func normalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return DefaultRdapBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		return baseURL + "/"
	}
	return baseURL
}

// Lookup resolves an ASN, trying the fallback redirector when the primary
// endpoint yields nothing. A miss is not an error.
func (c *RdapClient) Lookup(asn int64) (models.AsnMetadata, bool) {
	if meta, ok := c.tryLookup(c.baseURL, asn); ok {
		return meta, true
	}
	if c.fallbackURL != c.baseURL {
		return c.tryLookup(c.fallbackURL, asn)
	}
	return models.AsnMetadata{}, false
}

func (c *RdapClient) tryLookup(base string, asn int64) (models.AsnMetadata, bool) {
	url := fmt.Sprintf("%sautnum/%d", base, asn)
	for attempt := 1; attempt <= rdapMaxAttempts; attempt++ {
		request, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			commons.Logger.Warnf("RDAP %s: %v", url, err)
			return models.AsnMetadata{}, false
		}
		request.Header.Set("Accept", "application/rdap+json, application/json")
		resp, err := c.httpClient.Do(request)
		if err != nil {
			commons.Logger.Warnf("RDAP %s failed on attempt %d/%d: %v", url, attempt, rdapMaxAttempts, err)
			if attempt == rdapMaxAttempts {
				return models.AsnMetadata{}, false
			}
			c.pause(attempt)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		status := resp.StatusCode
		if readErr == nil && status >= 200 && status < 300 {
			meta, err := c.parse(asn, body)
			if err != nil {
				commons.Logger.Warnf("RDAP %s returned unparseable body: %v", url, err)
				return models.AsnMetadata{}, false
			}
			return meta, true
		}
		if !rdapRetryable(status) || attempt == rdapMaxAttempts {
			commons.Logger.Warnf("RDAP %s returned status %d", url, status)
			return models.AsnMetadata{}, false
		}
		c.pause(attempt)
	}
	return models.AsnMetadata{}, false
}

func rdapRetryable(status int) bool {
	switch status {
	case 408, 429, 522, 524, 599:
		return true
	}
	return status >= 500
}

func (c *RdapClient) pause(attempt int) {
	delay := time.Duration(200*attempt) * time.Millisecond
	if delay > time.Second {
		delay = time.Second
	}
	c.sleep(delay)
}

type rdapAutnum struct {
	Handle      string       `json:"handle"`
	StartAutnum *int64       `json:"startAutnum"`
	EndAutnum   *int64       `json:"endAutnum"`
	Name        string       `json:"name"`
	Country     string       `json:"country"`
	Type        string       `json:"type"`
	Port43      string       `json:"port43"`
	Status      []string     `json:"status"`
	Events      []rdapEvent  `json:"events"`
	Entities    []rdapEntity `json:"entities"`
	Remarks     []rdapRemark `json:"remarks"`
}

type rdapEvent struct {
	EventAction string `json:"eventAction"`
	EventDate   string `json:"eventDate"`
}

type rdapEntity struct {
	Handle     string            `json:"handle"`
	Roles      []string          `json:"roles"`
	Status     []string          `json:"status"`
	Remarks    []rdapRemark      `json:"remarks"`
	VcardArray []json.RawMessage `json:"vcardArray"`
}

type rdapRemark struct {
	Description []string `json:"description"`
}

func (c *RdapClient) parse(asn int64, body []byte) (models.AsnMetadata, error) {
	var record rdapAutnum
	if err := json.Unmarshal(body, &record); err != nil {
		return models.AsnMetadata{}, err
	}
	start, end := asn, asn
	if record.StartAutnum != nil {
		start = *record.StartAutnum
	}
	if record.EndAutnum != nil {
		end = *record.EndAutnum
	}
	entities := make([]models.Entity, 0, len(record.Entities))
	for _, entity := range record.Entities {
		entities = append(entities, parseRdapEntity(entity))
	}
	registrant, contacts := pickRegistrant(entities)
	return models.AsnMetadata{
		ASN:              asn,
		Handle:           record.Handle,
		StartAutnum:      start,
		EndAutnum:        end,
		Name:             record.Name,
		Country:          record.Country,
		Registry:         record.Port43,
		Type:             record.Type,
		Statuses:         record.Status,
		RegistrationDate: eventDate(record.Events, "registration"),
		LastChangedDate:  eventDate(record.Events, "last changed"),
		Registrant:       registrant,
		Contacts:         contacts,
		Remarks:          collectRemarks(record.Remarks, remarkLimit),
		FetchedAt:        c.now().UTC(),
	}, nil
}

func parseRdapEntity(entity rdapEntity) models.Entity {
	result := models.Entity{
		Handle:   entity.Handle,
		Roles:    entity.Roles,
		Statuses: entity.Status,
		Remarks:  collectRemarks(entity.Remarks, entityRemarkLimit),
	}
	parseVcard(entity.VcardArray, &result)
	return result
}

// parseVcard walks the jCard property array: each property is
// [name, parameters, type, value].
func parseVcard(vcard []json.RawMessage, entity *models.Entity) {
	if len(vcard) < 2 {
		return
	}
	var properties [][]json.RawMessage
	if err := json.Unmarshal(vcard[1], &properties); err != nil {
		return
	}
	for _, property := range properties {
		if len(property) < 4 {
			continue
		}
		var label string
		if err := json.Unmarshal(property[0], &label); err != nil {
			continue
		}
		var value string
		hasValue := json.Unmarshal(property[3], &value) == nil
		switch label {
		case "fn":
			if hasValue {
				entity.Name = value
			}
		case "org":
			if hasValue {
				entity.Organization = value
			}
		case "kind":
			if hasValue {
				entity.Kind = value
			}
		case "email":
			if hasValue && strings.TrimSpace(value) != "" {
				entity.Emails = append(entity.Emails, value)
			}
		case "tel":
			if hasValue && strings.TrimSpace(value) != "" {
				entity.Phones = append(entity.Phones, value)
			}
		case "adr":
			var params struct {
				Label string `json:"label"`
			}
			if json.Unmarshal(property[1], &params) == nil && strings.TrimSpace(params.Label) != "" {
				entity.Address = strings.ReplaceAll(params.Label, "\n", ", ")
			}
		}
	}
}

// pickRegistrant prefers the entity holding a registrant or registrar role,
// falling back to the first entity.
func pickRegistrant(entities []models.Entity) (*models.Entity, []models.Entity) {
	if len(entities) == 0 {
		return nil, nil
	}
	chosen := 0
search:
	for i, entity := range entities {
		for _, role := range entity.Roles {
			lowered := strings.ToLower(role)
			if lowered == "registrant" || lowered == "registrar" {
				chosen = i
				break search
			}
		}
	}
	registrant := entities[chosen]
	contacts := make([]models.Entity, 0, len(entities)-1)
	for i, entity := range entities {
		if i != chosen {
			contacts = append(contacts, entity)
		}
	}
	return &registrant, contacts
}

func eventDate(events []rdapEvent, action string) string {
	for _, event := range events {
		if strings.EqualFold(event.EventAction, action) {
			if raw := strings.TrimSpace(event.EventDate); raw != "" {
				if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
					return parsed.Format(time.RFC3339)
				}
				return raw
			}
			return ""
		}
	}
	return ""
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collectRemarks(remarks []rdapRemark, limit int) []string {
	var cleaned []string
	for _, remark := range remarks {
		if len(cleaned) >= limit {
			break
		}
		var parts []string
		for _, line := range remark.Description {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) == 0 {
			continue
		}
		joined := whitespaceRe.ReplaceAllString(strings.Join(parts, " "), " ")
		if len(joined) > remarkMaxChars {
			joined = joined[:remarkMaxChars] + "..."
		}
		cleaned = append(cleaned, strings.TrimSpace(joined))
	}
	return cleaned
}
