package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/models"
)

// RequestLogger writes one JSON audit file per classified ASN containing the
// request that was sent and the response that came back. Audit failures are
// logged and never fail a classification.
type RequestLogger struct {
	dir string

	mu      sync.Mutex
	pending map[int64]pendingRequest
}

type pendingRequest struct {
	at          time.Time
	metadata    models.AsnMetadata
	summary     string
	requestBody string
}

type auditEvent struct {
	Timestamp    string              `json:"timestamp"`
	Event        string              `json:"event"`
	ASN          int64               `json:"asn"`
	Metadata     *models.AsnMetadata `json:"metadata,omitempty"`
	Summary      string              `json:"summary,omitempty"`
	RequestBody  string              `json:"requestBody,omitempty"`
	Status       int                 `json:"status,omitempty"`
	ResponseBody string              `json:"responseBody,omitempty"`
	ApproxTokens int64               `json:"approxPromptTokens,omitempty"`
	Name         string              `json:"name,omitempty"`
	Organization string              `json:"organization,omitempty"`
	Category     string              `json:"category,omitempty"`
}

// NewRequestLogger returns a logger writing under dir.
func NewRequestLogger(dir string) *RequestLogger {
	return &RequestLogger{dir: dir, pending: make(map[int64]pendingRequest)}
}

// LogRequest records an outgoing request; it is flushed to disk together
// with its response.
func (l *RequestLogger) LogRequest(metadata models.AsnMetadata, summary, requestBody string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[metadata.ASN] = pendingRequest{
		at:          time.Now().UTC(),
		metadata:    metadata,
		summary:     summary,
		requestBody: requestBody,
	}
}

// LogResponse pairs a response with its pending request and writes the audit
// file for the ASN.
func (l *RequestLogger) LogResponse(metadata models.AsnMetadata, status int, responseBody string,
	classification *models.FinalClassification, approxTokens int64) {
	l.mu.Lock()
	request, hasRequest := l.pending[metadata.ASN]
	delete(l.pending, metadata.ASN)
	l.mu.Unlock()

	var events []auditEvent
	if hasRequest {
		meta := request.metadata
		events = append(events, auditEvent{
			Timestamp:   request.at.Format(time.RFC3339Nano),
			Event:       "request",
			ASN:         metadata.ASN,
			Metadata:    &meta,
			Summary:     request.summary,
			RequestBody: request.requestBody,
		})
	}
	response := auditEvent{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Event:        "response",
		ASN:          metadata.ASN,
		Status:       status,
		ResponseBody: responseBody,
		ApproxTokens: approxTokens,
	}
	if classification != nil {
		response.Name = classification.Name
		response.Organization = classification.Organization
		response.Category = classification.Category
	}
	events = append(events, response)

	if err := l.write(metadata.ASN, events); err != nil {
		commons.Logger.Warnf("Failed to write audit log for AS%d: %v", metadata.ASN, err)
	}
}

func (l *RequestLogger) write(asn int64, events []auditEvent) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, fmt.Sprintf("asn-%d.json", asn))
	return os.WriteFile(path, data, 0o644)
}
