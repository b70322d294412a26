package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/models"
)

// DefaultRISLiveURL is RIPE's public RIS Live stream endpoint.
const DefaultRISLiveURL = "wss://ris-live.ripe.net/v1/ws/?client=asgard"

// VisibilityProbe asks RIS Live whether an ASN is currently visible in the
// global routing table. It subscribes for UPDATE messages mentioning the ASN
// and watches the stream for a bounded window; silence within the window
// means not seen, not necessarily offline.
type VisibilityProbe struct {
	url    string
	window time.Duration
}

// NewVisibilityProbe returns a probe against the given RIS Live endpoint.
func NewVisibilityProbe(url string, window time.Duration) *VisibilityProbe {
	if url == "" {
		url = DefaultRISLiveURL
	}
	if window <= 0 {
		window = 15 * time.Second
	}
	return &VisibilityProbe{url: url, window: window}
}

type risMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type risUpdate struct {
	Type    string        `json:"type"`
	PeerASN string        `json:"peer_asn"`
	Path    []interface{} `json:"path,omitempty"`
}

type risSubscribe struct {
	Type string           `json:"type"`
	Data risSubscribeData `json:"data"`
}

type risSubscribeData struct {
	Type          string           `json:"type"`
	Path          string           `json:"path,omitempty"`
	SocketOptions risSocketOptions `json:"socketOptions"`
}

type risSocketOptions struct {
	IncludeRaw  bool `json:"include_raw"`
	Acknowledge bool `json:"acknowledge"`
}

// Annotate appends a remark stating whether the ASN was seen announcing or
// transiting within the watch window. Any transport failure degrades to no
// annotation; routing visibility is a hint, never a blocker.
func (p *VisibilityProbe) Annotate(ctx context.Context, metadata *models.AsnMetadata) {
	seen, err := p.Seen(ctx, metadata.ASN)
	if err != nil {
		commons.Logger.Debugf("RIS Live probe for AS%d failed: %v", metadata.ASN, err)
		return
	}
	if seen {
		metadata.Remarks = append(metadata.Remarks,
			fmt.Sprintf("AS%d seen in BGP updates within the last %s", metadata.ASN, p.window))
	} else {
		metadata.Remarks = append(metadata.Remarks,
			fmt.Sprintf("AS%d not seen in BGP updates within %s", metadata.ASN, p.window))
	}
}

// Seen connects, subscribes to updates whose AS path contains the ASN, and
// reports whether one arrived within the window.
func (p *VisibilityProbe) Seen(ctx context.Context, asn int64) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("connect to RIS Live: %w", err)
	}
	defer conn.Close()

	subscription := risSubscribe{
		Type: "ris_subscribe",
		Data: risSubscribeData{
			Type: "UPDATE",
			Path: strconv.FormatInt(asn, 10),
			SocketOptions: risSocketOptions{
				IncludeRaw:  false,
				Acknowledge: false,
			},
		},
	}
	if err := conn.WriteJSON(subscription); err != nil {
		return false, fmt.Errorf("subscribe for AS%d: %w", asn, err)
	}

	deadline := time.Now().Add(p.window)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return false, err
		}
		var msg risMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// A read timeout is the window expiring without a matching update
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				return false, nil
			}
			return false, fmt.Errorf("read RIS Live stream: %w", err)
		}
		switch msg.Type {
		case "ris_message":
			var update risUpdate
			if err := json.Unmarshal(msg.Data, &update); err != nil {
				continue
			}
			if update.Type == "UPDATE" && pathContains(update.Path, asn) {
				return true, nil
			}
		case "ris_error":
			var errorData struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg.Data, &errorData); err == nil {
				return false, fmt.Errorf("RIS Live error: %s", errorData.Message)
			}
			return false, fmt.Errorf("RIS Live error")
		}
		if time.Now().After(deadline) {
			return false, nil
		}
	}
}

// pathContains matches the ASN against a raw AS path, which mixes numbers,
// strings and AS_SET arrays.
func pathContains(path []interface{}, asn int64) bool {
	want := strconv.FormatInt(asn, 10)
	for _, item := range path {
		switch v := item.(type) {
		case float64:
			if int64(v) == asn {
				return true
			}
		case string:
			if v == want {
				return true
			}
		case []interface{}:
			if pathContains(v, asn) {
				return true
			}
		}
	}
	return false
}
