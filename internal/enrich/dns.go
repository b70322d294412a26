// Package enrich adds optional liveness signals to registry metadata before
// classification.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/models"
)

// DomainChecker verifies that the contact email domains of a registry record
// still resolve. A domain with MX or NS records suggests the organization is
// operational; a dead domain is worth flagging to the model.
type DomainChecker struct {
	resolver string
	timeout  time.Duration

	mu    sync.RWMutex
	cache map[string]bool
}

// NewDomainChecker returns a checker querying the given resolver address
// ("host:port"). An empty resolver uses Cloudflare's public resolver.
func NewDomainChecker(resolver string, timeout time.Duration) *DomainChecker {
	if resolver == "" {
		resolver = "1.1.1.1:53"
	}
	if timeout < 8*time.Second {
		timeout = 8 * time.Second
	}
	return &DomainChecker{
		resolver: resolver,
		timeout:  timeout,
		cache:    make(map[string]bool),
	}
}

// Annotate appends a remark per contact email domain stating whether it
// resolves. Lookups are cached for the lifetime of the checker since the
// same hosting domains recur across thousands of ASNs.
func (c *DomainChecker) Annotate(ctx context.Context, metadata *models.AsnMetadata) {
	domains := contactDomains(*metadata)
	for _, domain := range domains {
		alive := c.check(ctx, domain)
		state := "resolves"
		if !alive {
			state = "does not resolve"
		}
		metadata.Remarks = append(metadata.Remarks,
			fmt.Sprintf("contact domain %s %s", domain, state))
	}
}

func contactDomains(metadata models.AsnMetadata) []string {
	seen := make(map[string]struct{})
	var domains []string
	for _, entity := range metadata.AllEntities() {
		for _, email := range entity.Emails {
			domain := strings.ToLower(strings.TrimSpace(email))
			if at := strings.LastIndexByte(domain, '@'); at >= 0 {
				domain = domain[at+1:]
			}
			if domain == "" {
				continue
			}
			if _, dup := seen[domain]; dup {
				continue
			}
			seen[domain] = struct{}{}
			domains = append(domains, domain)
		}
	}
	return domains
}

func (c *DomainChecker) check(ctx context.Context, domain string) bool {
	c.mu.RLock()
	alive, cached := c.cache[domain]
	c.mu.RUnlock()
	if cached {
		return alive
	}
	alive = c.query(ctx, domain, dns.TypeMX) || c.query(ctx, domain, dns.TypeNS)
	c.mu.Lock()
	c.cache[domain] = alive
	c.mu.Unlock()
	return alive
}

// query sends one question with a retry for transient network errors. Any
// response at all, including NXDOMAIN, is authoritative; only an answer
// section counts as the domain resolving.
func (c *DomainChecker) query(ctx context.Context, domain string, qtype uint16) bool {
	client := &dns.Client{Timeout: c.timeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	maxRetries := 2
	baseDelay := 100 * time.Millisecond
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
		response, _, err := client.Exchange(msg, c.resolver)
		if response != nil {
			return response.Rcode == dns.RcodeSuccess && len(response.Answer) > 0
		}
		if err != nil && !isNetworkError(err) {
			commons.Logger.Debugf("DNS lookup for %s failed: %v", domain, err)
			return false
		}
		if err != nil && attempt < maxRetries {
			commons.Logger.Debugf("DNS lookup for %s retry %d/%d: %v", domain, attempt+1, maxRetries, err)
		}
	}
	return false
}

// isNetworkError checks if an error is a network-level error (timeout,
// connection refused, etc.) worth retrying.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	networkErrorPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"host unreachable",
		"i/o timeout",
		"connection timed out",
		"dial tcp",
		"dial udp",
	}
	for _, pattern := range networkErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}
