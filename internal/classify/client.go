package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/limiter"
	"github.com/Adnuntius/ASgard/internal/models"
)

const (
	// CompletionTokens is the completion budget of a first attempt.
	CompletionTokens = 256
	// extendedCompletionTokens is used once when a truncated response
	// carried no recognizable category.
	extendedCompletionTokens = 512

	maxRetries        = 5
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Result is one successful classification together with its accounting
// inputs.
type Result struct {
	Classification     models.FinalClassification
	ApproxPromptTokens int64
	RawBody            string
}

// Classifier sends one chat-completion request per ASN and extracts the
// category from the reply. Rate limiting and the audit logger are optional.
type Classifier struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	limiter    *limiter.TokenRateLimiter
	audit      *RequestLogger
	verbose    bool

	sleep func(time.Duration)
}

// NewClassifier returns a classifier for the given endpoint and model.
func NewClassifier(httpClient *http.Client, baseURL, model, apiKey string,
	rateLimiter *limiter.TokenRateLimiter, audit *RequestLogger, verbose bool) *Classifier {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Classifier{
		httpClient: httpClient,
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		limiter:    rateLimiter,
		audit:      audit,
		verbose:    verbose,
		sleep:      time.Sleep,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
	ReasoningEffort     string        `json:"reasoning_effort"`
	Messages            []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify produces the final row for one ASN. A truncated response that
// yields no category is retried once with a larger completion budget; model
// usage is recorded against the rate limiter on success.
func (c *Classifier) Classify(ctx context.Context, metadata models.AsnMetadata) (Result, error) {
	return c.classify(ctx, metadata, CompletionTokens, false)
}

func (c *Classifier) classify(ctx context.Context, metadata models.AsnMetadata,
	maxTokens int, isExtendedRetry bool) (Result, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return Result{}, fmt.Errorf("OpenAI API key is missing")
	}
	summary := MetadataSummary(metadata)
	body, err := json.Marshal(chatRequest{
		Model:               c.model,
		MaxCompletionTokens: maxTokens,
		ReasoningEffort:     "minimal",
		Messages: []chatMessage{
			{Role: "system", Content: Prompt()},
			{Role: "user", Content: summary},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request for AS%d: %w", metadata.ASN, err)
	}
	approxTokens := int64((len(body) + 3) / 4)
	if c.limiter != nil {
		if approxTokens > c.limiter.MaxContextTokens() {
			return Result{}, fmt.Errorf("AS%d prompt of ~%d tokens exceeds the %d token context limit",
				metadata.ASN, approxTokens, c.limiter.MaxContextTokens())
		}
		c.limiter.WaitForCapacity(approxTokens, metadata.ASN)
	}
	if c.verbose {
		commons.Logger.Infof("OpenAI request for AS%d:\n%s", metadata.ASN, body)
	}
	if c.audit != nil {
		c.audit.LogRequest(metadata, summary, string(body))
	}

	status, responseBody, err := c.send(ctx, metadata.ASN, body)
	if err != nil {
		if c.audit != nil && status != 0 {
			c.audit.LogResponse(metadata, status, responseBody, nil, approxTokens)
		}
		return Result{}, err
	}
	if c.verbose {
		commons.Logger.Infof("OpenAI response for AS%d (HTTP %d):\n%s", metadata.ASN, status, responseBody)
	}
	if status >= 300 {
		if c.audit != nil {
			c.audit.LogResponse(metadata, status, responseBody, nil, approxTokens)
		}
		return Result{}, fmt.Errorf("classification of AS%d failed: status %d: %s", metadata.ASN, status, responseBody)
	}

	classification, truncatedNoCategory, err := c.parse(metadata, responseBody)
	if truncatedNoCategory && !isExtendedRetry {
		commons.Logger.Warnf("AS%d: response truncated with no category found, retrying with %d tokens",
			metadata.ASN, extendedCompletionTokens)
		return c.classify(ctx, metadata, extendedCompletionTokens, true)
	}
	if err != nil {
		return Result{}, err
	}
	if c.limiter != nil {
		c.limiter.RecordTokens(approxTokens)
	}
	if c.audit != nil {
		c.audit.LogResponse(metadata, status, responseBody, &classification, approxTokens)
	}
	return Result{Classification: classification, ApproxPromptTokens: approxTokens, RawBody: responseBody}, nil
}

// send POSTs the request, retrying transport errors and retryable statuses
// with capped exponential backoff. The final status and body are returned
// even on failure so the audit trail stays complete.
func (c *Classifier) send(ctx context.Context, asn int64, body []byte) (int, string, error) {
	var lastErr error
	var lastStatus int
	var lastBody string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"chat/completions", bytes.NewReader(body))
		if err != nil {
			return 0, "", fmt.Errorf("build request for AS%d: %w", asn, err)
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(request)
		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				err = fmt.Errorf("read response for AS%d: %w", asn, readErr)
			} else if !isRetryableStatus(resp.StatusCode) {
				return resp.StatusCode, string(data), nil
			} else {
				lastStatus = resp.StatusCode
				lastBody = string(data)
				err = fmt.Errorf("OpenAI returned %d: %s", resp.StatusCode, firstLine(string(data)))
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastStatus, lastBody, ctx.Err()
		}
		if attempt < maxRetries {
			delay := initialRetryDelay << attempt
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			commons.Logger.Warnf("AS%d: retry %d/%d in %s (%v)", asn, attempt+1, maxRetries, delay, firstLine(err.Error()))
			c.sleep(delay)
		}
	}
	return lastStatus, lastBody, fmt.Errorf("OpenAI request for AS%d failed after retries: %w", asn, lastErr)
}

func (c *Classifier) parse(metadata models.AsnMetadata, body string) (models.FinalClassification, bool, error) {
	var response chatResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		return models.FinalClassification{}, false, fmt.Errorf("parse response for AS%d: %w", metadata.ASN, err)
	}
	if len(response.Choices) == 0 {
		return models.FinalClassification{}, false, fmt.Errorf("response for AS%d has no choices", metadata.ASN)
	}
	choice := response.Choices[0]
	content := choice.Message.Content
	if strings.TrimSpace(content) == "" {
		return models.FinalClassification{}, false,
			fmt.Errorf("empty response for AS%d (finish_reason: %s)", metadata.ASN, choice.FinishReason)
	}
	category := NormalizeCategory(content)
	if choice.FinishReason == "length" && category == UnknownCategory {
		return models.FinalClassification{}, true,
			fmt.Errorf("response for AS%d truncated with no category in: %s", metadata.ASN, firstLine(content))
	}
	name := metadata.Name
	if models.IsUnknown(name) {
		name = "Unknown"
	}
	organization := metadata.EntityForClassification()
	if organization == "" {
		organization = "Unknown"
	}
	return models.FinalClassification{
		ASN:          metadata.ASN,
		Name:         name,
		Organization: organization,
		Category:     category,
	}, false, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func firstLine(value string) string {
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		return value[:idx]
	}
	return value
}
