package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adnuntius/ASgard/internal/limiter"
	"github.com/Adnuntius/ASgard/internal/models"
)

func testMetadata() models.AsnMetadata {
	return models.AsnMetadata{
		ASN:  65000,
		Name: "EXAMPLE-NET",
		Registrant: &models.Entity{
			Name:         "Example Networks",
			Organization: "Example Networks LLC",
		},
	}
}

func chatReply(content, finishReason string) string {
	reply := map[string]any{
		"choices": []map[string]any{
			{
				"finish_reason": finishReason,
				"message":       map[string]any{"content": content},
			},
		},
	}
	encoded, _ := json.Marshal(reply)
	return string(encoded)
}

func newTestClassifier(serverURL string) *Classifier {
	classifier := NewClassifier(&http.Client{Timeout: 5 * time.Second},
		serverURL, "gpt-5-nano", "test-key", nil, nil, false)
	classifier.sleep = func(time.Duration) {}
	return classifier
}

func TestClassifyParsesResponse(t *testing.T) {
	var gotRequest chatRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, chatReply("Hosting", "stop"))
	}))
	defer server.Close()

	result, err := newTestClassifier(server.URL).Classify(context.Background(), testMetadata())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	row := result.Classification
	if row.ASN != 65000 || row.Name != "EXAMPLE-NET" || row.Category != "Hosting" {
		t.Errorf("row = %+v", row)
	}
	if row.Organization != "Example Networks LLC" {
		t.Errorf("organization = %q", row.Organization)
	}
	if result.ApproxPromptTokens <= 0 {
		t.Errorf("approx tokens = %d", result.ApproxPromptTokens)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotRequest.Model != "gpt-5-nano" || gotRequest.MaxCompletionTokens != CompletionTokens {
		t.Errorf("request = %+v", gotRequest)
	}
	if len(gotRequest.Messages) != 2 || gotRequest.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", gotRequest.Messages)
	}
	if !strings.Contains(gotRequest.Messages[1].Content, "ASN: 65000") {
		t.Errorf("user message = %q", gotRequest.Messages[1].Content)
	}
}

func TestClassifyRetriesRateLimitedRequests(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
			return
		}
		fmt.Fprint(w, chatReply("ISP", "stop"))
	}))
	defer server.Close()

	result, err := newTestClassifier(server.URL).Classify(context.Background(), testMetadata())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
	if result.Classification.Category != "ISP" {
		t.Errorf("category = %q", result.Classification.Category)
	}
}

func TestClassifyFailsOnNonRetryableStatus(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer server.Close()

	_, err := newTestClassifier(server.URL).Classify(context.Background(), testMetadata())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("error = %v", err)
	}
}

func TestClassifyReAsksOnceWhenTruncated(t *testing.T) {
	var budgets []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request chatRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		budgets = append(budgets, request.MaxCompletionTokens)
		if len(budgets) == 1 {
			fmt.Fprint(w, chatReply("Let me think about the nature of this network and whether it offers managed services or", "length"))
			return
		}
		fmt.Fprint(w, chatReply("Enterprise", "stop"))
	}))
	defer server.Close()

	result, err := newTestClassifier(server.URL).Classify(context.Background(), testMetadata())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(budgets) != 2 || budgets[0] != CompletionTokens || budgets[1] != extendedCompletionTokens {
		t.Errorf("budgets = %v", budgets)
	}
	if result.Classification.Category != "Enterprise" {
		t.Errorf("category = %q", result.Classification.Category)
	}
}

func TestClassifyKeepsCategoryFromTruncatedResponse(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, chatReply("VPN", "length"))
	}))
	defer server.Close()

	result, err := newTestClassifier(server.URL).Classify(context.Background(), testMetadata())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
	if result.Classification.Category != "VPN" {
		t.Errorf("category = %q", result.Classification.Category)
	}
}

func TestClassifyRequiresAPIKey(t *testing.T) {
	classifier := NewClassifier(http.DefaultClient, "http://127.0.0.1:0", "gpt-5-nano", "  ", nil, nil, false)
	if _, err := classifier.Classify(context.Background(), testMetadata()); err == nil {
		t.Fatal("expected error")
	}
}

func TestClassifyRejectsOversizedPrompt(t *testing.T) {
	rateLimiter := limiter.New(100, 10)
	classifier := NewClassifier(http.DefaultClient, "http://127.0.0.1:0", "gpt-5-nano", "test-key",
		rateLimiter, nil, false)

	_, err := classifier.Classify(context.Background(), testMetadata())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "context limit") {
		t.Errorf("error = %v", err)
	}
}

func TestClassifyRecordsTokensOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatReply("ISP", "stop"))
	}))
	defer server.Close()

	rateLimiter := limiter.New(200_000, 250_000)
	classifier := NewClassifier(&http.Client{Timeout: 5 * time.Second},
		server.URL, "gpt-5-nano", "test-key", rateLimiter, nil, false)

	result, err := classifier.Classify(context.Background(), testMetadata())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got := rateLimiter.WindowTokens(); got != result.ApproxPromptTokens {
		t.Errorf("window tokens = %d, want %d", got, result.ApproxPromptTokens)
	}
}

func TestClassifyEmptyContentFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatReply("   ", "stop"))
	}))
	defer server.Close()

	if _, err := newTestClassifier(server.URL).Classify(context.Background(), testMetadata()); err == nil {
		t.Fatal("expected error")
	}
}
