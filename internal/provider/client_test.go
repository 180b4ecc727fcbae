package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/you/emojilens/internal/core"
	"github.com/you/emojilens/internal/prompt"
)

var testRequest = core.InterpretRequest{
	Message:  "Hello there 👋",
	Platform: core.PlatformIMessage,
	Context:  core.ContextFriend,
}

func testPrompt() prompt.Prompt {
	return prompt.Build(testRequest)
}

func resultContent(t *testing.T) string {
	t.Helper()
	content, err := json.Marshal(map[string]any{
		"emojis":         []map[string]string{{"character": "👋", "meaning": "a friendly wave", "slug": "waving-hand"}},
		"interpretation": "A friendly greeting with no hidden meaning.",
		"metrics": map[string]any{
			"sarcasmProbability":           5,
			"passiveAggressionProbability": 0,
			"overallTone":                  "positive",
			"confidence":                   90,
		},
		"redFlags": []any{},
	})
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return string(content)
}

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": content}}},
	})
	return string(body)
}

func newTestClient(url string) *Client {
	return New(Config{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		RetryDelay: time.Millisecond,
	})
}

func TestCompleteRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	content := resultContent(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
			return
		}
		fmt.Fprint(w, completionBody(content))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Complete(context.Background(), testRequest, testPrompt())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if result.ID == "" {
		t.Fatalf("expected generated result ID")
	}
	if result.Message != testRequest.Message {
		t.Fatalf("result should echo the message, got %q", result.Message)
	}
	if result.Metrics.Confidence != 90 {
		t.Fatalf("unexpected confidence: %d", result.Metrics.Confidence)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), testRequest, testPrompt())
	if err == nil {
		t.Fatalf("expected failure after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindServer {
		t.Fatalf("expected SERVER_ERROR, got %v", err)
	}
}

func TestCompleteFatalErrorsNotRetried(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusBadRequest, KindInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Complete(context.Background(), testRequest, testPrompt())
			var perr *Error
			if !errors.As(err, &perr) || perr.Kind != tc.kind {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if perr.Message != "nope" {
				t.Fatalf("expected upstream message surfaced, got %q", perr.Message)
			}
			if got := calls.Load(); got != 1 {
				t.Fatalf("fatal errors must not retry, got %d attempts", got)
			}
		})
	}
}

func TestCompleteUnconfigured(t *testing.T) {
	client := New(Config{})
	_, err := client.Complete(context.Background(), testRequest, testPrompt())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindConfig {
		t.Fatalf("expected CONFIG_ERROR, got %v", err)
	}
}

func TestCompleteRejectsOutOfRangeMetrics(t *testing.T) {
	content, _ := json.Marshal(map[string]any{
		"interpretation": "x",
		"metrics": map[string]any{
			"sarcasmProbability":           140,
			"passiveAggressionProbability": 0,
			"overallTone":                  "neutral",
			"confidence":                   50,
		},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(string(content)))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), testRequest, testPrompt())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindBadPayload {
		t.Fatalf("expected BAD_PAYLOAD for out-of-range metric, got %v", err)
	}
}

func TestCompleteRejectsUnknownTone(t *testing.T) {
	content, _ := json.Marshal(map[string]any{
		"interpretation": "x",
		"metrics": map[string]any{
			"sarcasmProbability":           10,
			"passiveAggressionProbability": 10,
			"overallTone":                  "spicy",
			"confidence":                   50,
		},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(string(content)))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), testRequest, testPrompt())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindBadPayload {
		t.Fatalf("expected BAD_PAYLOAD for unknown tone, got %v", err)
	}
}

func TestStreamDecodesFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != true {
			t.Errorf("expected stream=true in upstream request")
		}
		for _, fragment := range []string{"Hello ", "world ", "streaming!"} {
			chunk, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": fragment}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := newTestClient(srv.URL).Stream(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	var got string
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		got += fragment
	}
	if got != "Hello world streaming!" {
		t.Fatalf("unexpected accumulated text: %q", got)
	}
}

func TestStreamUpstreamErrorBeforeStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Stream(context.Background(), testPrompt())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindRateLimited {
		t.Fatalf("expected RATE_LIMIT, got %v", err)
	}
}

func TestReloadKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, []byte("rotated-key\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	client := New(Config{APIKeyFile: path})
	if client.Configured() {
		t.Fatalf("expected unconfigured before reload")
	}
	if err := client.ReloadKey(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !client.Configured() {
		t.Fatalf("expected configured after reload")
	}
	if client.key() != "rotated-key" {
		t.Fatalf("expected trimmed key, got %q", client.key())
	}
}

func TestReloadKeyEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	client := New(Config{APIKeyFile: path})
	if err := client.ReloadKey(); err == nil {
		t.Fatalf("expected error for empty key file")
	}
}
