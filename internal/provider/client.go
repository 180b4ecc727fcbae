package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/emojilens/internal/core"
	"github.com/you/emojilens/internal/prompt"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
	defaultHTTPTimeout = 60 * time.Second

	maxErrorBody  = 1 << 16
	maxResultBody = 4 << 20
)

// Config carries everything the client needs, resolved once at startup.
type Config struct {
	APIKey      string
	APIKeyFile  string
	BaseURL     string
	Model       string
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client talks to an OpenAI-compatible chat-completions endpoint. The key is
// mutable so file watchers and the admin reload can rotate it while streams
// are in flight.
type Client struct {
	cfg       Config
	http      *http.Client
	retryHook func()

	keyMu  sync.RWMutex
	apiKey string
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: defaultHTTPTimeout},
		apiKey: strings.TrimSpace(cfg.APIKey),
	}
}

// Configured reports whether a key is present. Callers gate both endpoints
// on this before invoking the pipeline.
func (c *Client) Configured() bool {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.apiKey != ""
}

// SetRetryHook registers a callback fired once per retry sleep. Set before
// serving traffic; not safe to swap concurrently with Complete.
func (c *Client) SetRetryHook(hook func()) {
	c.retryHook = hook
}

// SetKey swaps the API key used for subsequent requests.
func (c *Client) SetKey(key string) {
	c.keyMu.Lock()
	c.apiKey = strings.TrimSpace(key)
	c.keyMu.Unlock()
}

func (c *Client) key() string {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.apiKey
}

// ReloadKey re-reads the configured key file.
func (c *Client) ReloadKey() error {
	path := strings.TrimSpace(c.cfg.APIKeyFile)
	if path == "" {
		return errors.New("provider: key file not configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read key file")
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return errors.New("provider: key file is empty")
	}
	c.SetKey(key)
	log.Printf("provider: reloaded API key from %s", path)
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type upstreamError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// resultPayload is the shape the model is instructed to emit for the
// structured (non-streaming) path.
type resultPayload struct {
	Emojis         []core.EmojiMeaning `json:"emojis"`
	Interpretation string              `json:"interpretation"`
	Metrics        core.Metrics        `json:"metrics"`
	RedFlags       []core.RedFlag      `json:"redFlags"`
}

// Complete runs the non-streaming path: one structured result, with up to
// MaxAttempts attempts total and a fixed delay between attempts. Only
// retryable kinds re-attempt.
func (c *Client) Complete(ctx context.Context, req core.InterpretRequest, p prompt.Prompt) (*core.InterpretationResult, error) {
	if !c.Configured() {
		return nil, &Error{Kind: KindConfig, Message: "API key not configured"}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, err := c.completeOnce(ctx, req, p)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perr *Error
		if !errors.As(err, &perr) || !perr.Retryable() {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		log.Printf("provider: attempt %d/%d failed (%s); retrying in %s", attempt, c.cfg.MaxAttempts, perr.Kind, c.cfg.RetryDelay)
		if c.retryHook != nil {
			c.retryHook()
		}
		if !sleepContext(ctx, c.cfg.RetryDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) completeOnce(ctx context.Context, req core.InterpretRequest, p prompt.Prompt) (*core.InterpretationResult, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System + "\n\nRespond with a single JSON object with keys: emojis (array of {character, meaning, slug}), interpretation (string), metrics ({sarcasmProbability, passiveAggressionProbability, overallTone, confidence}), redFlags (array of {type, description, severity})."},
			{Role: "user", Content: p.User},
		},
	}
	body.ResponseFormat = &struct {
		Type string `json:"type"`
	}{Type: "json_object"}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBody))
	if err != nil {
		return nil, &Error{Kind: KindServer, Message: fmt.Sprintf("read response: %v", err)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Kind: KindBadPayload, Message: fmt.Sprintf("decode completion: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindBadPayload, Message: "completion has no choices"}
	}

	var payload resultPayload
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &payload); err != nil {
		return nil, &Error{Kind: KindBadPayload, Message: fmt.Sprintf("decode result content: %v", err)}
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	return &core.InterpretationResult{
		ID:             uuid.NewString(),
		Message:        req.Message,
		Emojis:         payload.Emojis,
		Interpretation: payload.Interpretation,
		Metrics:        payload.Metrics,
		RedFlags:       payload.RedFlags,
		Timestamp:      time.Now().UTC(),
	}, nil
}

func validatePayload(p resultPayload) error {
	for name, v := range map[string]int{
		"sarcasmProbability":           p.Metrics.SarcasmProbability,
		"passiveAggressionProbability": p.Metrics.PassiveAggressionProbability,
		"confidence":                   p.Metrics.Confidence,
	} {
		if v < 0 || v > 100 {
			return &Error{Kind: KindBadPayload, Message: fmt.Sprintf("%s out of range: %d", name, v)}
		}
	}
	if !core.ValidTone(p.Metrics.OverallTone) {
		return &Error{Kind: KindBadPayload, Message: fmt.Sprintf("unknown tone %q", p.Metrics.OverallTone)}
	}
	return nil
}

// Stream opens the token stream. Errors before the first fragment carry the
// usual taxonomy; once streaming has begun there is no retry, any failure is
// terminal for the invocation.
func (c *Client) Stream(ctx context.Context, p prompt.Prompt) (*Stream, error) {
	if !c.Configured() {
		return nil, &Error{Kind: KindConfig, Message: "API key not configured"}
	}

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Stream: true,
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readError(resp)
	}

	return &Stream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindServer, Message: fmt.Sprintf("request failed: %v", err)}
	}
	return resp, nil
}

func readError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var parsed upstreamError
	msg := ""
	if err := json.Unmarshal(raw, &parsed); err == nil {
		msg = strings.TrimSpace(parsed.Error.Message)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return classifyStatus(resp.StatusCode, msg)
}

// Stream decodes server-sent "data:" events from a live completion into
// plain text fragments.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Recv returns the next text fragment. io.EOF signals a clean end of stream;
// any other error means the stream died mid-flight.
func (s *Stream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return "", io.EOF
		}

		var parsed chatResponse
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			continue
		}
		if len(parsed.Choices) == 0 {
			continue
		}
		if fragment := parsed.Choices[0].Delta.Content; fragment != "" {
			return fragment, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *Stream) Close() error { return s.body.Close() }

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
