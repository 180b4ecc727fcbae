package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/you/emojilens/internal/core"
)

func testRequest() core.InterpretRequest {
	return core.InterpretRequest{
		Message:  "Hello there 👋",
		Platform: core.PlatformIMessage,
		Context:  core.ContextFriend,
	}
}

func waitFor(t *testing.T, c *Consumer, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, stuck at %v", want, c.State())
}

func streamHandler(fragments []string, perChunk time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, f := range fragments {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(perChunk):
			}
			_, _ = w.Write([]byte(f))
			flusher.Flush()
		}
	}
}

func TestConsumerAccumulatesAndFinishes(t *testing.T) {
	fragments := []string{"That wave ", "reads as ", "warm and casual."}
	ts := httptest.NewServer(streamHandler(fragments, 0))
	defer ts.Close()

	var mu sync.Mutex
	var seen []string
	var final string

	c := New(ts.URL, Callbacks{
		OnChunk: func(acc string) {
			mu.Lock()
			seen = append(seen, acc)
			mu.Unlock()
		},
		OnFinish: func(text string) {
			mu.Lock()
			final = text
			mu.Unlock()
		},
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateSuccess)

	mu.Lock()
	defer mu.Unlock()
	want := "That wave reads as warm and casual."
	if final != want {
		t.Fatalf("final = %q, want %q", final, want)
	}
	if len(seen) == 0 {
		t.Fatalf("OnChunk never fired")
	}
	// Every observed accumulation is a prefix of the next one, and the last
	// equals the final text.
	for i := 1; i < len(seen); i++ {
		if !strings.HasPrefix(seen[i], seen[i-1]) {
			t.Fatalf("accumulation went backwards: %q then %q", seen[i-1], seen[i])
		}
	}
	if seen[len(seen)-1] != want {
		t.Fatalf("last accumulation = %q, want %q", seen[len(seen)-1], want)
	}
	if c.Text() != want {
		t.Fatalf("Text() = %q, want %q", c.Text(), want)
	}
}

func TestConsumerNewInterpretCancelsOld(t *testing.T) {
	slow := httptest.NewServer(streamHandler([]string{"stale ", "stale ", "stale"}, 200*time.Millisecond))
	defer slow.Close()
	fast := httptest.NewServer(streamHandler([]string{"fresh reading"}, 0))
	defer fast.Close()

	var mu sync.Mutex
	var final string
	c := New(slow.URL, Callbacks{
		OnFinish: func(text string) {
			mu.Lock()
			final = text
			mu.Unlock()
		},
	})

	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateLoading)

	c.mu.Lock()
	c.baseURL = fast.URL
	c.mu.Unlock()
	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateSuccess)

	mu.Lock()
	defer mu.Unlock()
	if final != "fresh reading" {
		t.Fatalf("final = %q, want %q", final, "fresh reading")
	}
	if strings.Contains(c.Text(), "stale") {
		t.Fatalf("stale session leaked into text: %q", c.Text())
	}
}

func TestConsumerStopIsSilent(t *testing.T) {
	ts := httptest.NewServer(streamHandler([]string{"a", "b", "c"}, 200*time.Millisecond))
	defer ts.Close()

	errored := make(chan error, 1)
	c := New(ts.URL, Callbacks{
		OnError: func(err error) { errored <- err },
	})

	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateLoading)
	c.Stop()
	waitFor(t, c, StateAborted)

	select {
	case err := <-errored:
		t.Fatalf("cancellation must not surface an error, got %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	if c.Err() != nil {
		t.Fatalf("Err() = %v after Stop, want nil", c.Err())
	}
}

func TestConsumerParsesErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"interpretation service not configured","status":503}`))
	}))
	defer ts.Close()

	errored := make(chan error, 1)
	c := New(ts.URL, Callbacks{
		OnError: func(err error) { errored <- err },
	})

	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateError)

	select {
	case err := <-errored:
		if !strings.Contains(err.Error(), "interpretation service not configured") {
			t.Fatalf("expected upstream message surfaced, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnError never fired")
	}
}

func TestConsumerStatusFallbackMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("not json"))
	}))
	defer ts.Close()

	c := New(ts.URL, Callbacks{})
	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateError)

	if !strings.Contains(c.Err().Error(), "status 502") {
		t.Fatalf("expected status fallback, got %v", c.Err())
	}
}

func TestConsumerPrematureCloseIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial "))
		flusher.Flush()

		// Kill the TCP connection mid-body so the client sees a dirty end of
		// stream rather than a clean EOF.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer ts.Close()

	c := New(ts.URL, Callbacks{})
	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateError)

	if c.Err() == nil {
		t.Fatalf("premature close must be an error")
	}
}

func TestConsumerReset(t *testing.T) {
	ts := httptest.NewServer(streamHandler([]string{"done"}, 0))
	defer ts.Close()

	c := New(ts.URL, Callbacks{})
	c.Interpret(context.Background(), testRequest())
	waitFor(t, c, StateSuccess)

	c.Reset()
	if c.State() != StateIdle {
		t.Fatalf("state = %v after Reset, want idle", c.State())
	}
	if c.Text() != "" || c.Err() != nil {
		t.Fatalf("Reset must clear text and error")
	}
}
