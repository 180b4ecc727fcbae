// Package client consumes the streaming interpretation endpoint and tracks
// the lifecycle of one in-flight interpretation at a time.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/emojilens/internal/core"
)

// State is where the consumer currently is. Loading is the only state with an
// open upstream connection; the three terminal states all allow a new
// Interpret call.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateError
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callbacks fire on the session goroutine. OnChunk receives the full text
// accumulated so far, not the individual fragment. A cancelled session fires
// nothing.
type Callbacks struct {
	OnChunk  func(accumulated string)
	OnFinish func(final string)
	OnError  func(err error)
}

type Consumer struct {
	baseURL    string
	httpClient *http.Client
	callbacks  Callbacks

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	text       string
	err        error
}

func New(baseURL string, callbacks Callbacks) *Consumer {
	return &Consumer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		callbacks:  callbacks,
		state:      StateIdle,
	}
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Text returns the accumulated interpretation so far (or the final text once
// the stream completed).
func (c *Consumer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Interpret starts a new streaming session. Any in-flight session is cancelled
// first; its terminal transition is then discarded, so only the newest session
// ever writes state.
func (c *Consumer) Interpret(ctx context.Context, req core.InterpretRequest) {
	body, err := json.Marshal(req)
	if err != nil {
		c.mu.Lock()
		c.state = StateError
		c.err = errors.Wrap(err, "encode request")
		cb := c.callbacks.OnError
		c.mu.Unlock()
		if cb != nil {
			cb(c.Err())
		}
		return
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	c.cancel = cancel
	c.state = StateLoading
	c.text = ""
	c.err = nil
	url := c.baseURL + "/interpret/stream"
	c.mu.Unlock()

	go c.run(sessionCtx, gen, url, body)
}

func (c *Consumer) run(ctx context.Context, gen uint64, url string, body []byte) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		url, bytes.NewReader(body))
	if err != nil {
		c.fail(gen, errors.Wrap(err, "build request"))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			c.abort(gen)
			return
		}
		c.fail(gen, errors.Wrap(err, "connect"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(gen, readErrorBody(resp))
		return
	}

	buf := make([]byte, 512)
	read := 0
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			read += n
			if !c.append(gen, string(buf[:n])) {
				return
			}
		}
		if err == io.EOF {
			c.finish(gen)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				c.abort(gen)
				return
			}
			if read == 0 {
				c.fail(gen, errors.New("body not readable"))
				return
			}
			// A cut connection mid-stream lands here; the partial text must
			// never be presented as a completed interpretation.
			c.fail(gen, errors.Wrap(err, "stream interrupted"))
			return
		}
	}
}

// append records a fragment and fires OnChunk. It returns false when the
// session is stale and should stop reading.
func (c *Consumer) append(gen uint64, fragment string) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	c.text += fragment
	accumulated := c.text
	cb := c.callbacks.OnChunk
	c.mu.Unlock()

	if cb != nil {
		cb(accumulated)
	}
	return true
}

func (c *Consumer) finish(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.state = StateSuccess
	c.cancel = nil
	final := c.text
	cb := c.callbacks.OnFinish
	c.mu.Unlock()

	if cb != nil {
		cb(final)
	}
}

func (c *Consumer) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.err = err
	c.cancel = nil
	cb := c.callbacks.OnError
	c.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

// abort is the silent path: no error is recorded and no callback fires.
func (c *Consumer) abort(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.state = StateAborted
	c.cancel = nil
}

// Stop cancels the in-flight session, if any. The session winds down silently.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == StateLoading {
		c.generation++
		c.state = StateAborted
	}
}

// Reset cancels anything in flight and returns to a blank Idle state.
func (c *Consumer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.state = StateIdle
	c.text = ""
	c.err = nil
}

func readErrorBody(resp *http.Response) error {
	fallback := fmt.Errorf("interpretation request failed: status %d", resp.StatusCode)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fallback
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Error == "" {
		return fallback
	}
	return fmt.Errorf("interpretation request failed: %s", parsed.Error)
}
