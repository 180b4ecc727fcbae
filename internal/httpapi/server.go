package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/you/emojilens/internal/core"
	"github.com/you/emojilens/internal/prompt"
	"github.com/you/emojilens/internal/provider"
	"github.com/you/emojilens/internal/validate"
)

// TokenStream is a live sequence of text fragments. Recv returns io.EOF on a
// clean end of stream.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Provider is the completion backend the relay drives.
type Provider interface {
	Configured() bool
	Complete(ctx context.Context, req core.InterpretRequest, p prompt.Prompt) (*core.InterpretationResult, error)
	Stream(ctx context.Context, p prompt.Prompt) (TokenStream, error)
}

// Reloader re-reads provider credentials on demand.
type Reloader interface {
	ReloadKey() error
}

type Options struct {
	Addr             string
	StreamingEnabled bool
	RateRPS          int
	RateBurst        int
	CORSOrigins      []string
	RecentCapacity   int
	Build            BuildInfo
}

type Server struct {
	httpServer *http.Server
	provider   Provider
	reloader   Reloader
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy
	recent     *recentLog
}

func New(p Provider, reloader Reloader, opts Options) *Server {
	srv := &Server{
		provider: p,
		reloader: reloader,
		opts:     opts,
		metrics:  newMetrics(),
		limiter:  newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:     newCORSPolicy(opts.CORSOrigins),
		recent:   newRecentLog(opts.RecentCapacity),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.HandleFunc("/info", srv.wrap("/info", srv.handleInfo))
	mux.HandleFunc("/recent", srv.wrap("/recent", srv.handleRecent))
	mux.HandleFunc("/interpret", srv.wrap("/interpret", srv.handleInterpret))
	mux.HandleFunc("/interpret/stream", srv.wrap("/interpret/stream", srv.handleInterpretStream))
	mux.HandleFunc("/admin/reload", srv.wrap("/admin/reload", srv.handleAdminReload))
	mux.Handle("/metrics", srv.metrics.Handler())

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// OnProviderRetry feeds provider retry counts into the server metrics.
func (s *Server) OnProviderRetry() { s.metrics.IncProviderRetries() }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRecent(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(s.recent.Snapshot())
}

func (s *Server) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "reload not configured")
		return
	}
	if err := s.reloader.ReloadKey(); err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (core.InterpretRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return core.InterpretRequest{}, false
	}
	defer r.Body.Close()

	var raw core.InterpretRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return core.InterpretRequest{}, false
	}

	req, fieldErrs := validate.Request(raw)
	if fieldErrs != nil {
		writeValidationError(w, fieldErrs)
		return core.InterpretRequest{}, false
	}
	return req, true
}

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()

	// Unconfigured falls back to a labeled placeholder instead of an error;
	// the streaming endpoint answers 503 for the same condition.
	if !s.provider.Configured() {
		s.metrics.IncInterpretations("complete", "placeholder")
		s.recent.Add(activity(req, "complete", "placeholder", 0, time.Since(start)))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(placeholderResult(req))
		return
	}

	result, err := s.provider.Complete(r.Context(), req, prompt.Build(req))
	if err != nil {
		status, msg := providerErrorStatus(err)
		log.Printf("httpapi: interpret failed: %v", err)
		s.metrics.IncInterpretations("complete", "error")
		s.recent.Add(activity(req, "complete", "error", 0, time.Since(start)))
		writeError(w, status, msg)
		return
	}

	s.metrics.IncInterpretations("complete", "success")
	s.recent.Add(activity(req, "complete", "success", 0, time.Since(start)))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleInterpretStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	if !s.opts.StreamingEnabled || !s.provider.Configured() {
		writeError(w, http.StatusServiceUnavailable, "interpretation service not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream unsupported")
		return
	}

	start := time.Now()
	stream, err := s.provider.Stream(r.Context(), prompt.Build(req))
	if err != nil {
		status, msg := providerErrorStatus(err)
		log.Printf("httpapi: open stream failed: %v", err)
		s.metrics.IncInterpretations("stream", "error")
		s.recent.Add(activity(req, "stream", "error", 0, time.Since(start)))
		writeError(w, status, msg)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.IncActiveStreams(1)
	defer s.metrics.IncActiveStreams(-1)

	ctx := r.Context()
	chunks := 0
	for {
		if ctx.Err() != nil {
			s.metrics.IncInterpretations("stream", "cancelled")
			s.recent.Add(activity(req, "stream", "cancelled", chunks, time.Since(start)))
			return
		}

		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			s.metrics.IncInterpretations("stream", "success")
			s.recent.Add(activity(req, "stream", "success", chunks, time.Since(start)))
			return
		}
		if err != nil {
			// Headers are long gone; dropping the connection without the
			// terminating chunk is the only signal left for the client. A
			// plain return would let net/http finish the chunked body and
			// the client would mistake the partial text for a clean end.
			log.Printf("httpapi: stream died after %d chunks: %v", chunks, err)
			s.metrics.IncInterpretations("stream", "error")
			s.recent.Add(activity(req, "stream", "error", chunks, time.Since(start)))
			panic(http.ErrAbortHandler)
		}
		if fragment == "" {
			continue
		}

		if _, err := io.WriteString(w, fragment); err != nil {
			s.metrics.IncInterpretations("stream", "cancelled")
			s.recent.Add(activity(req, "stream", "cancelled", chunks, time.Since(start)))
			return
		}
		flusher.Flush()
		chunks++
		s.metrics.IncStreamChunks()
	}
}

func placeholderResult(req core.InterpretRequest) *core.InterpretationResult {
	return &core.InterpretationResult{
		ID:      uuid.NewString(),
		Message: req.Message,
		Interpretation: "(placeholder) The interpretation service is not configured. " +
			"This canned response stands in for a real reading of your message.",
		Metrics: core.Metrics{
			SarcasmProbability:           0,
			PassiveAggressionProbability: 0,
			OverallTone:                  core.ToneNeutral,
			Confidence:                   0,
		},
		Timestamp: time.Now().UTC(),
	}
}

func providerErrorStatus(err error) (int, string) {
	var perr *provider.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case provider.KindConfig:
			return http.StatusServiceUnavailable, "interpretation service not configured"
		case provider.KindRateLimited:
			return http.StatusTooManyRequests, "interpretation service is rate limited; try again shortly"
		default:
			return http.StatusInternalServerError, "interpretation failed"
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return httpStatusClientClosed, "request cancelled"
	}
	return http.StatusInternalServerError, "interpretation failed"
}

// 499 in the nginx tradition; not exported by net/http.
const httpStatusClientClosed = 499

func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
