package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/you/emojilens/internal/config"
	"github.com/you/emojilens/internal/httpapi"
	"github.com/you/emojilens/internal/prompt"
	"github.com/you/emojilens/internal/provider"
	"github.com/you/emojilens/internal/version"
)

// providerAdapter narrows *provider.Client to the httpapi.Provider seam; the
// concrete *provider.Stream satisfies httpapi.TokenStream.
type providerAdapter struct {
	*provider.Client
}

func (a providerAdapter) Stream(ctx context.Context, p prompt.Prompt) (httpapi.TokenStream, error) {
	s, err := a.Client.Stream(ctx, p)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag bool
		addr        string
		apiKeyFile  string
		baseURL     string
		model       string
		streaming   bool
		corsOrigins string
		rateRPS     int
		rateBurst   int
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&addr, "addr", "", "HTTP listen address (e.g., :8080)")
	flag.StringVar(&apiKeyFile, "api-key-file", "", "Path to file containing the provider API key")
	flag.StringVar(&baseURL, "base-url", "", "Provider API base URL")
	flag.StringVar(&model, "model", "", "Provider model name")
	flag.BoolVar(&streaming, "streaming", true, "Enable the streaming endpoint")
	flag.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&rateRPS, "rate-rps", 0, "Maximum HTTP requests per second per client")
	flag.IntVar(&rateBurst, "rate-burst", 0, "Burst size for HTTP rate limiter")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"emojilens-server version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["addr"] {
		cfg.Addr = strings.TrimSpace(addr)
	}
	if overrides["api-key-file"] {
		cfg.Provider.APIKeyFile = strings.TrimSpace(apiKeyFile)
	}
	if overrides["base-url"] {
		cfg.Provider.BaseURL = strings.TrimSpace(baseURL)
	}
	if overrides["model"] {
		cfg.Provider.Model = strings.TrimSpace(model)
	}
	if overrides["streaming"] {
		cfg.Provider.StreamingEnabled = streaming
	}
	if overrides["cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(corsOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["rate-rps"] {
		cfg.HTTP.RateRPS = rateRPS
	}
	if overrides["rate-burst"] {
		cfg.HTTP.RateBurst = rateBurst
	}

	log.Printf("%s", cfg.SummaryJSON())

	if cfg.Provider.LegacyKeyEnv != "" {
		log.Printf("server: using provider key from legacy env %s", cfg.Provider.LegacyKeyEnv)
	}

	pc := provider.New(provider.Config{
		APIKey:      cfg.Provider.APIKey,
		APIKeyFile:  cfg.Provider.APIKeyFile,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Provider.Model,
		MaxAttempts: cfg.Provider.MaxAttempts,
		RetryDelay:  cfg.RetryDelay(),
	})

	if cfg.Provider.APIKeyFile != "" {
		if err := pc.ReloadKey(); err != nil {
			log.Printf("server: initial key load: %v", err)
		}
		if err := pc.WatchKeyFile(); err != nil {
			log.Printf("server: key file watcher: %v", err)
		}
	}

	if !pc.Configured() {
		log.Printf("server: no provider key configured; /interpret serves placeholders and /interpret/stream answers 503")
	}

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	api := httpapi.New(providerAdapter{pc}, pc, httpapi.Options{
		Addr:             cfg.Addr,
		StreamingEnabled: cfg.Provider.StreamingEnabled,
		RateRPS:          cfg.HTTP.RateRPS,
		RateBurst:        cfg.HTTP.RateBurst,
		CORSOrigins:      cfg.HTTP.CORSOrigins,
		RecentCapacity:   cfg.HTTP.RecentCapacity,
		Build:            build,
	})

	pc.SetRetryHook(api.OnProviderRetry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("server: received %s, shutting down", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: http api: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
	}

	log.Printf("server: bye")
}
