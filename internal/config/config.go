package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	Provider ProviderConfig
	HTTP     HTTPConfig
}

type ProviderConfig struct {
	APIKey           string
	APIKeyFile       string
	BaseURL          string
	Model            string
	StreamingEnabled bool
	MaxAttempts      int
	RetryDelayMS     int
	LegacyKeyEnv     string
}

type HTTPConfig struct {
	RateRPS        int
	RateBurst      int
	CORSOrigins    []string
	RecentCapacity int
}

const (
	defaultAddr        = ":8080"
	defaultMaxAttempts = 3
	defaultRetryMS     = 1000
	defaultRateRPS     = 5
	defaultRateBurst   = 10
	defaultRecentCap   = 64
)

func Load() Config {
	cfg := Config{}

	cfg.Addr = strings.TrimSpace(os.Getenv("EMOJILENS_ADDR"))
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}

	cfg.Provider.APIKey = strings.TrimSpace(os.Getenv("EMOJILENS_PROVIDER_API_KEY"))
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if cfg.Provider.APIKey != "" {
			cfg.Provider.LegacyKeyEnv = "OPENAI_API_KEY"
		}
	}
	cfg.Provider.APIKeyFile = strings.TrimSpace(os.Getenv("EMOJILENS_PROVIDER_API_KEY_FILE"))
	cfg.Provider.BaseURL = strings.TrimSpace(os.Getenv("EMOJILENS_PROVIDER_BASE_URL"))
	cfg.Provider.Model = strings.TrimSpace(os.Getenv("EMOJILENS_PROVIDER_MODEL"))
	cfg.Provider.StreamingEnabled = readBool("EMOJILENS_STREAMING_ENABLED", true)
	cfg.Provider.MaxAttempts = readInt("EMOJILENS_RETRY_MAX_ATTEMPTS", defaultMaxAttempts)
	cfg.Provider.RetryDelayMS = readInt("EMOJILENS_RETRY_DELAY_MS", defaultRetryMS)

	cfg.HTTP.RateRPS = readInt("EMOJILENS_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("EMOJILENS_RATE_BURST", defaultRateBurst)
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("EMOJILENS_CORS_ORIGINS"))
	cfg.HTTP.RecentCapacity = readInt("EMOJILENS_RECENT_CAPACITY", defaultRecentCap)

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// RetryDelay converts the configured inter-attempt delay.
func (c Config) RetryDelay() time.Duration {
	if c.Provider.RetryDelayMS <= 0 {
		return time.Duration(defaultRetryMS) * time.Millisecond
	}
	return time.Duration(c.Provider.RetryDelayMS) * time.Millisecond
}

// Configured reports whether the pipeline can go live: a key, or a key file
// to load one from, must be present.
func (c ProviderConfig) Configured() bool {
	return c.APIKey != "" || c.APIKeyFile != ""
}

type Summary struct {
	Addr     string          `json:"addr"`
	Provider ProviderSummary `json:"provider"`
	HTTP     HTTPSummary     `json:"http"`
}

type ProviderSummary struct {
	APIKey           string `json:"api_key,omitempty"`
	APIKeyFile       string `json:"api_key_file,omitempty"`
	BaseURL          string `json:"base_url,omitempty"`
	Model            string `json:"model,omitempty"`
	StreamingEnabled bool   `json:"streaming_enabled"`
	MaxAttempts      int    `json:"max_attempts"`
	RetryDelayMS     int    `json:"retry_delay_ms"`
	Configured       bool   `json:"configured"`
}

type HTTPSummary struct {
	RateRPS        int      `json:"rate_rps"`
	RateBurst      int      `json:"rate_burst"`
	CORSOrigins    []string `json:"cors_origins,omitempty"`
	RecentCapacity int      `json:"recent_capacity"`
}

// Summary produces a loggable snapshot that never leaks the key.
func (c Config) Summary() Summary {
	return Summary{
		Addr: c.Addr,
		Provider: ProviderSummary{
			APIKey:           redactString(c.Provider.APIKey),
			APIKeyFile:       c.Provider.APIKeyFile,
			BaseURL:          c.Provider.BaseURL,
			Model:            c.Provider.Model,
			StreamingEnabled: c.Provider.StreamingEnabled,
			MaxAttempts:      c.Provider.MaxAttempts,
			RetryDelayMS:     c.Provider.RetryDelayMS,
			Configured:       c.Provider.Configured(),
		},
		HTTP: HTTPSummary{
			RateRPS:        c.HTTP.RateRPS,
			RateBurst:      c.HTTP.RateBurst,
			CORSOrigins:    append([]string(nil), c.HTTP.CORSOrigins...),
			RecentCapacity: c.HTTP.RecentCapacity,
		},
	}
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
