// Package config holds the process-wide configuration for the conversa
// backend. It is read once at startup (see Load) and passed down
// explicitly — handlers never reach into the environment directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration, populated once at process start.
type Config struct {
	Port int

	DataRoot string

	LLMAPIKey                  string
	LLMModelClassifier         string
	LLMModelStep               string
	LLMTimeout                 time.Duration
	LLMTemperatureClassifier   float64
	LLMTemperatureStep         float64
	LLMMaxTokensClassifier     int
	LLMMaxTokensStep           int

	AllowedOrigins []string

	ContactNumber  string
	ContactURLBase string
	PublicBaseURL  string
	AdminToken     string

	LockSweepCron     string
	ButtonCatalogPath string

	HTTPIdleTimeout time.Duration
	LockWaitTimeout time.Duration

	DiagnosticAttemptThreshold int
	ClarificationFailThreshold int
	GuidedStoryConfidence      float64

	SessionCacheCapacity int
	MaxImageBytes        int64
	MaxBodyBytes         int64
	MaxImageBodyBytes    int64

	ChatRateLimitPerMinute      int
	GreetingRateLimitPerMinute  int
	LLMCallsPerMinutePerConvo   int
}

// Default returns a Config populated with the documented defaults from
// spec.md §6.3, before environment overrides are applied.
func Default() *Config {
	return &Config{
		Port:     3001,
		DataRoot: "./data",

		LLMModelClassifier:       "classifier-small",
		LLMModelStep:             "step-small",
		LLMTimeout:               12 * time.Second,
		LLMTemperatureClassifier: 0.2,
		LLMTemperatureStep:       0.3,
		LLMMaxTokensClassifier:   450,
		LLMMaxTokensStep:         900,

		AllowedOrigins: []string{"https://example.com"},

		ContactURLBase: "https://wa.me/",

		LockSweepCron:     "*/1 * * * *",
		ButtonCatalogPath: "",

		HTTPIdleTimeout: 30 * time.Second,
		LockWaitTimeout: 2 * time.Second,

		DiagnosticAttemptThreshold: 2,
		ClarificationFailThreshold: 3,
		GuidedStoryConfidence:      0.3,

		SessionCacheCapacity: 512,
		MaxImageBytes:        5 * 1024 * 1024,
		MaxBodyBytes:         64 * 1024,
		MaxImageBodyBytes:    10 * 1024 * 1024,

		ChatRateLimitPerMinute:     20,
		GreetingRateLimitPerMinute: 5,
		LLMCallsPerMinutePerConvo:  3,
	}
}

// Load builds a Config from defaults overlaid with environment variables.
// It does not validate cross-field requirements — callers that need the
// LLM or escalation subsystems should call RequireLLM / RequireEscalation
// once wiring is known.
func Load() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		cfg.Port = n
	}
	if v := os.Getenv("DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}

	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if v := os.Getenv("LLM_MODEL_CLASSIFIER"); v != "" {
		cfg.LLMModelClassifier = v
	}
	if v := os.Getenv("LLM_MODEL_STEP"); v != "" {
		cfg.LLMModelStep = v
	}
	if v := os.Getenv("LLM_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LLM_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.LLMTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("LLM_TEMPERATURE_CLASSIFIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LLM_TEMPERATURE_CLASSIFIER %q: %w", v, err)
		}
		cfg.LLMTemperatureClassifier = f
	}
	if v := os.Getenv("LLM_TEMPERATURE_STEP"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LLM_TEMPERATURE_STEP %q: %w", v, err)
		}
		cfg.LLMTemperatureStep = f
	}
	if v := os.Getenv("LLM_MAX_TOKENS_CLASSIFIER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LLM_MAX_TOKENS_CLASSIFIER %q: %w", v, err)
		}
		cfg.LLMMaxTokensClassifier = n
	}
	if v := os.Getenv("LLM_MAX_TOKENS_STEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid LLM_MAX_TOKENS_STEP %q: %w", v, err)
		}
		cfg.LLMMaxTokensStep = n
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				origins = append(origins, t)
			}
		}
		cfg.AllowedOrigins = origins
	}

	cfg.ContactNumber = os.Getenv("CONTACT_NUMBER")
	if v := os.Getenv("CONTACT_URL_BASE"); v != "" {
		cfg.ContactURLBase = v
	}
	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	if v := os.Getenv("LOCK_SWEEP_CRON"); v != "" {
		cfg.LockSweepCron = v
	}
	cfg.ButtonCatalogPath = os.Getenv("BUTTON_CATALOG_PATH")

	return cfg, nil
}

// RequireLLM validates the fields needed to run LLM-governed stages.
func (c *Config) RequireLLM() error {
	if c.LLMAPIKey == "" {
		return fmt.Errorf("config: LLM_API_KEY is required for LLM-governed stages")
	}
	return nil
}

// RequireEscalation validates the fields needed to build ticket contact links.
func (c *Config) RequireEscalation() error {
	if c.ContactNumber == "" {
		return fmt.Errorf("config: CONTACT_NUMBER is required for escalation")
	}
	if c.ContactURLBase == "" {
		return fmt.Errorf("config: CONTACT_URL_BASE is required for escalation")
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("config: PUBLIC_BASE_URL is required for escalation")
	}
	return nil
}
