// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	Store     StoreConfig
	Responder ResponderConfig
	Scheduler SchedulerConfig
}

// StoreConfig controls session persistence.
type StoreConfig struct {
	Backend   string // "file" or "sqlite"
	DataDir   string // file backend: one JSON record per session
	DBPath    string // sqlite backend
	LogCap    int    // narrative log entries kept per session
	Retention time.Duration
}

// ResponderConfig controls the decision generator.
type ResponderConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	Persona        string
	RequestTimeout time.Duration
}

// Enabled reports whether a generator is configured at all. Without a key
// the service still records sessions but never speaks.
func (r ResponderConfig) Enabled() bool {
	return r.APIKey != ""
}

// SchedulerConfig holds the tuning knobs for both background processes.
type SchedulerConfig struct {
	WaitingInterval  time.Duration
	OutreachInterval time.Duration
	EvictionInterval time.Duration

	GuardWindow            time.Duration
	ThinkingThresholds     []float64
	ThinkingSpacing        time.Duration
	MaxConsecutiveTimeouts int

	SilenceThreshold     time.Duration
	MinProactiveInterval time.Duration
	TriggerProbability   float64
	QuietHoursStart      int
	QuietHoursEnd        int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Store: StoreConfig{
			Backend:   getEnv("STORE_BACKEND", "file"),
			DataDir:   getEnv("DATA_DIR", "./data/sessions"),
			DBPath:    getEnv("DB_PATH", "./data/tether.db"),
			LogCap:    getEnvInt("SESSION_LOG_CAP", 50),
			Retention: getEnvDuration("SESSION_RETENTION", 720*time.Hour),
		},
		Responder: ResponderConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			Persona:        getEnv("PERSONA", ""),
			RequestTimeout: getEnvDuration("RESPONDER_TIMEOUT", 60*time.Second),
		},
		Scheduler: SchedulerConfig{
			WaitingInterval:        getEnvDuration("WAITING_CHECK_INTERVAL", 15*time.Second),
			OutreachInterval:       getEnvDuration("OUTREACH_CHECK_INTERVAL", 10*time.Minute),
			EvictionInterval:       getEnvDuration("EVICTION_INTERVAL", time.Hour),
			GuardWindow:            getEnvDuration("GUARD_WINDOW", 5*time.Second),
			ThinkingThresholds:     getEnvFloats("THINKING_THRESHOLDS", []float64{0.30, 0.60, 0.85}),
			ThinkingSpacing:        getEnvDuration("THINKING_SPACING", 30*time.Second),
			MaxConsecutiveTimeouts: getEnvInt("MAX_CONSECUTIVE_TIMEOUTS", 3),
			SilenceThreshold:       getEnvDuration("SILENCE_THRESHOLD", 2*time.Hour),
			MinProactiveInterval:   getEnvDuration("MIN_PROACTIVE_INTERVAL", 12*time.Hour),
			TriggerProbability:     getEnvFloat("PROACTIVE_TRIGGER_PROBABILITY", 0.25),
			QuietHoursStart:        getEnvInt("QUIET_HOURS_START", 0),
			QuietHoursEnd:          getEnvInt("QUIET_HOURS_END", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case "file":
		if c.Store.DataDir == "" {
			return fmt.Errorf("DATA_DIR cannot be empty")
		}
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be \"file\" or \"sqlite\", got %q", c.Store.Backend)
	}
	if c.Store.LogCap <= 0 {
		return fmt.Errorf("SESSION_LOG_CAP must be > 0")
	}
	s := c.Scheduler
	if s.WaitingInterval <= 0 || s.OutreachInterval <= 0 {
		return fmt.Errorf("scheduler check intervals must be > 0")
	}
	if s.TriggerProbability < 0 || s.TriggerProbability > 1 {
		return fmt.Errorf("PROACTIVE_TRIGGER_PROBABILITY must be in [0, 1]")
	}
	if s.QuietHoursStart < 0 || s.QuietHoursStart > 23 || s.QuietHoursEnd < 0 || s.QuietHoursEnd > 23 {
		return fmt.Errorf("quiet hours must be hours in [0, 23]")
	}
	if !sort.Float64sAreSorted(s.ThinkingThresholds) {
		return fmt.Errorf("THINKING_THRESHOLDS must be ascending")
	}
	for _, th := range s.ThinkingThresholds {
		if th <= 0 || th >= 1 {
			return fmt.Errorf("THINKING_THRESHOLDS values must be in (0, 1), got %v", th)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration syntax ("90s", "2h") or a bare number
// of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// getEnvFloats parses a comma-separated list, e.g. "0.3,0.6,0.85".
func getEnvFloats(key string, fallback []float64) []float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return fallback
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
