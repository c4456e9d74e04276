package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice bridge service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	TelnyxAPIKey  string
	TelnyxAPIBase string
	OpenAIAPIKey  string
	PublicDomain  string

	RealtimeModel string
	RealtimeWSURL string

	AgentVoice        string
	AgentInstructions string
	AgentGreeting     string

	SetupTimeout     time.Duration
	DrainGracePeriod time.Duration

	Departments []Department

	DatabaseURL string
}

// Department is one named transfer destination with its SIP routing headers.
type Department struct {
	Name    string
	SIPURI  string
	Headers []SIPHeader
}

// SIPHeader is a custom SIP header attached to a transfer action.
type SIPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const defaultInstructions = "You are a helpful voice assistant. Greet warmly, then help succinctly. " +
	"Keep responses concise but informative. Be friendly and professional."

const defaultGreeting = "Hi! Thanks for calling. How can I help you today?"

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		TelnyxAPIKey:      envTrimmed("TELNYX_API_KEY"),
		TelnyxAPIBase:     envOrDefault("TELNYX_API_BASE", "https://api.telnyx.com/v2"),
		OpenAIAPIKey:      envTrimmed("OPENAI_API_KEY"),
		PublicDomain:      envTrimmed("DOMAIN"),
		RealtimeModel:     envOrDefault("REALTIME_MODEL", "gpt-realtime"),
		RealtimeWSURL:     envOrDefault("REALTIME_WS_URL", "wss://api.openai.com/v1/realtime"),
		AgentVoice:        envOrDefault("AGENT_VOICE", "marin"),
		AgentInstructions: envOrDefault("AGENT_INSTRUCTIONS", defaultInstructions),
		AgentGreeting:     envOrDefault("AGENT_GREETING", defaultGreeting),
		DatabaseURL:       envTrimmed("DATABASE_URL"),
		ShutdownTimeout:   15 * time.Second,
		SetupTimeout:      10 * time.Second,
		DrainGracePeriod:  2 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SetupTimeout, err = durationFromEnv("SETUP_TIMEOUT", cfg.SetupTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DrainGracePeriod, err = durationFromEnv("DRAIN_GRACE_PERIOD", cfg.DrainGracePeriod)
	if err != nil {
		return Config{}, err
	}

	if cfg.TelnyxAPIKey == "" {
		return Config{}, fmt.Errorf("TELNYX_API_KEY is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.PublicDomain == "" {
		return Config{}, fmt.Errorf("DOMAIN is required")
	}
	if cfg.SetupTimeout <= 0 {
		return Config{}, fmt.Errorf("SETUP_TIMEOUT must be positive")
	}
	if cfg.DrainGracePeriod < 0 {
		return Config{}, fmt.Errorf("DRAIN_GRACE_PERIOD must not be negative")
	}

	cfg.Departments = loadDepartments()

	return cfg, nil
}

// loadDepartments builds the transfer table from per-department env
// variables. A department without a SIP URI is dropped entirely.
func loadDepartments() []Department {
	names := []string{"sales", "support", "billing"}
	depts := make([]Department, 0, len(names))
	for _, name := range names {
		prefix := strings.ToUpper(name)
		uri := envTrimmed(prefix + "_SIP_URI")
		if uri == "" {
			continue
		}
		d := Department{Name: name, SIPURI: uri}
		if v := envTrimmed(prefix + "_P_CALLED_PARTY_ID_HEADER"); v != "" {
			d.Headers = append(d.Headers, SIPHeader{Name: "P-Called-Party-ID", Value: v})
		}
		depts = append(depts, d)
	}
	return depts
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
