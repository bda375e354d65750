// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/dayplan/internal/generator"
)

// DefaultGeminiModels is the model fallback order when GEMINI_MODELS is unset.
var DefaultGeminiModels = []string{"gemini-2.0-flash-exp", "gemini-1.5-pro", "gemini-1.5-flash"}

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	DefaultTimezone string
	AllowedOrigins  []string
	Monitor         MonitorConfig
	Generator       GeneratorConfig
}

// MonitorConfig controls the background conflict sweep.
type MonitorConfig struct {
	Enabled  bool
	Schedule string
}

// GeneratorConfig controls the plan generator backends.
type GeneratorConfig struct {
	// File is an optional YAML backend list that replaces the env chain.
	File      string
	Timeout   time.Duration
	RateLimit float64
	Burst     int

	GeminiAPIKey  string
	GeminiModels  []string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	AgentAddr     string
}

// BackendFile is the YAML layout of GENERATOR_CONFIG.
type BackendFile struct {
	Backends []BackendEntry `yaml:"backends"`
}

// BackendEntry is one backend in a BackendFile. The API key is read from the
// environment variable named by APIKeyEnv.
type BackendEntry struct {
	Name      string `yaml:"name"`
	Provider  string `yaml:"provider"`
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/dayplan.db"),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "UTC"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", nil),
		Monitor: MonitorConfig{
			Enabled:  getEnvBool("MONITOR_ENABLED", true),
			Schedule: getEnv("MONITOR_CRON", "*/15 * * * *"),
		},
		Generator: GeneratorConfig{
			File:          getEnv("GENERATOR_CONFIG", ""),
			Timeout:       getEnvDuration("GENERATOR_TIMEOUT", 60*time.Second),
			RateLimit:     getEnvFloat("GENERATOR_RATE_LIMIT", 1),
			Burst:         getEnvInt("GENERATOR_BURST", 2),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModels:  getEnvList("GEMINI_MODELS", DefaultGeminiModels),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			AgentAddr:     getEnv("PLANNER_AGENT_ADDR", ""),
		},
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaultOrigins(cfg.FrontendURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaultOrigins(frontendURL string) []string {
	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if frontendURL != "" {
		origins = append(origins, strings.TrimRight(frontendURL, "/"))
	}
	return origins
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	if c.Monitor.Enabled {
		if _, err := cron.ParseStandard(c.Monitor.Schedule); err != nil {
			return fmt.Errorf("MONITOR_CRON %q: %w", c.Monitor.Schedule, err)
		}
	}
	if c.Generator.Timeout <= 0 {
		return errors.New("GENERATOR_TIMEOUT must be > 0")
	}
	if c.Generator.RateLimit < 0 {
		return errors.New("GENERATOR_RATE_LIMIT must be >= 0")
	}
	if c.Generator.Burst <= 0 {
		return errors.New("GENERATOR_BURST must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Backends returns the ordered generator chain: the YAML file when set,
// otherwise every provider with credentials in the environment (Gemini
// models first, then OpenAI, then the gRPC agent).
func (g GeneratorConfig) Backends() ([]generator.Spec, error) {
	if g.File != "" {
		data, err := os.ReadFile(g.File)
		if err != nil {
			return nil, fmt.Errorf("read generator config: %w", err)
		}
		return ParseBackendFile(data)
	}

	var specs []generator.Spec
	if g.GeminiAPIKey != "" {
		for _, model := range g.GeminiModels {
			specs = append(specs, generator.Spec{Provider: generator.ProviderGemini, Model: model, APIKey: g.GeminiAPIKey})
		}
	}
	if g.OpenAIAPIKey != "" {
		specs = append(specs, generator.Spec{
			Provider: generator.ProviderOpenAI,
			URL:      g.OpenAIBaseURL,
			Model:    g.OpenAIModel,
			APIKey:   g.OpenAIAPIKey,
		})
	}
	if g.AgentAddr != "" {
		specs = append(specs, generator.Spec{Provider: generator.ProviderGRPC, URL: g.AgentAddr})
	}
	if len(specs) == 0 {
		return nil, errors.New("no generator backend configured: set GEMINI_API_KEY, OPENAI_API_KEY, PLANNER_AGENT_ADDR or GENERATOR_CONFIG")
	}
	return specs, nil
}

// ParseBackendFile decodes a YAML backend list.
func ParseBackendFile(data []byte) ([]generator.Spec, error) {
	var file BackendFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse generator config: %w", err)
	}
	if len(file.Backends) == 0 {
		return nil, errors.New("generator config lists no backends")
	}

	specs := make([]generator.Spec, 0, len(file.Backends))
	for i, b := range file.Backends {
		switch b.Provider {
		case generator.ProviderGemini, generator.ProviderOpenAI, generator.ProviderGRPC:
		default:
			return nil, fmt.Errorf("backend %d (%s): unknown provider %q", i, b.Name, b.Provider)
		}
		spec := generator.Spec{Provider: b.Provider, URL: b.URL, Model: b.Model}
		if b.APIKeyEnv != "" {
			spec.APIKey = os.Getenv(b.APIKeyEnv)
			if spec.APIKey == "" {
				return nil, fmt.Errorf("backend %d (%s): %s is not set", i, b.Name, b.APIKeyEnv)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
