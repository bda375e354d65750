package generator

import (
	"fmt"
	"log/slog"
)

// Provider names accepted in backend specs.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderGRPC   = "grpc"
)

// Spec describes one backend in the fallback chain.
type Spec struct {
	Provider string
	URL      string
	Model    string
	APIKey   string
}

// NewBackend constructs the backend a spec describes. gRPC backends dial
// immediately and must be closed by the caller.
func NewBackend(spec Spec, opts HTTPOptions, logger *slog.Logger) (Backend, error) {
	switch spec.Provider {
	case ProviderGemini:
		if spec.Model == "" {
			return nil, fmt.Errorf("gemini backend requires a model")
		}
		return NewGeminiBackend(spec.URL, spec.Model, spec.APIKey, opts), nil
	case ProviderOpenAI:
		if spec.Model == "" {
			return nil, fmt.Errorf("openai backend requires a model")
		}
		return NewOpenAIBackend(spec.URL, spec.Model, spec.APIKey, opts), nil
	case ProviderGRPC:
		if spec.URL == "" {
			return nil, fmt.Errorf("grpc backend requires an address")
		}
		cfg := DefaultGRPCConfig(spec.URL)
		if opts.Timeout > 0 {
			cfg.RequestTimeout = opts.Timeout
		}
		return NewGRPCBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", spec.Provider)
	}
}
