package llm

import (
	"context"
	"fmt"
	"strings"
)

// ProviderConfig selects and configures a Source.
type ProviderConfig struct {
	Name         string // echo | gemini | ollama
	Model        string
	GeminiAPIKey string
	OllamaHost   string
	RPS          float64
	Burst        int
}

// NewSource builds the configured provider wrapped in the shared throttle.
func NewSource(ctx context.Context, cfg ProviderConfig) (Source, error) {
	var (
		src Source
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "echo":
		src = Echo{}
	case "gemini":
		src, err = NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
	case "ollama":
		src = NewOllama(cfg.OllamaHost, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	return NewThrottled(src, cfg.RPS, cfg.Burst), nil
}
