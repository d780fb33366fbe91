package ai

import (
	"context"

	"github.com/kiranshivaraju/adlens/internal/ai/anthropic"
	"github.com/kiranshivaraju/adlens/internal/ai/gemini"
	"github.com/kiranshivaraju/adlens/internal/ai/ollama"
	"github.com/kiranshivaraju/adlens/internal/ai/openai"
	"github.com/kiranshivaraju/adlens/internal/ai/vllm"
	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
)

// NewProvider constructs the generation provider named by cfg.Provider.
// Called once at startup. "none" yields ErrNotConfigured.
func NewProvider(ctx context.Context, cfg config.AIConfig) (models.GenerationProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "gemini":
		return gemini.NewProvider(ctx, cfg.Gemini)
	case "none":
		return nil, ErrNotConfigured
	default:
		return nil, eris.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, gemini, none", cfg.Provider)
	}
}
