package vllm

import (
	"strings"
	"time"

	"github.com/kiranshivaraju/adlens/internal/ai/openai"
	"github.com/kiranshivaraju/adlens/internal/config"
)

// NewProvider returns a client for vLLM's OpenAI-compatible server.
func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *openai.Provider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return openai.NewCompatible("vllm", base, "", cfg.Model, timeout)
}
