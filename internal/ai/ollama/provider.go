package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/adlens/internal/ai/provider"
	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// Provider implements models.GenerationProvider using Ollama's /api/generate.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Format  string         `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	body := generateRequest{
		Model:   p.cfg.Model,
		System:  req.Instructions,
		Prompt:  provider.UserPrompt(req),
		Format:  "json",
		Stream:  false,
		Options: map[string]any{"num_predict": provider.MaxTokens(req), "temperature": 0.2},
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/generate"
	data, err := provider.PostJSON(ctx, p.client, url, nil, body)
	if err != nil {
		return models.GenerateResponse{}, err
	}

	res := gjson.ParseBytes(data)
	content := res.Get("response")
	if !content.Exists() {
		return models.GenerateResponse{}, eris.Wrap(provider.ErrInvalidResponse, "missing response field")
	}
	model := res.Get("model").String()
	if model == "" {
		model = p.cfg.Model
	}
	return models.GenerateResponse{Content: content.String(), Model: model}, nil
}

var _ models.GenerationProvider = (*Provider)(nil)
