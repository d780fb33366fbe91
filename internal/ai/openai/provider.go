package openai

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

// Provider implements models.GenerationProvider against any OpenAI-compatible
// /chat/completions endpoint.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewProvider targets the OpenAI API.
func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	return NewCompatible("openai", cfg.BaseURL, cfg.APIKey, cfg.Model, timeout)
}

// NewCompatible targets a self-hosted server speaking the same protocol.
// baseURL must include the version prefix (e.g. http://host:8000/v1).
func NewCompatible(name, baseURL, apiKey, model string, timeout time.Duration) *Provider {
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return p.name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []message{
			{Role: "system", Content: req.Instructions},
			{Role: "user", Content: provider.UserPrompt(req)},
		},
		MaxTokens:      provider.MaxTokens(req),
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	data, err := provider.PostJSON(ctx, p.client, p.baseURL+"/chat/completions", headers, body)
	if err != nil {
		return models.GenerateResponse{}, err
	}

	res := gjson.ParseBytes(data)
	content := res.Get("choices.0.message.content")
	if !content.Exists() {
		return models.GenerateResponse{}, eris.Wrap(provider.ErrInvalidResponse, "missing choices[0].message.content")
	}
	model := res.Get("model").String()
	if model == "" {
		model = p.model
	}
	return models.GenerateResponse{Content: content.String(), Model: model}, nil
}

var _ models.GenerationProvider = (*Provider)(nil)
