package gemini

import (
	"context"

	"github.com/kiranshivaraju/adlens/internal/ai/provider"
	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Provider implements models.GenerationProvider using the Gemini API.
type Provider struct {
	cfg    config.GeminiConfig
	client *genai.Client
}

func NewProvider(ctx context.Context, cfg config.GeminiConfig) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "initialize genai client")
	}
	return &Provider{cfg: cfg, client: client}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.2)),
		MaxOutputTokens:  int32(provider.MaxTokens(req)),
		ResponseMIMEType: "application/json",
	}
	if req.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.Instructions)},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{genai.NewPartFromText(provider.UserPrompt(req))},
		},
	}, cfg)
	if err != nil {
		return models.GenerateResponse{}, provider.ClassifyError(err)
	}

	text := resp.Text()
	if text == "" {
		return models.GenerateResponse{}, eris.Wrap(provider.ErrInvalidResponse, "empty candidates")
	}
	return models.GenerateResponse{Content: text, Model: p.cfg.Model}, nil
}

var _ models.GenerationProvider = (*Provider)(nil)
