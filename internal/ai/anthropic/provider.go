package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/adlens/internal/ai/provider"
	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
)

// Provider implements models.GenerationProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client sdk.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: sdk.NewClient(option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)),
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.cfg.Model),
		MaxTokens: int64(provider.MaxTokens(req)),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(provider.UserPrompt(req))),
		},
	}
	if req.Instructions != "" {
		params.System = []sdk.TextBlockParam{{Text: req.Instructions}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return models.GenerateResponse{}, eris.Wrapf(provider.ErrProviderUnavailable, "status %d", apiErr.StatusCode)
		}
		return models.GenerateResponse{}, provider.ClassifyError(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return models.GenerateResponse{}, eris.Wrap(provider.ErrInvalidResponse, "no text content")
	}
	return models.GenerateResponse{Content: b.String(), Model: string(msg.Model)}, nil
}

var _ models.GenerationProvider = (*Provider)(nil)
