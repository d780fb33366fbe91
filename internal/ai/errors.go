package ai

import (
	"github.com/kiranshivaraju/adlens/internal/ai/provider"
	"github.com/rotisserie/eris"
)

var (
	ErrProviderUnavailable = provider.ErrProviderUnavailable
	ErrInferenceTimeout    = provider.ErrInferenceTimeout
	ErrInvalidResponse     = provider.ErrInvalidResponse
	ErrNotConfigured       = eris.New("ai provider not configured")
	ErrInputTooLarge       = eris.New("generation input too large")
)
