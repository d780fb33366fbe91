package ai

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultMaxInputBytes bounds the structured input sent per call.
const DefaultMaxInputBytes = 64 << 10

// Service applies the inference timeout and response sanity checks around a
// provider. It satisfies models.GenerationProvider itself.
type Service struct {
	provider      models.GenerationProvider
	timeout       time.Duration
	maxTokens     int
	maxInputBytes int
	logger        *zap.Logger
}

// NewService wraps p. A zero timeout disables the deadline.
func NewService(p models.GenerationProvider, timeout time.Duration, maxTokens int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:      p,
		timeout:       timeout,
		maxTokens:     maxTokens,
		maxInputBytes: DefaultMaxInputBytes,
		logger:        logger,
	}
}

func (s *Service) Name() string {
	if s.provider == nil {
		return "none"
	}
	return s.provider.Name()
}

// Generate calls the provider under the inference timeout.
func (s *Service) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	if s.provider == nil {
		return models.GenerateResponse{}, ErrNotConfigured
	}
	if len(req.Input) > s.maxInputBytes {
		return models.GenerateResponse{}, eris.Wrapf(ErrInputTooLarge, "%d bytes", len(req.Input))
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = s.maxTokens
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.provider.Generate(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout) {
			err = eris.Wrap(ErrInferenceTimeout, err.Error())
		}
		s.logger.Warn("generation failed",
			zap.String("provider", s.provider.Name()),
			zap.String("purpose", req.Purpose),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return models.GenerateResponse{}, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return models.GenerateResponse{}, eris.Wrap(ErrInvalidResponse, "empty content")
	}

	s.logger.Debug("generation completed",
		zap.String("provider", s.provider.Name()),
		zap.String("purpose", req.Purpose),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_bytes", len(resp.Content)))
	return resp, nil
}

// TruncateString truncates s to maxBytes without splitting UTF-8 runes.
func TruncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

var _ models.GenerationProvider = (*Service)(nil)
