package ai

import (
	"context"
	"time"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a provider with a token bucket.
type RateLimited struct {
	next    models.GenerationProvider
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute to p. A non-positive limit
// returns p unchanged.
func NewRateLimited(p models.GenerationProvider, perMinute int) models.GenerationProvider {
	if p == nil || perMinute <= 0 {
		return p
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    p,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return models.GenerateResponse{}, eris.Wrap(ErrInferenceTimeout, "waiting for rate limiter: "+err.Error())
	}
	return r.next.Generate(ctx, req)
}
