package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/adlens/internal/api/response"
	"github.com/kiranshivaraju/adlens/internal/cache"
	"go.uber.org/zap"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// Counter is the fixed-window counter the limiter relies on.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RateLimit applies a per-client-IP fixed-window limit backed by Redis.
type RateLimit struct {
	counter        Counter
	requestsPerMin int
	logger         *zap.Logger
	now            func() time.Time
}

func NewRateLimit(c Counter, requestsPerMin int, logger *zap.Logger) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin, logger: logger, now: time.Now}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientIP(r)
		count, err := rl.counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(client), rateWindow)
		if err != nil {
			// fail open
			rl.logger.Warn("rate limit counter unavailable", zap.String("client", client), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(rateWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				response.CodeRateLimited, "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
