package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
)

// ResultCache stores completed job results. It only accelerates reads; the
// store stays authoritative.
type ResultCache struct {
	cache Cache
	ttl   time.Duration
}

func NewResultCache(c Cache, ttl time.Duration) *ResultCache {
	return &ResultCache{cache: c, ttl: ttl}
}

func (r *ResultCache) SetResult(ctx context.Context, result *models.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "encode result")
	}
	return r.cache.Set(ctx, ResultKey(result.JobID), data, r.ttl)
}

// GetResult returns the cached result, or false on a miss. An undecodable entry
// counts as a miss.
func (r *ResultCache) GetResult(ctx context.Context, jobID string) (*models.JobResult, bool, error) {
	data, found, err := r.cache.Get(ctx, ResultKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	var res models.JobResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, nil
	}
	return &res, true, nil
}

func (r *ResultCache) DeleteResult(ctx context.Context, jobID string) error {
	return r.cache.Delete(ctx, ResultKey(jobID))
}
