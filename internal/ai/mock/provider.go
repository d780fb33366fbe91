package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/adlens/internal/ai"
	"github.com/kiranshivaraju/adlens/pkg/models"
)

// Canned responses returned by NewMockProvider.
const (
	InsightsJSON = `{"insights":[{"title":"Spend concentrates in low-converting keywords","description":"Most cost comes from keywords without conversions.","category":"efficiency","impact":"high"}]}`
	TasksJSON    = `{"tasks":[{"type":"bid_adjustment","priority":"high","description":"Lower bids on zero-conversion keywords","impact":"Reduce wasted spend","difficulty":"easy","action_items":["Export zero-conversion keywords","Reduce bids by 30%"]}]}`
)

// MockProvider satisfies models.GenerationProvider for testing.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	m.calls.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GenerateResponse{}, nil
}

// Calls returns how many times Generate ran.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// NewMockProvider returns a MockProvider answering each purpose with a canned document.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
			content := InsightsJSON
			if req.Purpose == "tasks" {
				content = TasksJSON
			}
			return models.GenerateResponse{Content: content, Model: "mock-v1"}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (models.GenerateResponse, error) {
			return models.GenerateResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until the context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.GenerateRequest) (models.GenerateResponse, error) {
			<-ctx.Done()
			return models.GenerateResponse{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements GenerationProvider.
var _ models.GenerationProvider = (*MockProvider)(nil)
