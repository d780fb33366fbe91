package enrich

import (
	"context"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/stretchr/testify/mock"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Name() string { return "mock" }

func (m *mockGenerator) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.GenerateResponse), args.Error(1)
}

func purpose(p string) any {
	return mock.MatchedBy(func(req models.GenerateRequest) bool { return req.Purpose == p })
}
