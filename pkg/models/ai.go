// Package models contains shared data models used across the adlens codebase.
package models

import (
	"context"
	"encoding/json"
)

// GenerationProvider is the interface every text-generation integration implements.
// Never call a specific provider directly; inject this interface.
type GenerationProvider interface {
	// Generate turns structured input into a structured (JSON) response.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	// Name returns the provider identifier (e.g., "ollama", "anthropic").
	Name() string
}

// GenerateRequest is the input to a generation call.
type GenerateRequest struct {
	Purpose      string          // "insights" or "tasks"; used for logging and metrics
	Instructions string          // system-level guidance, including the expected output shape
	Input        json.RawMessage // structured payload the response must be grounded on
	MaxTokens    int
}

// GenerateResponse carries the raw text returned by the provider.
type GenerateResponse struct {
	Content string
	Model   string
}
