package provider

import (
	"strings"

	"github.com/kiranshivaraju/adlens/pkg/models"
)

// DefaultMaxTokens applies when a request does not set MaxTokens.
const DefaultMaxTokens = 2048

// UserPrompt renders the request input as the user turn.
func UserPrompt(req models.GenerateRequest) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON document and nothing else.\n\nInput data:\n")
	b.Write(req.Input)
	return b.String()
}

// MaxTokens returns the request limit or the default.
func MaxTokens(req models.GenerateRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
