// Package provider holds the pieces shared by every generation provider:
// sentinel errors, prompt rendering and the JSON-over-HTTP transport.
package provider

import "github.com/rotisserie/eris"

var (
	ErrProviderUnavailable = eris.New("ai provider unavailable")
	ErrInferenceTimeout    = eris.New("ai inference timeout")
	ErrInvalidResponse     = eris.New("ai provider returned invalid response")
)
