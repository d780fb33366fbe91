package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/rotisserie/eris"
)

const maxResponseBytes = 4 << 20

// PostJSON sends body as JSON to url and returns the raw response body. Transport
// failures map to ErrProviderUnavailable or ErrInferenceTimeout.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ClassifyError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(ErrProviderUnavailable, "status %d", resp.StatusCode)
	}
	return data, nil
}

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return eris.Wrap(ErrInferenceTimeout, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return eris.Wrap(ErrInferenceTimeout, err.Error())
	}
	return eris.Wrap(ErrProviderUnavailable, err.Error())
}
