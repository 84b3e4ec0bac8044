// Package httpmisc contains options that are common to a few places that use HTTP.
package httpmisc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const ClientTimeout = 30 * time.Second

func GetWithContextWithClient(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// PostJSONWithContextWithClient posts body as application/json.
func PostJSONWithContextWithClient(ctx context.Context, client *http.Client, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

// ResourceError marks a permanent per-resource failure (e.g. HTTP 404), as
// opposed to a transient failure of the server.
type ResourceError struct {
	// Note: .error is the implementation of .Error, .Unwrap etc. It is not
	// in the Unwrap chain. Use something like
	// `ResourceError{fmt.Errorf("...: %w", err)}` to set up an
	// instance with `err` in the Unwrap chain.
	error
}

func (err ResourceError) Is(target error) bool {
	if _, ok := target.(ResourceError); ok {
		return true
	}
	return false
}

// ResponseOK returns nil for HTTP 200. Otherwise it closes the body and
// returns an error; 4xx responses other than 429 are ResourceErrors.
func ResponseOK(resp *http.Response) error {
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("HTTP closing body due to HTTP %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("HTTP closing body: %w", err)
		}
		return ResourceError{fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	return nil
}
