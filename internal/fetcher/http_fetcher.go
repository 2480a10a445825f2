package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	_maxJSONSize  = 4 * 1024 * 1024  // 4 MB
	_maxAudioSize = 32 * 1024 * 1024 // 32 MB
	_userAgent    = "signageClient/1.0"
)

// ErrNotFound is returned when the server answers 404 for a lookup
var ErrNotFound = errors.New("not found")

// httpFetcher is the request plumbing shared by the schedule and TTS clients
type httpFetcher struct {
	logger *zap.Logger
	client *http.Client
}

func newHTTPFetcher(logger *zap.Logger, timeout time.Duration) httpFetcher {
	return httpFetcher{
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// do sends req and returns the body, capped at limit bytes.
// Non-200 answers are errors; 404 wraps ErrNotFound.
func (f httpFetcher) do(req *http.Request, limit int64) ([]byte, error) {
	req.Header.Set("User-Agent", _userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return data, nil
}

func (f httpFetcher) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return f.do(req, _maxJSONSize)
}
