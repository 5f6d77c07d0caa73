package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Fetcher retrieves the bytes behind a URL or local path.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FetchError describes a failed retrieval. StatusCode is zero for transport
// and filesystem failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP error: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the request may succeed.
func (e *FetchError) Temporary() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, os.ErrNotExist)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type HTTPFetcher struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
	retry      RetryConfig
	maxBytes   int64
}

func NewHTTPFetcher(httpClient *http.Client, userAgent string, timeout time.Duration) *HTTPFetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPFetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		timeout:    timeout,
		retry:      DefaultRetryConfig,
		maxBytes:   32 << 20,
	}
}

func (f *HTTPFetcher) WithRetry(config RetryConfig) *HTTPFetcher {
	f.retry = config
	return f
}

// Fetch reads http(s) URLs over the network and anything else from disk.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if !IsRemote(location) {
		data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
		if err != nil {
			return nil, &FetchError{URL: location, Err: err}
		}
		return data, nil
	}

	var data []byte
	err := WithRetry(ctx, f.retry, func() error {
		var err error
		data, err = f.get(ctx, location, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// FetchHTML is Fetch restricted to responses served as text/html.
func (f *HTTPFetcher) FetchHTML(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := WithRetry(ctx, f.retry, func() error {
		var err error
		data, err = f.get(ctx, url, "text/html")
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *HTTPFetcher) get(ctx context.Context, url, wantType string) ([]byte, error) {
	timeoutCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	if wantType != "" {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(contentType), wantType) {
			return nil, &FetchError{URL: url, Err: fmt.Errorf("unexpected content type: %s", contentType)}
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return data, nil
}

func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
