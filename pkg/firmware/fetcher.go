package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPFetcher retrieves images over plain HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher using the given client, or
// http.DefaultClient when nil. Cancellation flows through the request
// context, not a client timeout, so large images are not cut short.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch starts a streamed download. The returned total is -1 when the
// server omits Content-Length.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, &FetchError{URL: url, Reason: "invalid request", Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, &FetchError{URL: url, Reason: "transport error", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, &FetchError{URL: url, Reason: fmt.Sprintf("unexpected status %s", resp.Status)}
	}

	total := resp.ContentLength
	if total == 0 {
		resp.Body.Close()
		return nil, 0, &FetchError{URL: url, Reason: "empty response body"}
	}
	return resp.Body, total, nil
}

// IsS3URL reports whether rawURL addresses an S3 object (s3://bucket/key).
func IsS3URL(rawURL string) bool {
	return strings.HasPrefix(rawURL, "s3://")
}
