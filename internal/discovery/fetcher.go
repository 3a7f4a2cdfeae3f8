package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxFetchBodyBytes limits the size of fetched responses.
const maxFetchBodyBytes = 10 * 1024 * 1024 // 10 MB

// HTTPFetcher fetches content from a URL with optional conditional GET
// headers.
type HTTPFetcher interface {
	Fetch(ctx context.Context, url string, etag, lastModified string) (*FetchResponse, error)
}

// FetchResponse represents the result of an HTTP fetch.
type FetchResponse struct {
	StatusCode   int
	Body         string
	ETag         string
	LastModified string
}

// DefaultHTTPFetcher implements HTTPFetcher using net/http.
type DefaultHTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher backed by the given http.Client.
func NewHTTPFetcher(client *http.Client, userAgent string) *DefaultHTTPFetcher {
	return &DefaultHTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch performs an HTTP GET with optional conditional headers and returns
// the status code, body, and any caching headers in the response.
func (f *DefaultHTTPFetcher) Fetch(
	ctx context.Context,
	url string,
	etag, lastModified string,
) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("fetch new request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, doErr := f.client.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("fetch do request: %w", doErr)
	}
	defer resp.Body.Close()

	result := &FetchResponse{
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode != http.StatusNotModified {
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
		if readErr != nil {
			return nil, fmt.Errorf("fetch read body: %w", readErr)
		}
		result.Body = string(raw)
	}

	return result, nil
}
