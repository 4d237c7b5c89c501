package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBody bounds the responses Client reads into memory.
const maxResponseBody = 10 << 20

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client calls the RESC web service's /v1 API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the web service at serviceURL (without the
// /v1 suffix), sending requests through transport.
func NewClient(serviceURL string, transport http.RoundTripper) *Client {
	return &Client{
		baseURL: strings.TrimRight(serviceURL, "/") + "/v1",
		http:    &http.Client{Transport: transport},
	}
}

// BaseURL returns the versioned API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get is Do for a GET request without body.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Do sends a request to path, relative to the API root. A non-2xx response
// is returned as a *ResponseError, a request that got no response as a
// *RequestError.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &RequestError{Method: method, URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       b,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}
