package coingecko

import (
	"net/http"
	"net/url"
)

const baseURL = "https://api.coingecko.com/api/v3"

// HTTPClient is the transport seam; tests swap in a mock here.
//
//go:generate mockgen -package=coingecko_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient talks to the CoinGecko REST API. Every request carries the
// configured headers and query parameters on top of the per-endpoint
// ones.
type APIClient struct {
	baseURL    string
	httpClient HTTPClient
	header     http.Header
	query      url.Values
}

// APIClientOption customizes an APIClient at construction.
type APIClientOption func(*APIClient)

// WithBaseURL points the client at a different host, e.g. the pro API
// or a test server.
func WithBaseURL(baseURL string) APIClientOption {
	return func(c *APIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient replaces the transport.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader adds headers sent with every request.
func WithHeader(header http.Header) APIClientOption {
	return func(c *APIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewAPIClient builds a CoinGecko client. The key is optional: without
// one the client runs against the anonymous free tier, which shares a
// much smaller rate budget.
func NewAPIClient(key string, options ...APIClientOption) (*APIClient, error) {
	apiClient := &APIClient{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if key != "" {
		// Demo-tier keys are sent as a header.
		// https://docs.coingecko.com/reference/authentication
		apiClient.header.Set("x-cg-demo-api-key", key)
	}
	for _, option := range options {
		option(apiClient)
	}
	return apiClient, nil
}
