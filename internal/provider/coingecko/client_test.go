package coingecko_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"priceresolver/internal/provider"
	coingecko "priceresolver/internal/provider/coingecko"
)

func TestNewAPIClient(t *testing.T) {
	t.Parallel()

	// Assert: a key is optional; both forms return a client.
	client, err := coingecko.NewAPIClient("test")
	require.NoError(t, err)
	require.NotNil(t, client)

	client, err = coingecko.NewAPIClient("")
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestAPIClient_SendsDemoKeyHeader(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method and capture the auth header
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "test-key", req.Header.Get("x-cg-demo-api-key"))

			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode([]coingecko.Market{}))

			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(buffer),
			}, nil
		}).
		Times(1)

	// Arrange: setup a client with the mock
	client, err := coingecko.NewAPIClient("test-key", coingecko.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: perform any request
	_, err = client.GetCoinsMarkets(context.Background(), []string{"bitcoin"})
	require.NoError(t, err)
}

func TestGetCoinsMarkets(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Contains(t, req.URL.Path, "/coins/markets")
			require.Equal(t, "usd", req.URL.Query().Get("vs_currency"))
			require.Equal(t, "bitcoin,ethereum", req.URL.Query().Get("ids"))
			require.Equal(t, "24h", req.URL.Query().Get("price_change_percentage"))
			require.Equal(t, "false", req.URL.Query().Get("sparkline"))

			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(mockMarkets))

			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(buffer),
			}, nil
		}).
		Times(1)

	// Arrange: setup a client with the mock
	client, err := coingecko.NewAPIClient("test-key", coingecko.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: fetch market rows for two coins
	markets, err := client.GetCoinsMarkets(context.Background(), []string{"bitcoin", "ethereum"})
	require.NoError(t, err)

	// Assert: rows are unmarshalled from the mock response
	require.Len(t, markets, len(mockMarkets))
	require.Equal(t, "bitcoin", markets[0].ID)
	require.Equal(t, "65000.12", markets[0].CurrentPrice.String())
	require.Nil(t, markets[1].CurrentPrice, "null price stays nil")
}

func TestGetCoinsMarkets_ErrUnexpectedStatusCode(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client answering 429
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusTooManyRequests,
				Body:       io.NopCloser(bytes.NewBufferString(`{"status":{"error_code":429}}`)),
			}, nil
		}).
		Times(1)

	// Arrange: setup a client with the mock
	client, err := coingecko.NewAPIClient("test-key", coingecko.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: fetch market rows
	markets, err := client.GetCoinsMarkets(context.Background(), []string{"bitcoin"})

	// Assert: the failure is classified as rate limited
	require.Error(t, err)
	require.Nil(t, markets)
	require.Equal(t, provider.KindRateLimited, provider.KindOf(err))
}

func TestGetCoinsMarkets_ErrMalformedBody(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client answering garbage
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewBufferString(`<html>maintenance</html>`)),
			}, nil
		}).
		Times(1)

	// Arrange: setup a client with the mock
	client, err := coingecko.NewAPIClient("test-key", coingecko.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: fetch market rows
	markets, err := client.GetCoinsMarkets(context.Background(), []string{"bitcoin"})

	// Assert: the failure is classified as unparseable
	require.Error(t, err)
	require.Nil(t, markets)
	require.Equal(t, provider.KindUnparseable, provider.KindOf(err))
}

func TestSearchCoins(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: a search response with more rows than the cap
	coins := make([]coingecko.SearchCoin, 0, 30)
	for i := 0; i < 30; i++ {
		coins = append(coins, coingecko.SearchCoin{ID: "coin", Symbol: "c", Name: "Coin"})
	}

	// Arrange: create a mock HTTP client
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Contains(t, req.URL.Path, "/search")
			require.Equal(t, "bit", req.URL.Query().Get("query"))

			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(map[string]any{"coins": coins}))

			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(buffer),
			}, nil
		}).
		Times(1)

	// Arrange: setup a client with the mock
	client, err := coingecko.NewAPIClient("test-key", coingecko.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: search
	results, err := client.SearchCoins(context.Background(), "bit")
	require.NoError(t, err)

	// Assert: the result list is capped
	require.Len(t, results, 20)
}

func number(s string) *json.Number {
	n := json.Number(s)
	return &n
}

var mockMarkets = []coingecko.Market{
	{
		ID:                "bitcoin",
		Symbol:            "btc",
		Name:              "Bitcoin",
		Image:             "https://example.com/btc.png",
		CurrentPrice:      number("65000.12"),
		PriceChange24h:    number("-120.5"),
		PriceChangePct24h: number("-0.18"),
		LastUpdated:       "2025-06-01T12:00:00Z",
	},
	{
		ID:     "ethereum",
		Symbol: "eth",
		Name:   "Ethereum",
		// CurrentPrice deliberately nil: upstream sends null for
		// delisted coins.
	},
}
