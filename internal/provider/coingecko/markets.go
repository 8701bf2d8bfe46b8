package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"priceresolver/internal/provider"
)

// ProviderName is the chain-wide identifier for this provider.
const ProviderName = "coingecko"

// Market is one row of the coins/markets endpoint. Numeric fields stay
// json.Number so the adapter can coerce them defensively; pointers keep
// provider-side nulls distinguishable from zero.
type Market struct {
	ID                string       `json:"id"`
	Symbol            string       `json:"symbol"`
	Name              string       `json:"name"`
	Image             string       `json:"image"`
	CurrentPrice      *json.Number `json:"current_price"`
	PriceChange24h    *json.Number `json:"price_change_24h"`
	PriceChangePct24h *json.Number `json:"price_change_percentage_24h"`
	LastUpdated       string       `json:"last_updated"`
}

// GetCoinsMarkets retrieves market data for the given coin ids in one
// batched call.
func (c *APIClient) GetCoinsMarkets(ctx context.Context, ids []string) ([]Market, error) {
	query := maps.Clone(c.query)
	query.Set("vs_currency", "usd")
	query.Set("ids", strings.Join(ids, ","))
	query.Set("order", "market_cap_desc")
	query.Set("per_page", "250")
	query.Set("page", "1")
	query.Set("sparkline", "false")
	query.Set("price_change_percentage", "24h")

	var out []Market
	if err := c.getJSON(ctx, "/coins/markets", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return provider.NewFailure(ProviderName, provider.KindFatal, fmt.Errorf("creating request: %w", err))
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.WrapTransport(ProviderName, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return provider.StatusFailure(ProviderName, res.StatusCode)
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return provider.NewFailure(ProviderName, provider.KindUnparseable, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
