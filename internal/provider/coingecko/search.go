package coingecko

import (
	"context"
	"maps"
)

const maxSearchResults = 20

// SearchCoin is one coin row of the /search endpoint.
type SearchCoin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Thumb  string `json:"thumb"`
}

type searchResponse struct {
	Coins []SearchCoin `json:"coins"`
}

// SearchCoins searches coins by name or symbol, capped at the top
// matches the interactive UI can show.
func (c *APIClient) SearchCoins(ctx context.Context, query string) ([]SearchCoin, error) {
	q := maps.Clone(c.query)
	q.Set("query", query)

	var body searchResponse
	if err := c.getJSON(ctx, "/search", q, &body); err != nil {
		return nil, err
	}
	if len(body.Coins) > maxSearchResults {
		body.Coins = body.Coins[:maxSearchResults]
	}
	return body.Coins, nil
}
