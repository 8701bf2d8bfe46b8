// Package coingeckoadapter exposes the CoinGecko API client as the
// chain's primary provider.Client.
package coingeckoadapter

import (
	"context"
	"time"

	"priceresolver/internal/provider"
	"priceresolver/internal/provider/coingecko"
)

type Adapter struct {
	client *coingecko.APIClient
}

func New(client *coingecko.APIClient) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Name() string { return coingecko.ProviderName }

func (a *Adapter) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
	coins, err := a.client.SearchCoins(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]provider.SearchResult, 0, len(coins))
	for _, c := range coins {
		out = append(out, provider.SearchResult{
			ID:           c.ID,
			Symbol:       provider.NormalizeSymbol(c.Symbol),
			Name:         c.Name,
			ThumbnailURL: c.Thumb,
			Provider:     coingecko.ProviderName,
		})
	}
	return out, nil
}

func (a *Adapter) Prices(ctx context.Context, ids []provider.CoinIdentity) (map[provider.CoinIdentity]provider.PriceRecord, error) {
	coinIDs := make([]string, 0, len(ids))
	byID := make(map[string]provider.CoinIdentity, len(ids))
	for _, id := range ids {
		coinIDs = append(coinIDs, id.ID)
		byID[id.ID] = id
	}

	markets, err := a.client.GetCoinsMarkets(ctx, coinIDs)
	if err != nil {
		return nil, err
	}

	// Per-id outcomes stay independent: a row that fails normalization
	// is dropped from the map, the rest of the batch is still good.
	out := make(map[provider.CoinIdentity]provider.PriceRecord, len(markets))
	for _, m := range markets {
		id, ok := byID[m.ID]
		if !ok {
			continue
		}
		rec, ok := normalize(m)
		if !ok {
			continue
		}
		out[id] = rec
	}
	return out, nil
}

func (a *Adapter) Metadata(ctx context.Context, id provider.CoinIdentity) (*provider.Metadata, error) {
	markets, err := a.client.GetCoinsMarkets(ctx, []string{id.ID})
	if err != nil {
		return nil, err
	}
	for _, m := range markets {
		if m.ID == id.ID {
			return &provider.Metadata{
				Symbol:   provider.NormalizeSymbol(m.Symbol),
				Name:     m.Name,
				ImageURL: m.Image,
			}, nil
		}
	}
	return nil, provider.NewFailure(coingecko.ProviderName, provider.KindNotFound, nil)
}

// normalize coerces one market row into a canonical record. Rows with a
// missing or malformed price are rejected; missing change fields become
// nil rather than failing the record.
func normalize(m coingecko.Market) (provider.PriceRecord, bool) {
	if m.CurrentPrice == nil {
		return provider.PriceRecord{}, false
	}
	price, err := provider.ParsePrice(m.CurrentPrice.String())
	if err != nil {
		return provider.PriceRecord{}, false
	}

	rec := provider.PriceRecord{
		Symbol:     provider.NormalizeSymbol(m.Symbol),
		Name:       m.Name,
		PriceUSD:   price,
		ImageURL:   m.Image,
		Provider:   coingecko.ProviderName,
		ResolvedAt: time.Now().UTC(),
	}
	if m.PriceChange24h != nil {
		rec.Change24h = provider.ParseOptional(m.PriceChange24h.String())
	}
	if m.PriceChangePct24h != nil {
		rec.Change24hPct = provider.ParseOptional(m.PriceChangePct24h.String())
	}
	if ts, err := time.Parse(time.RFC3339, m.LastUpdated); err == nil {
		rec.ResolvedAt = ts.UTC()
	}
	return rec, true
}
