// Package coincap is the first fallback provider. CoinCap batches any
// number of ids into one assets call and encodes every number as a
// string; it supplies no image and no absolute 24h change.
package coincap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"priceresolver/internal/httpx"
	"priceresolver/internal/provider"
)

// ProviderName is the chain-wide identifier for this provider.
const ProviderName = "coincap"

type Config struct {
	Name   string
	URL    string // base URL, e.g. https://api.coincap.io/v2
	APIKey string // optional; sent as Bearer token
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = ProviderName
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.coincap.io/v2"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

type asset struct {
	ID                string `json:"id"`
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	PriceUSD          string `json:"priceUsd"`
	ChangePercent24Hr string `json:"changePercent24Hr"`
}

type assetsResponse struct {
	Data      []asset `json:"data"`
	Timestamp int64   `json:"timestamp"`
}

type assetResponse struct {
	Data      asset `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

func (p *Provider) Prices(ctx context.Context, ids []provider.CoinIdentity) (map[provider.CoinIdentity]provider.PriceRecord, error) {
	byID := make(map[string]provider.CoinIdentity, len(ids))
	coinIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		coinIDs = append(coinIDs, id.ID)
		byID[id.ID] = id
	}

	q := url.Values{}
	q.Set("ids", strings.Join(coinIDs, ","))
	q.Set("limit", strconv.Itoa(len(ids)))

	var body assetsResponse
	if err := p.getJSON(ctx, "/assets", q, &body); err != nil {
		return nil, err
	}

	asOf := epochMillis(body.Timestamp, time.Now().UTC())
	out := make(map[provider.CoinIdentity]provider.PriceRecord, len(body.Data))
	for _, a := range body.Data {
		id, ok := byID[a.ID]
		if !ok {
			continue
		}
		rec, ok := p.normalize(a, asOf)
		if !ok {
			continue
		}
		out[id] = rec
	}
	return out, nil
}

func (p *Provider) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
	q := url.Values{}
	q.Set("search", query)
	q.Set("limit", "20")

	var body assetsResponse
	if err := p.getJSON(ctx, "/assets", q, &body); err != nil {
		return nil, err
	}
	out := make([]provider.SearchResult, 0, len(body.Data))
	for _, a := range body.Data {
		out = append(out, provider.SearchResult{
			ID:       a.ID,
			Symbol:   provider.NormalizeSymbol(a.Symbol),
			Name:     a.Name,
			Provider: p.cfg.Name,
		})
	}
	return out, nil
}

func (p *Provider) Metadata(ctx context.Context, id provider.CoinIdentity) (*provider.Metadata, error) {
	var body assetResponse
	if err := p.getJSON(ctx, "/assets/"+url.PathEscape(id.ID), url.Values{}, &body); err != nil {
		return nil, err
	}
	return &provider.Metadata{
		Symbol: provider.NormalizeSymbol(body.Data.Symbol),
		Name:   body.Data.Name,
	}, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	u := p.cfg.URL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return provider.NewFailure(p.cfg.Name, provider.KindFatal, err)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return provider.WrapTransport(p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.StatusFailure(p.cfg.Name, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return provider.NewFailure(p.cfg.Name, provider.KindUnparseable, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func (p *Provider) normalize(a asset, asOf time.Time) (provider.PriceRecord, bool) {
	price, err := provider.ParsePrice(a.PriceUSD)
	if err != nil {
		return provider.PriceRecord{}, false
	}
	return provider.PriceRecord{
		Symbol:       provider.NormalizeSymbol(a.Symbol),
		Name:         a.Name,
		PriceUSD:     price,
		Change24hPct: provider.ParseOptional(a.ChangePercent24Hr),
		Provider:     p.cfg.Name,
		ResolvedAt:   asOf,
	}, true
}

func epochMillis(v int64, fallback time.Time) time.Time {
	if v <= 0 {
		return fallback
	}
	return time.UnixMilli(v).UTC()
}
