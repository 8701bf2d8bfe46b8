// Package coinpaprika is the second fallback provider. Paprika uses its
// own id namespace (btc-bitcoin), so the client keeps a lazily refreshed
// symbol-to-id index built from the full coins listing and resolves each
// requested identity through it. Ticker calls are per-id; they run under
// a concurrency cap and a pacing limiter so one batch cannot trip the
// provider's own throttle.
package coinpaprika

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"priceresolver/internal/httpx"
	"priceresolver/internal/provider"
)

// ProviderName is the chain-wide identifier for this provider.
const ProviderName = "coinpaprika"

type Config struct {
	Name string
	URL  string // base URL, e.g. https://api.coinpaprika.com/v1
	// IndexTTLSeconds caches the symbol->paprika-id index for this long.
	IndexTTLSeconds int
	// MaxConcurrency caps parallel per-id ticker calls within one batch.
	MaxConcurrency int
	// RequestsPerSecond paces per-id ticker calls.
	RequestsPerSecond float64
}

type Provider struct {
	cfg    Config
	client *httpx.Client
	pace   *rate.Limiter

	// symbol -> paprika id index with expiry
	mu           sync.RWMutex
	idBySymbol   map[string]string
	indexExpires time.Time

	// coalesce concurrent index refreshes
	sf singleflight.Group
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = ProviderName
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.coinpaprika.com/v1"
	}
	if cfg.IndexTTLSeconds <= 0 {
		cfg.IndexTTLSeconds = 3600
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	return &Provider{
		cfg:    cfg,
		client: hc,
		pace:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

type coinListing struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type ticker struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Quotes map[string]struct {
		Price           *json.Number `json:"price"`
		PercentChange24 *json.Number `json:"percent_change_24h"`
	} `json:"quotes"`
	LastUpdated string `json:"last_updated"`
}

type searchResponse struct {
	Currencies []coinListing `json:"currencies"`
}

func (p *Provider) Prices(ctx context.Context, ids []provider.CoinIdentity) (map[provider.CoinIdentity]provider.PriceRecord, error) {
	index, err := p.index(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[provider.CoinIdentity]provider.PriceRecord, len(ids))
	var mu sync.Mutex
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, id := range ids {
		paprikaID, ok := index[provider.NormalizeSymbol(id.Symbol)]
		if !ok {
			// Unknown to paprika; the rest of the batch still proceeds.
			continue
		}
		id := id
		g.Go(func() error {
			if err := p.pace.Wait(gctx); err != nil {
				// The context died while this id waited its turn. Record
				// it: an empty map with a nil error would read as "none of
				// these coins exist" to the chain above.
				mu.Lock()
				if firstErr == nil {
					firstErr = provider.WrapTransport(p.cfg.Name, err)
				}
				mu.Unlock()
				return nil
			}
			rec, err := p.fetchTicker(gctx, paprikaID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil && provider.KindOf(err) != provider.KindNotFound {
					firstErr = err
				}
				return nil
			}
			out[id] = *rec
			return nil
		})
	}
	_ = g.Wait()

	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (p *Provider) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("c", "currencies")
	q.Set("limit", "20")

	var body searchResponse
	if err := p.getJSON(ctx, "/search", q, &body); err != nil {
		return nil, err
	}
	out := make([]provider.SearchResult, 0, len(body.Currencies))
	for _, c := range body.Currencies {
		out = append(out, provider.SearchResult{
			ID:       c.ID,
			Symbol:   provider.NormalizeSymbol(c.Symbol),
			Name:     c.Name,
			Provider: p.cfg.Name,
		})
	}
	return out, nil
}

func (p *Provider) Metadata(ctx context.Context, id provider.CoinIdentity) (*provider.Metadata, error) {
	index, err := p.index(ctx)
	if err != nil {
		return nil, err
	}
	paprikaID, ok := index[provider.NormalizeSymbol(id.Symbol)]
	if !ok {
		return nil, provider.NewFailure(p.cfg.Name, provider.KindNotFound, fmt.Errorf("symbol %q not indexed", id.Symbol))
	}
	rec, err := p.fetchTicker(ctx, paprikaID)
	if err != nil {
		return nil, err
	}
	return &provider.Metadata{Symbol: rec.Symbol, Name: rec.Name}, nil
}

// index returns the symbol->id map, refreshing it at most once at a
// time across concurrent callers.
func (p *Provider) index(ctx context.Context) (map[string]string, error) {
	p.mu.RLock()
	idx := p.idBySymbol
	valid := idx != nil && time.Now().Before(p.indexExpires)
	p.mu.RUnlock()
	if valid {
		return idx, nil
	}

	v, err, _ := p.sf.Do("index", func() (any, error) {
		var listings []coinListing
		if err := p.getJSON(ctx, "/coins", url.Values{}, &listings); err != nil {
			return nil, err
		}
		// The listing is rank-ordered, so the first active coin per
		// symbol is the major one.
		m := make(map[string]string, len(listings))
		for _, c := range listings {
			if !c.IsActive {
				continue
			}
			sym := provider.NormalizeSymbol(c.Symbol)
			if _, dup := m[sym]; !dup {
				m[sym] = c.ID
			}
		}
		p.mu.Lock()
		p.idBySymbol = m
		p.indexExpires = time.Now().Add(time.Duration(p.cfg.IndexTTLSeconds) * time.Second)
		p.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func (p *Provider) fetchTicker(ctx context.Context, paprikaID string) (*provider.PriceRecord, error) {
	q := url.Values{}
	q.Set("quotes", "USD")

	var t ticker
	if err := p.getJSON(ctx, "/tickers/"+url.PathEscape(paprikaID), q, &t); err != nil {
		return nil, err
	}
	usd, ok := t.Quotes["USD"]
	if !ok || usd.Price == nil {
		return nil, provider.NewFailure(p.cfg.Name, provider.KindUnparseable, fmt.Errorf("ticker %s: no usd quote", paprikaID))
	}
	price, err := provider.ParsePrice(usd.Price.String())
	if err != nil {
		return nil, provider.NewFailure(p.cfg.Name, provider.KindUnparseable, err)
	}

	rec := provider.PriceRecord{
		Symbol:     provider.NormalizeSymbol(t.Symbol),
		Name:       t.Name,
		PriceUSD:   price,
		Provider:   p.cfg.Name,
		ResolvedAt: time.Now().UTC(),
	}
	if usd.PercentChange24 != nil {
		rec.Change24hPct = provider.ParseOptional(usd.PercentChange24.String())
	}
	if ts, err := time.Parse(time.RFC3339, t.LastUpdated); err == nil {
		rec.ResolvedAt = ts.UTC()
	}
	return &rec, nil
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
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return provider.WrapTransport(p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.StatusFailure(p.cfg.Name, resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return provider.NewFailure(p.cfg.Name, provider.KindUnparseable, fmt.Errorf("decode: %w", err))
	}
	return nil
}
