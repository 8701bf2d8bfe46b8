package coinpaprika_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"priceresolver/internal/httpx"
	"priceresolver/internal/provider"
	"priceresolver/internal/provider/coinpaprika"
)

var (
	btc = provider.CoinIdentity{ID: "bitcoin", Symbol: "btc"}
	eth = provider.CoinIdentity{ID: "ethereum", Symbol: "eth"}
)

// paprikaStub serves the coins listing plus per-id tickers and counts
// calls per path.
type paprikaStub struct {
	mu      sync.Mutex
	hits    map[string]int
	tickers map[string]string // paprika id -> body; missing means 500
}

func (s *paprikaStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		switch {
		case r.URL.Path == "/coins":
			_, _ = w.Write([]byte(`[
				{"id":"btc-bitcoin","symbol":"BTC","name":"Bitcoin","is_active":true},
				{"id":"btc-bitcoin-clone","symbol":"BTC","name":"Bitcoin Clone","is_active":true},
				{"id":"eth-ethereum","symbol":"ETH","name":"Ethereum","is_active":true},
				{"id":"dead-coin","symbol":"DEAD","name":"Dead Coin","is_active":false}
			]`))
		case r.URL.Path == "/search":
			_, _ = w.Write([]byte(`{"currencies":[{"id":"btc-bitcoin","symbol":"BTC","name":"Bitcoin","is_active":true}]}`))
		default:
			require.Equal(t, "USD", r.URL.Query().Get("quotes"))
			id := r.URL.Path[len("/tickers/"):]
			body, ok := s.tickers[id]
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(body))
		}
	}
}

func (s *paprikaStub) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newStub() *paprikaStub {
	return &paprikaStub{
		hits: make(map[string]int),
		tickers: map[string]string{
			"btc-bitcoin": `{
				"id":"btc-bitcoin","symbol":"BTC","name":"Bitcoin",
				"quotes":{"USD":{"price":65000.12,"percent_change_24h":-0.18}},
				"last_updated":"2025-06-01T12:00:00Z"
			}`,
			"eth-ethereum": `{
				"id":"eth-ethereum","symbol":"ETH","name":"Ethereum",
				"quotes":{"USD":{"price":3500.5,"percent_change_24h":1.2}},
				"last_updated":"2025-06-01T12:00:00Z"
			}`,
		},
	}
}

func newProvider(t *testing.T, stub *paprikaStub) *coinpaprika.Provider {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	return coinpaprika.New(coinpaprika.Config{
		URL:               srv.URL,
		IndexTTLSeconds:   3600,
		MaxConcurrency:    4,
		RequestsPerSecond: 1000, // no pacing in tests
	}, httpx.New(5*time.Second))
}

func TestPrices_ResolvesThroughSymbolIndex(t *testing.T) {
	t.Parallel()

	stub := newStub()
	p := newProvider(t, stub)

	records, err := p.Prices(context.Background(), []provider.CoinIdentity{btc, eth})
	require.NoError(t, err)
	require.Len(t, records, 2)

	rec := records[btc]
	require.Equal(t, "btc", rec.Symbol)
	require.Equal(t, "65000.12", rec.PriceUSD.String())
	require.Equal(t, "-0.18", rec.Change24hPct.String())
	require.Equal(t, "coinpaprika", rec.Provider)
	require.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), rec.ResolvedAt)

	// The first active listing per symbol wins: the clone id is never
	// fetched.
	require.Equal(t, 1, stub.count("/tickers/btc-bitcoin"))
	require.Equal(t, 0, stub.count("/tickers/btc-bitcoin-clone"))
}

func TestPrices_ReusesIndexAcrossCalls(t *testing.T) {
	t.Parallel()

	stub := newStub()
	p := newProvider(t, stub)

	_, err := p.Prices(context.Background(), []provider.CoinIdentity{btc})
	require.NoError(t, err)
	_, err = p.Prices(context.Background(), []provider.CoinIdentity{eth})
	require.NoError(t, err)

	require.Equal(t, 1, stub.count("/coins"), "index is fetched once within its TTL")
}

func TestPrices_PartialSuccessPerId(t *testing.T) {
	t.Parallel()

	stub := newStub()
	delete(stub.tickers, "eth-ethereum") // that ticker now answers 500
	p := newProvider(t, stub)

	records, err := p.Prices(context.Background(), []provider.CoinIdentity{btc, eth})
	require.NoError(t, err, "a failed ticker does not fail the batch while others succeed")
	require.Len(t, records, 1)
	require.Contains(t, records, btc)
}

func TestPrices_AllTickersFailing(t *testing.T) {
	t.Parallel()

	stub := newStub()
	stub.tickers = map[string]string{}
	p := newProvider(t, stub)

	records, err := p.Prices(context.Background(), []provider.CoinIdentity{btc})
	require.Error(t, err)
	require.Empty(t, records)
	require.Equal(t, provider.KindTransient, provider.KindOf(err))
}

func TestPrices_UnindexedSymbolIsSkipped(t *testing.T) {
	t.Parallel()

	stub := newStub()
	p := newProvider(t, stub)

	unknown := provider.CoinIdentity{ID: "nope", Symbol: "nope"}
	records, err := p.Prices(context.Background(), []provider.CoinIdentity{btc, unknown})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotContains(t, records, unknown)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	stub := newStub()
	p := newProvider(t, stub)

	results, err := p.Search(context.Background(), "bit")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, provider.SearchResult{ID: "btc-bitcoin", Symbol: "btc", Name: "Bitcoin", Provider: "coinpaprika"}, results[0])
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	stub := newStub()
	p := newProvider(t, stub)

	meta, err := p.Metadata(context.Background(), btc)
	require.NoError(t, err)
	require.Equal(t, &provider.Metadata{Symbol: "btc", Name: "Bitcoin"}, meta)
}

func TestMetadata_UnknownSymbol(t *testing.T) {
	t.Parallel()

	stub := newStub()
	p := newProvider(t, stub)

	meta, err := p.Metadata(context.Background(), provider.CoinIdentity{ID: "nope", Symbol: "nope"})
	require.Error(t, err)
	require.Nil(t, meta)
	require.Equal(t, provider.KindNotFound, provider.KindOf(err))
}

func TestPrices_CancelledContextSurfacesTransientError(t *testing.T) {
	t.Parallel()

	stub := newStub()
	p := newProvider(t, stub)

	// Warm the symbol index so the next call goes straight to pacing.
	_, err := p.Prices(context.Background(), []provider.CoinIdentity{btc})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A dead context must never look like "these coins don't exist":
	// the batch reports a transient failure, not an empty success.
	records, err := p.Prices(ctx, []provider.CoinIdentity{btc, eth})
	require.Error(t, err)
	require.Empty(t, records)
	require.Equal(t, provider.KindTransient, provider.KindOf(err))
}

func TestPrices_MissingUSDQuoteIsUnparseable(t *testing.T) {
	t.Parallel()

	stub := newStub()
	stub.tickers["btc-bitcoin"] = `{"id":"btc-bitcoin","symbol":"BTC","name":"Bitcoin","quotes":{}}`
	p := newProvider(t, stub)

	records, err := p.Prices(context.Background(), []provider.CoinIdentity{btc})
	require.Error(t, err)
	require.Empty(t, records)
	require.Equal(t, provider.KindUnparseable, provider.KindOf(err))
}
