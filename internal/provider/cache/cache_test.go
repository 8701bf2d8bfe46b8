package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"priceresolver/internal/provider"
)

var btc = provider.CoinIdentity{ID: "bitcoin", Symbol: "btc"}

func record(price string) provider.PriceRecord {
	return provider.PriceRecord{
		Symbol:     "btc",
		Name:       "Bitcoin",
		PriceUSD:   decimal.RequireFromString(price),
		Provider:   "coingecko",
		ResolvedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestGet_HitWithinTTL(t *testing.T) {
	t.Parallel()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(3 * time.Minute)
	c.now = func() time.Time { return clock }

	c.Put(btc, record("65000"))

	clock = clock.Add(time.Minute)
	got, ok := c.Get(btc)
	require.True(t, ok)
	require.True(t, got.PriceUSD.Equal(decimal.RequireFromString("65000")))
}

func TestGet_MissAfterExpiry(t *testing.T) {
	t.Parallel()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(3 * time.Minute)
	c.now = func() time.Time { return clock }

	c.Put(btc, record("65000"))

	clock = clock.Add(3*time.Minute + time.Second)
	_, ok := c.Get(btc)
	require.False(t, ok)
}

func TestPut_OverwritesAndSweepsExpired(t *testing.T) {
	t.Parallel()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(time.Minute)
	c.now = func() time.Time { return clock }

	eth := provider.CoinIdentity{ID: "ethereum", Symbol: "eth"}
	c.Put(btc, record("65000"))
	c.Put(eth, record("3400"))

	clock = clock.Add(2 * time.Minute)
	c.Put(btc, record("66000"))

	got, ok := c.Get(btc)
	require.True(t, ok)
	require.True(t, got.PriceUSD.Equal(decimal.RequireFromString("66000")))
	require.Equal(t, 1, c.Len(), "expired entries should be swept on put")
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	c.Put(btc, record("65000"))
	c.Invalidate(btc)
	_, ok := c.Get(btc)
	require.False(t, ok)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			c.Put(btc, record("65000"))
		}
	}()
	for i := 0; i < 500; i++ {
		if got, ok := c.Get(btc); ok {
			require.Equal(t, "btc", got.Symbol)
		}
	}
	<-done
}
