// Package app assembles the resolution service from config. Both the
// server and the one-shot CLI go through the same wiring so they agree
// on chain order and limiter profiles.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"priceresolver/internal/config"
	"priceresolver/internal/httpx"
	"priceresolver/internal/provider"
	"priceresolver/internal/provider/coincap"
	"priceresolver/internal/provider/coingecko"
	"priceresolver/internal/provider/coingeckoadapter"
	"priceresolver/internal/provider/coinpaprika"
	"priceresolver/internal/provider/ratelimit"
	"priceresolver/internal/resolve"
)

// BuildService wires the fixed fallback chain. Order matters: the
// primary always comes first so a recovered provider self-heals.
func BuildService(cfg config.Config, log *logrus.Logger) (*resolve.Service, error) {
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	limits := ratelimit.NewRegistry()
	var chain []provider.Client

	if cfg.CoinGecko.Enabled {
		if cfg.CoinGecko.APIKey == "" {
			log.Warn("coingecko enabled without COINGECKO_API_KEY; using anonymous tier")
		}
		gecko, err := coingecko.NewAPIClient(
			cfg.CoinGecko.APIKey,
			coingecko.WithBaseURL(cfg.CoinGecko.Endpoint),
			coingecko.WithHTTPClient(httpClient.HTTP),
			coingecko.WithHeader(http.Header{"User-Agent": []string{httpClient.UserAgent}}),
		)
		if err != nil {
			return nil, fmt.Errorf("coingecko client: %w", err)
		}
		chain = append(chain, coingeckoadapter.New(gecko))
		limits.Add(coingecko.ProviderName, ratelimit.Config{
			Limit:            cfg.CoinGecko.MaxRequestsPerMinute,
			Window:           time.Minute,
			FailureThreshold: cfg.CoinGecko.FailureThreshold,
			Cooldown:         time.Duration(cfg.CoinGecko.CooldownSec) * time.Second,
		})
	}
	if cfg.CoinCap.Enabled {
		chain = append(chain, coincap.New(coincap.Config{
			URL:    cfg.CoinCap.Endpoint,
			APIKey: cfg.CoinCap.APIKey,
		}, httpClient))
		limits.Add(coincap.ProviderName, ratelimit.Config{
			Limit:            cfg.CoinCap.MaxRequestsPerMinute,
			Window:           time.Minute,
			FailureThreshold: cfg.CoinCap.FailureThreshold,
			Cooldown:         time.Duration(cfg.CoinCap.CooldownSec) * time.Second,
		})
	}
	if cfg.CoinPaprika.Enabled {
		chain = append(chain, coinpaprika.New(coinpaprika.Config{
			URL:               cfg.CoinPaprika.Endpoint,
			IndexTTLSeconds:   cfg.CoinPaprika.IndexTTLSec,
			MaxConcurrency:    cfg.CoinPaprika.MaxConcurrency,
			RequestsPerSecond: cfg.CoinPaprika.RequestsPerSecond,
		}, httpClient))
		limits.Add(coinpaprika.ProviderName, ratelimit.Config{
			Limit:            cfg.CoinPaprika.MaxRequestsPerMinute,
			Window:           time.Minute,
			FailureThreshold: cfg.CoinPaprika.FailureThreshold,
			Cooldown:         time.Duration(cfg.CoinPaprika.CooldownSec) * time.Second,
		})
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}

	return resolve.New(resolve.Config{
		CallTimeout: time.Duration(cfg.Resolver.CallTimeoutSec) * time.Second,
		CacheTTL:    time.Duration(cfg.Resolver.CacheTTLSec) * time.Second,
		Workers:     cfg.Resolver.Workers,
	}, chain, limits, log), nil
}
