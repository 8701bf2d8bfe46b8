package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
	LogLevel          string `json:"log_level"`
}

type Resolver struct {
	CacheTTLSec    int `json:"cache_ttl_sec"`
	CallTimeoutSec int `json:"call_timeout_sec"`
	Workers        int `json:"workers"`
}

type CoinGecko struct {
	Enabled              bool   `json:"enabled"`
	APIKey               string `json:"api_key"`
	Endpoint             string `json:"endpoint"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	FailureThreshold     int    `json:"failure_threshold"`
	CooldownSec          int    `json:"cooldown_sec"`
}

type CoinCap struct {
	Enabled              bool   `json:"enabled"`
	APIKey               string `json:"api_key"`
	Endpoint             string `json:"endpoint"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	FailureThreshold     int    `json:"failure_threshold"`
	CooldownSec          int    `json:"cooldown_sec"`
}

type CoinPaprika struct {
	Enabled              bool    `json:"enabled"`
	Endpoint             string  `json:"endpoint"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
	FailureThreshold     int     `json:"failure_threshold"`
	CooldownSec          int     `json:"cooldown_sec"`
	IndexTTLSec          int     `json:"index_ttl_sec"`
	MaxConcurrency       int     `json:"max_concurrency"`
	RequestsPerSecond    float64 `json:"requests_per_second"`
}

type Config struct {
	Server      Server      `json:"server"`
	Resolver    Resolver    `json:"resolver"`
	CoinGecko   CoinGecko   `json:"coingecko"`
	CoinCap     CoinCap     `json:"coincap"`
	CoinPaprika CoinPaprika `json:"coinpaprika"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10, LogLevel: "info"},
		Resolver: Resolver{
			CacheTTLSec:    180,
			CallTimeoutSec: 8,
			Workers:        8,
		},
		CoinGecko: CoinGecko{
			Enabled:              true,
			Endpoint:             "https://api.coingecko.com/api/v3",
			MaxRequestsPerMinute: 30,
			FailureThreshold:     3,
			CooldownSec:          60,
		},
		CoinCap: CoinCap{
			Enabled:              true,
			Endpoint:             "https://api.coincap.io/v2",
			MaxRequestsPerMinute: 200,
			FailureThreshold:     3,
			CooldownSec:          60,
		},
		CoinPaprika: CoinPaprika{
			Enabled:              true,
			Endpoint:             "https://api.coinpaprika.com/v1",
			MaxRequestsPerMinute: 60,
			FailureThreshold:     3,
			CooldownSec:          60,
			IndexTTLSec:          3600,
			MaxConcurrency:       4,
			RequestsPerSecond:    4,
		},
	}
}

// Load reads JSON config from path. If path is empty or the file does
// not exist, it returns defaults. Environment variables override select
// fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x, ok := parseInt(v); ok && x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}

	if v := os.Getenv("CACHE_TTL_SEC"); v != "" {
		if x, ok := parseInt(v); ok && x >= 0 {
			cfg.Resolver.CacheTTLSec = x
		}
	}
	if v := os.Getenv("CALL_TIMEOUT_SEC"); v != "" {
		if x, ok := parseInt(v); ok && x > 0 {
			cfg.Resolver.CallTimeoutSec = x
		}
	}
	if v := os.Getenv("REFRESH_WORKERS"); v != "" {
		if x, ok := parseInt(v); ok && x > 0 {
			cfg.Resolver.Workers = x
		}
	}

	if v := os.Getenv("COINGECKO_ENABLED"); v != "" {
		cfg.CoinGecko.Enabled = parseBool(v, cfg.CoinGecko.Enabled)
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.CoinGecko.APIKey = v
	}
	if v := os.Getenv("COINGECKO_ENDPOINT"); v != "" {
		cfg.CoinGecko.Endpoint = v
	}
	if v := os.Getenv("COINGECKO_MAX_RPM"); v != "" {
		if x, ok := parseInt(v); ok && x > 0 {
			cfg.CoinGecko.MaxRequestsPerMinute = x
		}
	}

	if v := os.Getenv("COINCAP_ENABLED"); v != "" {
		cfg.CoinCap.Enabled = parseBool(v, cfg.CoinCap.Enabled)
	}
	if v := os.Getenv("COINCAP_API_KEY"); v != "" {
		cfg.CoinCap.APIKey = v
	}
	if v := os.Getenv("COINCAP_ENDPOINT"); v != "" {
		cfg.CoinCap.Endpoint = v
	}
	if v := os.Getenv("COINCAP_MAX_RPM"); v != "" {
		if x, ok := parseInt(v); ok && x > 0 {
			cfg.CoinCap.MaxRequestsPerMinute = x
		}
	}

	if v := os.Getenv("COINPAPRIKA_ENABLED"); v != "" {
		cfg.CoinPaprika.Enabled = parseBool(v, cfg.CoinPaprika.Enabled)
	}
	if v := os.Getenv("COINPAPRIKA_ENDPOINT"); v != "" {
		cfg.CoinPaprika.Endpoint = v
	}
	if v := os.Getenv("COINPAPRIKA_MAX_RPM"); v != "" {
		if x, ok := parseInt(v); ok && x > 0 {
			cfg.CoinPaprika.MaxRequestsPerMinute = x
		}
	}
}

func parseInt(s string) (int, bool) {
	x, err := strconv.Atoi(strings.TrimSpace(s))
	return x, err == nil
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
}
