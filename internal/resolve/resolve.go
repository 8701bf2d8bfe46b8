// Package resolve coordinates the provider fallback chain: it decides
// which provider to call for a request, applies per-provider rate
// limits and failure cooldowns, normalizes the first successful answer
// and caches it. First success wins; provider answers are never merged.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"priceresolver/internal/provider"
	"priceresolver/internal/provider/cache"
	"priceresolver/internal/provider/ratelimit"
)

// Config tunes the service-wide behavior; provider-specific limits live
// in the ratelimit registry.
type Config struct {
	// CallTimeout bounds a single provider attempt.
	CallTimeout time.Duration
	// CacheTTL is how long a resolved record satisfies lookups.
	CacheTTL time.Duration
	// Workers caps concurrent resolutions inside one bulk refresh.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		CallTimeout: 8 * time.Second,
		CacheTTL:    3 * time.Minute,
		Workers:     8,
	}
}

// Service is the resolution facade handed to the web and scheduler
// layers. The chain order is fixed at construction: primary first, then
// the fallbacks, re-tried in the same order on every resolution so a
// recovered primary self-heals.
type Service struct {
	cfg    Config
	chain  []provider.Client
	limits *ratelimit.Registry
	cache  *cache.Cache
	log    *logrus.Logger
	sf     singleflight.Group
}

func New(cfg Config, chain []provider.Client, limits *ratelimit.Registry, log *logrus.Logger) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		cfg:    cfg,
		chain:  chain,
		limits: limits,
		cache:  cache.New(cfg.CacheTTL),
		log:    log,
	}
}

// Outcome is a successful resolution.
type Outcome struct {
	Record    provider.PriceRecord `json:"record"`
	Provider  string               `json:"provider"`
	FromCache bool                 `json:"from_cache"`
}

// Attempt records why one provider did not produce a result.
type Attempt struct {
	Provider string        `json:"provider"`
	Kind     provider.Kind `json:"-"`
	Reason   string        `json:"reason"`
}

// ExhaustedError reports that every provider in the chain was consulted
// or skipped without producing a record. Retryable, never a crash.
type ExhaustedError struct {
	Identity provider.CoinIdentity
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	return fmt.Sprintf("resolve %s: all providers exhausted (%s)", e.Identity, strings.Join(reasons, "; "))
}

// RateLimited reports whether every attempt failed on throttling or
// cooldown, so the caller can answer with a 429-style notice.
func (e *ExhaustedError) RateLimited() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if a.Kind != provider.KindRateLimited {
			return false
		}
	}
	return true
}

// NotFound reports whether the coin was unknown to every provider that
// actually answered.
func (e *ExhaustedError) NotFound() bool {
	sawNotFound := false
	for _, a := range e.Attempts {
		switch a.Kind {
		case provider.KindNotFound:
			sawNotFound = true
		case provider.KindRateLimited:
			// a skipped provider says nothing about existence
		default:
			return false
		}
	}
	return sawNotFound
}

// RefreshOne resolves a single identity. Without force, a live cache
// entry short-circuits with zero provider calls; force bypasses the
// read but still populates the cache on success. Concurrent refreshes
// of the same identity are coalesced into one provider chain walk.
func (s *Service) RefreshOne(ctx context.Context, id provider.CoinIdentity, force bool) (Outcome, error) {
	if !force {
		if rec, ok := s.cache.Get(id); ok {
			return Outcome{Record: rec, Provider: rec.Provider, FromCache: true}, nil
		}
	}

	v, err, _ := s.sf.Do(id.String(), func() (any, error) {
		rec, err := s.resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Put(id, *rec)
		return *rec, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	rec := v.(provider.PriceRecord)
	return Outcome{Record: rec, Provider: rec.Provider}, nil
}

// resolve walks the fixed chain: skip providers in cooldown, skip
// providers over their rate limit (never wait), call the rest with a
// bounded timeout and return the first normalized record.
func (s *Service) resolve(ctx context.Context, id provider.CoinIdentity) (*provider.PriceRecord, error) {
	attempts := make([]Attempt, 0, len(s.chain))

	for _, c := range s.chain {
		lim := s.limits.Get(c.Name())
		if lim.InCooldown() {
			attempts = append(attempts, Attempt{Provider: c.Name(), Kind: provider.KindRateLimited, Reason: "cooldown active"})
			continue
		}
		if !lim.TryAcquire() {
			attempts = append(attempts, Attempt{Provider: c.Name(), Kind: provider.KindRateLimited, Reason: "rate limit reached"})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		records, err := c.Prices(callCtx, []provider.CoinIdentity{id})
		cancel()

		if err != nil {
			lim.MarkFailure()
			kind := provider.KindOf(err)
			attempts = append(attempts, Attempt{Provider: c.Name(), Kind: kind, Reason: err.Error()})
			s.log.WithFields(logrus.Fields{
				"provider": c.Name(),
				"coin":     id.ID,
				"kind":     kind.String(),
			}).WithError(err).Warn("provider attempt failed")
			continue
		}

		lim.MarkSuccess()
		if rec, ok := records[id]; ok {
			s.log.WithFields(logrus.Fields{
				"provider": c.Name(),
				"coin":     id.ID,
			}).Debug("resolved")
			return &rec, nil
		}
		// The call itself succeeded; this provider just does not know
		// the coin. Keep walking the chain.
		attempts = append(attempts, Attempt{Provider: c.Name(), Kind: provider.KindNotFound, Reason: "coin not known"})
	}

	return nil, &ExhaustedError{Identity: id, Attempts: attempts}
}

// Metadata resolves display metadata through the same chain policy.
func (s *Service) Metadata(ctx context.Context, id provider.CoinIdentity) (*provider.Metadata, error) {
	attempts := make([]Attempt, 0, len(s.chain))
	for _, c := range s.chain {
		lim := s.limits.Get(c.Name())
		if lim.InCooldown() {
			attempts = append(attempts, Attempt{Provider: c.Name(), Kind: provider.KindRateLimited, Reason: "cooldown active"})
			continue
		}
		if !lim.TryAcquire() {
			attempts = append(attempts, Attempt{Provider: c.Name(), Kind: provider.KindRateLimited, Reason: "rate limit reached"})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		meta, err := c.Metadata(callCtx, id)
		cancel()
		if err != nil {
			lim.MarkFailure()
			attempts = append(attempts, Attempt{Provider: c.Name(), Kind: provider.KindOf(err), Reason: err.Error()})
			continue
		}
		lim.MarkSuccess()
		return meta, nil
	}
	return nil, &ExhaustedError{Identity: id, Attempts: attempts}
}

// ProviderStates exposes limiter and cooldown state for diagnostics.
func (s *Service) ProviderStates() map[string]ratelimit.State {
	return s.limits.Snapshot()
}
