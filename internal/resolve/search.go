package resolve

import (
	"context"

	"priceresolver/internal/provider"
)

// Search serves interactive search-as-you-type. To keep the UI
// responsive it makes a single network attempt against the first
// provider that is neither cooling down nor over its limit, instead of
// walking the whole fallback chain.
func (s *Service) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
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
		results, err := c.Search(callCtx, query)
		cancel()
		if err != nil {
			lim.MarkFailure()
			return nil, err
		}
		lim.MarkSuccess()
		return results, nil
	}

	// Every provider was skipped before a single call went out.
	return nil, &ExhaustedError{Attempts: attempts}
}
