package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"priceresolver/internal/provider"
)

// BulkResult is the partial-success report of one bulk refresh. Callers
// apply Resolved and leave prior values in place for Failed and
// TimedOut; a failed refresh never blanks out known prices.
type BulkResult struct {
	Resolved map[provider.CoinIdentity]provider.PriceRecord `json:"resolved"`
	Failed   map[provider.CoinIdentity]string               `json:"failed"`
	TimedOut []provider.CoinIdentity                        `json:"timed_out"`
}

// RefreshAll resolves every distinct identity once, under a bounded
// worker pool and an overall deadline. Workers still in flight when the
// deadline passes are abandoned and their identities reported as timed
// out.
func (s *Service) RefreshAll(ctx context.Context, ids []provider.CoinIdentity, deadline time.Duration) *BulkResult {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	opID := uuid.NewString()

	// De-duplicate while preserving request order.
	seen := make(map[provider.CoinIdentity]struct{}, len(ids))
	distinct := make([]provider.CoinIdentity, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	res := &BulkResult{
		Resolved: make(map[provider.CoinIdentity]provider.PriceRecord, len(distinct)),
		Failed:   make(map[provider.CoinIdentity]string),
	}

	bulkCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	s.log.WithFields(logrus.Fields{
		"refresh_id": opID,
		"coins":      len(distinct),
		"deadline":   deadline.String(),
	}).Info("bulk refresh started")

	type result struct {
		id       provider.CoinIdentity
		out      Outcome
		err      error
		timedOut bool
	}
	results := make(chan result, len(distinct))

	g, gctx := errgroup.WithContext(bulkCtx)
	g.SetLimit(s.cfg.Workers)
	for _, id := range distinct {
		id := id
		if gctx.Err() != nil {
			results <- result{id: id, timedOut: true}
			continue
		}
		g.Go(func() error {
			out, err := s.RefreshOne(gctx, id, false)
			timedOut := err != nil &&
				(errors.Is(err, context.DeadlineExceeded) || gctx.Err() != nil)
			results <- result{id: id, out: out, err: err, timedOut: timedOut}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		switch {
		case r.timedOut:
			res.TimedOut = append(res.TimedOut, r.id)
		case r.err != nil:
			res.Failed[r.id] = failureReason(r.err)
		default:
			res.Resolved[r.id] = r.out.Record
		}
	}

	s.log.WithFields(logrus.Fields{
		"refresh_id": opID,
		"resolved":   len(res.Resolved),
		"failed":     len(res.Failed),
		"timed_out":  len(res.TimedOut),
	}).Info("bulk refresh finished")
	return res
}

func failureReason(err error) string {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		switch {
		case ex.NotFound():
			return "not_found"
		case ex.RateLimited():
			return "rate_limited"
		}
	}
	return err.Error()
}
