package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CoinIdentity names a coin the way the primary provider knows it: an
// opaque id plus a display symbol. Identities are compared by value, so
// the struct is usable as a map key. No cross-provider id reconciliation
// happens beyond the symbol; each client translates the identity into
// its own namespace as needed.
type CoinIdentity struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

func (c CoinIdentity) String() string { return c.ID + "/" + c.Symbol }

// MarshalText lets identities key JSON maps, as "id/symbol".
func (c CoinIdentity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CoinIdentity) UnmarshalText(b []byte) error {
	s := string(b)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		c.ID, c.Symbol = s[:i], s[i+1:]
	} else {
		c.ID = s
	}
	return nil
}

// PriceRecord is the normalized shape returned by all providers.
// Change fields are nil when a provider does not supply them.
type PriceRecord struct {
	Symbol       string           `json:"symbol"`
	Name         string           `json:"name"`
	PriceUSD     decimal.Decimal  `json:"price_usd"`
	Change24h    *decimal.Decimal `json:"change_24h,omitempty"`
	Change24hPct *decimal.Decimal `json:"change_24h_pct,omitempty"`
	ImageURL     string           `json:"image_url,omitempty"`
	Provider     string           `json:"provider"`
	ResolvedAt   time.Time        `json:"resolved_at"`
}

// SearchResult is one row of an interactive coin search.
type SearchResult struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Provider     string `json:"provider"`
}

// Metadata describes a coin when a holding lacks cached display data.
type Metadata struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// Client is the capability set every provider variant implements.
//
// Prices returns a record per requested identity. A non-nil error means
// the whole call failed; an identity simply absent from the map means
// the provider does not know it (or its payload was unparseable) while
// the rest of the batch is still good.
type Client interface {
	Name() string
	Search(ctx context.Context, query string) ([]SearchResult, error)
	Prices(ctx context.Context, ids []CoinIdentity) (map[CoinIdentity]PriceRecord, error)
	Metadata(ctx context.Context, id CoinIdentity) (*Metadata, error)
}

// Kind classifies a provider call outcome for the fallback chain.
type Kind int

const (
	KindUnknown Kind = iota
	// KindRateLimited covers HTTP 429, a local limiter rejection and an
	// active failure cooldown. Retryable later, not a bug.
	KindRateLimited
	// KindNotFound means the coin identity is unknown to this provider.
	KindNotFound
	// KindTransient covers network errors, timeouts and 5xx. Retryable
	// on the next provider within the same resolution.
	KindTransient
	// KindFatal covers 4xx other than 429/404. Not retried on the same
	// provider, but the chain still moves on.
	KindFatal
	// KindUnparseable means the provider answered with a payload that
	// failed normalization (schema drift).
	KindUnparseable
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// Failure is the typed error every client returns on a failed call.
type Failure struct {
	Provider string
	Kind     Kind
	Err      error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Provider, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Provider, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err with a provider name and a classification.
func NewFailure(providerName string, kind Kind, err error) *Failure {
	return &Failure{Provider: providerName, Kind: kind, Err: err}
}

// StatusFailure classifies an unexpected HTTP status.
func StatusFailure(providerName string, status int) *Failure {
	return &Failure{
		Provider: providerName,
		Kind:     classifyStatus(status),
		Err:      fmt.Errorf("http %d", status),
	}
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindFatal
	default:
		return KindUnknown
	}
}

// WrapTransport classifies a transport-level error from http.Client.Do.
// Timeouts count as transient: the next provider may still answer
// within the caller's deadline.
func WrapTransport(providerName string, err error) *Failure {
	return &Failure{Provider: providerName, Kind: KindTransient, Err: err}
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindUnknown
}
