// Package ratelimit gates outbound provider calls with a fail-fast
// sliding-window limiter plus a consecutive-failure cooldown. Callers
// that are denied fall back to another provider instead of waiting, so
// TryAcquire never blocks.
package ratelimit

import (
	"sync"
	"time"
)

// Config holds the per-provider limits.
type Config struct {
	// Limit is the maximum number of calls inside any trailing Window.
	Limit  int
	Window time.Duration
	// FailureThreshold consecutive failures put the provider into
	// cooldown for Cooldown, regardless of rate-limit status.
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultConfig is a conservative free-tier profile.
func DefaultConfig() Config {
	return Config{
		Limit:            30,
		Window:           time.Minute,
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// Limiter tracks call timestamps and failure state for one provider.
// One Limiter, one lock; independent providers never contend.
type Limiter struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	calls         []time.Time
	failures      int
	disabledUntil time.Time
}

func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Limiter{cfg: cfg, now: time.Now}
}

// TryAcquire reports whether a call may be made now and, if so, records
// it. Timestamps older than the window are pruned on every call so the
// slice stays bounded by Limit.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.calls) >= l.cfg.Limit {
		return false
	}
	l.calls = append(l.calls, now)
	return true
}

// InCooldown reports whether the provider is suspended after repeated
// failures.
func (l *Limiter) InCooldown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.disabledUntil)
}

// MarkFailure records a failed call. Reaching the threshold disables
// the provider until the cooldown elapses.
func (l *Limiter) MarkFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures++
	if l.failures >= l.cfg.FailureThreshold {
		l.disabledUntil = l.now().Add(l.cfg.Cooldown)
		l.failures = 0
	}
}

// MarkSuccess resets the consecutive-failure count.
func (l *Limiter) MarkSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
}

// State is a read-only snapshot for diagnostics.
type State struct {
	CallsInWindow int       `json:"calls_in_window"`
	Limit         int       `json:"limit"`
	WindowSeconds int       `json:"window_seconds"`
	Failures      int       `json:"consecutive_failures"`
	InCooldown    bool      `json:"in_cooldown"`
	DisabledUntil time.Time `json:"disabled_until,omitzero"`
}

func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	st := State{
		CallsInWindow: len(l.calls),
		Limit:         l.cfg.Limit,
		WindowSeconds: int(l.cfg.Window / time.Second),
		Failures:      l.failures,
		InCooldown:    now.Before(l.disabledUntil),
	}
	if st.InCooldown {
		st.DisabledUntil = l.disabledUntil
	}
	return st
}

// prune drops timestamps that fell out of the trailing window.
// Caller holds the lock.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// Registry holds one Limiter per provider name. Limiters are usually
// registered at startup; Get lazily adds a default-profile limiter for
// unknown names so callers never nil-check.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

func (r *Registry) Add(name string, cfg Config) *Limiter {
	l := New(cfg)
	r.mu.Lock()
	r.limiters[name] = l
	r.mu.Unlock()
	return l
}

func (r *Registry) Get(name string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[name]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	l = New(DefaultConfig())
	r.limiters[name] = l
	return l
}

// Snapshot returns the state of every registered limiter.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = l.Snapshot()
	}
	return out
}
