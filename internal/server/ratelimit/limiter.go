// Package ratelimit implements fixed-window request counting on top of the
// cache tier. Windows are aligned to the Unix epoch, so every replica sharing
// a cache agrees on the current window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/server/cache"
)

const (
	RequestPrefix = "rl:req:"
	LoginPrefix   = "rl:login:"
)

// Decision is the outcome of a single Admit call.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

type Limiter struct {
	store  cache.Store
	max    int64
	window time.Duration
	prefix string
	now    func() time.Time
}

type Option func(*Limiter)

func WithPrefix(p string) Option {
	return func(l *Limiter) { l.prefix = p }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a limiter admitting at most max requests per identity in each
// window. A max of zero or less disables limiting.
func New(store cache.Store, max int, window time.Duration, opts ...Option) (*Limiter, error) {
	if max > 0 && window < time.Second {
		return nil, fmt.Errorf("rate limit window must be at least 1s, got %s", window)
	}
	l := &Limiter{
		store:  store,
		max:    int64(max),
		window: window,
		prefix: RequestPrefix,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *Limiter) Enabled() bool {
	return l.max > 0
}

// Admit counts one request for identity in the current window. The
// increment is kept even when the request is denied.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}

	index := l.now().UnixNano() / int64(l.window)
	resetAt := time.Unix(0, (index+1)*int64(l.window))

	n, err := l.store.IncrUntil(ctx, l.key(identity, index), resetAt)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", identity, err)
	}

	d := Decision{
		Allowed: n <= l.max,
		Count:   n,
		ResetAt: resetAt,
	}
	if d.Allowed {
		d.Remaining = l.max - n
	}
	return d, nil
}

func (l *Limiter) key(identity string, index int64) string {
	return l.prefix + identity + ":" + strconv.FormatInt(index, 10)
}
