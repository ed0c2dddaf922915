// Package sessions tracks issued tokens in the cache tier so they can be
// revoked before they expire.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/dmitrijs2005/contactkeeper/internal/server/cache"
)

const (
	keyPrefix   = "session:"
	claimPrefix = "session-claim:"
)

// Entry is the cached record for one token id.
type Entry struct {
	Subject string `json:"sub"`
	Expiry  int64  `json:"exp"`
	Revoked bool   `json:"revoked"`
}

type Store struct {
	cache cache.Store
	now   func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(c cache.Store, opts ...Option) *Store {
	s := &Store{cache: c, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func Key(tokenID string) string {
	return keyPrefix + tokenID
}

// Register stores a live entry for tokenID that the cache evicts after ttl.
// An existing entry under the same id is overwritten.
func (s *Store) Register(ctx context.Context, tokenID, identity string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("register session %s: non-positive ttl %s", tokenID, ttl)
	}
	b, err := json.Marshal(Entry{
		Subject: identity,
		Expiry:  s.now().Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("register session %s: %w", tokenID, err)
	}
	if err := s.cache.Set(ctx, Key(tokenID), string(b), ttl); err != nil {
		return unavailable("register session", err)
	}
	return nil
}

// IsRevoked reports whether tokenID must be denied: no entry, a revoked
// entry, an unreadable entry, or one past its expiry. An error means the
// state could not be determined.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	e, err := s.lookup(ctx, tokenID)
	if errors.Is(err, cache.ErrMiss) {
		return true, nil
	}
	if err != nil {
		return false, unavailable("check session", err)
	}
	if e == nil || e.Revoked {
		return true, nil
	}
	return s.now().Unix() >= e.Expiry, nil
}

// Revoke marks the entry for tokenID revoked. The entry keeps its remaining
// time-to-live. Revoking an absent or already revoked id is a no-op.
func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	e, err := s.lookup(ctx, tokenID)
	if errors.Is(err, cache.ErrMiss) {
		return nil
	}
	if err != nil {
		return unavailable("revoke session", err)
	}
	if e == nil {
		// undecodable entries are already treated as revoked
		return s.drop(ctx, tokenID)
	}
	if e.Revoked {
		return nil
	}

	e.Revoked = true
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("revoke session %s: %w", tokenID, err)
	}
	err = s.cache.Replace(ctx, Key(tokenID), string(b))
	if errors.Is(err, cache.ErrMiss) {
		// expired between read and write
		return nil
	}
	if err != nil {
		return unavailable("revoke session", err)
	}
	return nil
}

// Claim takes the single-use hold on tokenID until the given time. Exactly
// one caller gets true; everyone else gets false until Release or expiry.
func (s *Store) Claim(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	if !until.After(s.now()) {
		return false, nil
	}
	n, err := s.cache.IncrUntil(ctx, claimPrefix+tokenID, until)
	if err != nil {
		return false, unavailable("claim session", err)
	}
	return n == 1, nil
}

// Release gives up a hold taken with Claim.
func (s *Store) Release(ctx context.Context, tokenID string) error {
	if err := s.cache.Delete(ctx, claimPrefix+tokenID); err != nil {
		return unavailable("release session", err)
	}
	return nil
}

// lookup returns a nil entry without error when the cached value cannot be
// decoded.
func (s *Store) lookup(ctx context.Context, tokenID string) (*Entry, error) {
	raw, err := s.cache.Get(ctx, Key(tokenID))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) drop(ctx context.Context, tokenID string) error {
	if err := s.cache.Delete(ctx, Key(tokenID)); err != nil {
		return unavailable("revoke session", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, common.ErrCacheUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, common.ErrCacheUnavailable, err)
}
