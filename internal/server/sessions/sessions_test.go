package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/dmitrijs2005/contactkeeper/internal/server/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemory() (*Store, *cache.MemoryStore, *clock) {
	clk := &clock{t: epoch}
	mem := cache.NewMemoryStoreWithClock(clk.Now)
	return NewStore(mem, WithClock(clk.Now)), mem, clk
}

func TestRegister_ThenLive(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newMemory()

	require.NoError(t, s.Register(ctx, "jti-1", "user-1", 30*time.Minute))

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	raw, err := mem.Get(ctx, "session:jti-1")
	require.NoError(t, err)
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, Entry{Subject: "user-1", Expiry: epoch.Add(30 * time.Minute).Unix()}, e)
}

func TestRegister_NonPositiveTTL(t *testing.T) {
	s, mem, _ := newMemory()
	require.Error(t, s.Register(context.Background(), "jti", "u", 0))
	assert.Equal(t, 0, mem.Len())
}

func TestIsRevoked_UnknownID(t *testing.T) {
	s, _, _ := newMemory()
	revoked, err := s.IsRevoked(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIsRevoked_AfterExpiry(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newMemory()
	require.NoError(t, s.Register(ctx, "jti", "u", time.Minute))

	clk.Advance(time.Minute)
	revoked, err := s.IsRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIsRevoked_GarbageEntry(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newMemory()
	require.NoError(t, mem.Set(ctx, Key("jti"), "{not json", time.Minute))

	revoked, err := s.IsRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, s.Revoke(ctx, "jti"))
	assert.Equal(t, 0, mem.Len())
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	s, mem, clk := newMemory()
	require.NoError(t, s.Register(ctx, "jti", "u", 10*time.Minute))

	require.NoError(t, s.Revoke(ctx, "jti"))
	revoked, err := s.IsRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	// idempotent, and a second call leaves the same state
	before, _ := mem.Get(ctx, Key("jti"))
	require.NoError(t, s.Revoke(ctx, "jti"))
	after, _ := mem.Get(ctx, Key("jti"))
	assert.Equal(t, before, after)

	// the tombstone goes away with the token's natural expiry
	clk.Advance(10 * time.Minute)
	_, err = mem.Get(ctx, Key("jti"))
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestRevoke_Unknown(t *testing.T) {
	s, mem, _ := newMemory()
	require.NoError(t, s.Revoke(context.Background(), "nope"))
	assert.Equal(t, 0, mem.Len())
}

func TestRedisBacked_RevokeKeepsTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rs := cache.NewRedisStore(cache.RedisOptions{Addr: mr.Addr(), Timeout: time.Second})
	defer rs.Close()

	clk := &clock{t: epoch}
	s := NewStore(rs, WithClock(clk.Now))

	require.NoError(t, s.Register(ctx, "jti", "u", 30*time.Minute))
	assert.Equal(t, 30*time.Minute, mr.TTL(Key("jti")))

	mr.FastForward(10 * time.Minute)
	require.NoError(t, s.Revoke(ctx, "jti"))
	assert.Equal(t, 20*time.Minute, mr.TTL(Key("jti")))

	revoked, err := s.IsRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestCacheDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rs := cache.NewRedisStore(cache.RedisOptions{Addr: mr.Addr(), Timeout: time.Second})
	defer rs.Close()
	s := NewStore(rs)
	mr.Close()

	err := s.Register(ctx, "jti", "u", time.Minute)
	assert.ErrorIs(t, err, common.ErrCacheUnavailable)

	_, err = s.IsRevoked(ctx, "jti")
	assert.ErrorIs(t, err, common.ErrCacheUnavailable)

	err = s.Revoke(ctx, "jti")
	assert.ErrorIs(t, err, common.ErrCacheUnavailable)
}

type failingCache struct {
	cache.Store
	err error
}

func (f failingCache) Get(context.Context, string) (string, error) { return "", f.err }

func TestIsRevoked_WrapsPlainErrors(t *testing.T) {
	boom := errors.New("boom")
	s := NewStore(failingCache{Store: cache.NewMemoryStore(), err: boom})

	_, err := s.IsRevoked(context.Background(), "jti")
	assert.ErrorIs(t, err, common.ErrCacheUnavailable)
}

func TestClaim_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newMemory()
	until := epoch.Add(time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, "jti-r", until)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, s.Release(ctx, "jti-r"))
	ok, err := s.Claim(ctx, "jti-r", until)
	require.NoError(t, err)
	assert.True(t, ok, "released claim can be taken again")
}

func TestClaim_ExpiresWithToken(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newMemory()

	ok, err := s.Claim(ctx, "jti-r", epoch.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(time.Minute)
	ok, err = s.Claim(ctx, "jti-r", epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "nothing to claim after expiry")
}

func TestClaim_RedisBacked(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	mr.SetTime(epoch)
	rs := cache.NewRedisStore(cache.RedisOptions{Addr: mr.Addr(), Timeout: time.Second})
	defer rs.Close()
	s := NewStore(rs, WithClock(func() time.Time { return epoch }))

	ok, err := s.Claim(ctx, "jti-r", epoch.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Claim(ctx, "jti-r", epoch.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Minute, mr.TTL("session-claim:jti-r"))

	mr.Close()
	_, err = s.Claim(ctx, "jti-r", epoch.Add(30*time.Minute))
	assert.ErrorIs(t, err, common.ErrCacheUnavailable)
}
