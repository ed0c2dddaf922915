// Package services contains server-side business logic. AuthService
// implements login, per-request authorization and logout on top of the
// credential store, the token codec and the cache-backed session and
// rate-limit state.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/dmitrijs2005/contactkeeper/internal/logging"
	"github.com/dmitrijs2005/contactkeeper/internal/server/auth"
	"github.com/dmitrijs2005/contactkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/contactkeeper/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// SessionStore tracks issued tokens. *sessions.Store implements it.
type SessionStore interface {
	Register(ctx context.Context, tokenID, identity string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Revoke(ctx context.Context, tokenID string) error
}

// Limiter admits or rejects one request. *ratelimit.Limiter implements it.
type Limiter interface {
	Admit(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// dummyHash is compared against when the user does not exist so unknown
// and known logins take about the same time.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("contactkeeper:no-such-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	codec       *auth.Codec
	sessions    SessionStore
	requests    Limiter
	logins      Limiter
	accessTTL   time.Duration
	log         logging.Logger
	now         func() time.Time
}

type AuthOption func(*AuthService)

// WithLoginLimiter throttles Authenticate per submitted username.
func WithLoginLimiter(l Limiter) AuthOption {
	return func(s *AuthService) { s.logins = l }
}

func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *AuthService) { s.now = now }
}

func WithAuthLogger(l logging.Logger) AuthOption {
	return func(s *AuthService) { s.log = l }
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, codec *auth.Codec,
	sessions SessionStore, requests Limiter, accessTTL time.Duration, opts ...AuthOption) *AuthService {
	s := &AuthService{
		db:          db,
		repomanager: m,
		codec:       codec,
		sessions:    sessions,
		requests:    requests,
		accessTTL:   accessTTL,
		log:         logging.Nop{},
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "auth")
	return s
}

// NormalizeLogin canonicalizes an email used as a login name.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// Authenticate verifies the credentials, mints an access token and registers
// its session. No token is returned unless the session was registered.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*auth.Token, error) {
	login := NormalizeLogin(username)

	if s.logins != nil {
		d, err := s.logins.Admit(ctx, login)
		if err != nil {
			s.log.Error(ctx, "login throttle unavailable", "error", err)
			return nil, cacheUnavailable(err)
		}
		if !d.Allowed {
			s.log.Warn(ctx, "login throttled", "login", login, "count", d.Count)
			return nil, common.ErrRateLimited
		}
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return nil, common.ErrInvalidCredentials
		}
		s.log.Error(ctx, "credential lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, common.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, common.ErrAccountDisabled
	}

	token, err := s.codec.Mint(user.ID, s.accessTTL)
	if err != nil {
		s.log.Error(ctx, "mint token failed", "error", err)
		return nil, common.ErrorInternal
	}

	if err := s.sessions.Register(ctx, token.ID, user.ID, token.ExpiresAt.Sub(s.now())); err != nil {
		s.log.Error(ctx, "session register failed", "jti", token.ID, "error", err)
		return nil, cacheUnavailable(err)
	}

	s.log.Info(ctx, "login", "sub", user.ID, "jti", token.ID)
	return token, nil
}

// Authorize returns the identity behind raw if the token verifies, has not
// been revoked and the identity is within its request budget. Any cache
// failure denies the request.
func (s *AuthService) Authorize(ctx context.Context, raw string) (string, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		return "", err
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.log.Error(ctx, "session check unavailable", "jti", claims.ID, "error", err)
		return "", cacheUnavailable(err)
	}
	if revoked {
		return "", common.ErrTokenRevoked
	}

	d, err := s.requests.Admit(ctx, claims.Subject)
	if err != nil {
		s.log.Error(ctx, "rate limiter unavailable", "sub", claims.Subject, "error", err)
		return "", cacheUnavailable(err)
	}
	if !d.Allowed {
		s.log.Debug(ctx, "rate limited", "sub", claims.Subject, "count", d.Count, "reset_at", d.ResetAt)
		return "", common.ErrRateLimited
	}

	return claims.Subject, nil
}

// Logout revokes the session behind raw. Expired tokens are accepted as
// long as the signature is valid; revoking twice is not an error.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	claims, err := s.codec.VerifySignature(raw)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, claims.ID); err != nil {
		s.log.Error(ctx, "session revoke failed", "jti", claims.ID, "error", err)
		return cacheUnavailable(err)
	}
	s.log.Info(ctx, "logout", "sub", claims.Subject, "jti", claims.ID)
	return nil
}

func cacheUnavailable(err error) error {
	if errors.Is(err, common.ErrCacheUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrCacheUnavailable, err)
}
