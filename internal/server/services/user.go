package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/dmitrijs2005/contactkeeper/internal/dbx"
	"github.com/dmitrijs2005/contactkeeper/internal/logging"
	"github.com/dmitrijs2005/contactkeeper/internal/server/auth"
	"github.com/dmitrijs2005/contactkeeper/internal/server/cache"
	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
	"github.com/dmitrijs2005/contactkeeper/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

// ResetNotifier delivers a password reset token to the account owner.
type ResetNotifier interface {
	NotifyReset(ctx context.Context, email string, token *auth.Token) error
}

// WriterNotifier prints reset tokens to a writer. It stands in for mail
// delivery in development.
type WriterNotifier struct {
	W io.Writer
}

func (n WriterNotifier) NotifyReset(_ context.Context, email string, token *auth.Token) error {
	w := n.W
	if w == nil {
		w = os.Stderr
	}
	_, err := fmt.Fprintf(w, "password reset token for %s (valid until %s): %s\n",
		email, token.ExpiresAt.UTC().Format(time.RFC3339), token.Raw)
	return err
}

func ProfileKey(id string) string {
	return "profile:" + id
}

// ResetSessionStore is a SessionStore that can also hold a token for a
// single use. *sessions.Store implements it.
type ResetSessionStore interface {
	SessionStore
	Claim(ctx context.Context, tokenID string, until time.Time) (bool, error)
	Release(ctx context.Context, tokenID string) error
}

// UserService handles registration, profile reads and password reset.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	codec       *auth.Codec
	sessions    ResetSessionStore
	cache       cache.Store
	profileTTL  time.Duration
	resetTTL    time.Duration
	notifier    ResetNotifier
	hashCost    int
	log         logging.Logger
	now         func() time.Time
}

type UserOption func(*UserService)

func WithNotifier(n ResetNotifier) UserOption {
	return func(s *UserService) { s.notifier = n }
}

// WithHashCost overrides the bcrypt cost used for new password hashes.
func WithHashCost(cost int) UserOption {
	return func(s *UserService) { s.hashCost = cost }
}

func WithUserLogger(l logging.Logger) UserOption {
	return func(s *UserService) { s.log = l }
}

func WithUserClock(now func() time.Time) UserOption {
	return func(s *UserService) { s.now = now }
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, codec *auth.Codec, sessions ResetSessionStore,
	c cache.Store, profileTTL, resetTTL time.Duration, opts ...UserOption) *UserService {
	s := &UserService{
		db:          db,
		repomanager: m,
		codec:       codec,
		sessions:    sessions,
		cache:       c,
		profileTTL:  profileTTL,
		resetTTL:    resetTTL,
		notifier:    WriterNotifier{},
		hashCost:    bcrypt.DefaultCost,
		log:         logging.Nop{},
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "users")
	return s
}

func ValidateCredentials(email, password string) error {
	var problems []string
	if email == "" || !strings.Contains(email, "@") {
		problems = append(problems, "email must be a valid address")
	}
	if len(password) < MinPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrorValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (s *UserService) hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Register creates an active, unverified account with the user role.
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = NormalizeLogin(email)
	if err := ValidateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		Role:         models.RoleUser,
	}
	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	s.log.Info(ctx, "user registered", "sub", u.ID)
	return u, nil
}

// Profile returns the public view of a user, served from the cache when
// possible. Cache failures fall back to the credential store.
func (s *UserService) Profile(ctx context.Context, id string) (*models.Profile, error) {
	key := ProfileKey(id)

	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var p models.Profile
		if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil {
			return &p, nil
		}
		s.log.Warn(ctx, "dropping undecodable cached profile", "sub", id)
	case !errors.Is(err, cache.ErrMiss):
		s.log.Warn(ctx, "profile cache read failed", "sub", id, "error", err)
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := user.Profile()

	if b, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, string(b), s.profileTTL); err != nil {
			s.log.Warn(ctx, "profile cache write failed", "sub", id, "error", err)
		}
	}
	return p, nil
}

// InvalidateProfile drops the cached profile of id.
func (s *UserService) InvalidateProfile(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, ProfileKey(id)); err != nil {
		s.log.Warn(ctx, "profile cache invalidation failed", "sub", id, "error", err)
	}
}

// RequestPasswordReset issues a single-use reset token for an active account
// and hands it to the notifier. Unknown or disabled accounts are silently
// ignored.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeLogin(email)

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetUserByLogin(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		s.log.Error(ctx, "credential lookup failed", "error", err)
		return common.ErrorInternal
	}
	if !user.IsActive {
		return nil
	}

	token, err := s.codec.MintFor(auth.PurposeReset, user.ID, s.resetTTL)
	if err != nil {
		return common.ErrorInternal
	}
	if err := s.sessions.Register(ctx, token.ID, user.ID, token.ExpiresAt.Sub(s.now())); err != nil {
		return cacheUnavailable(err)
	}
	if err := s.notifier.NotifyReset(ctx, user.Email, token); err != nil {
		s.log.Error(ctx, "reset notification failed", "sub", user.ID, "jti", token.ID, "error", err)
		return common.ErrorInternal
	}

	s.log.Info(ctx, "password reset requested", "sub", user.ID, "jti", token.ID)
	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// consumed on success.
func (s *UserService) ResetPassword(ctx context.Context, raw, newPassword string) error {
	claims, err := s.codec.VerifyFor(auth.PurposeReset, raw)
	if err != nil {
		return err
	}
	if len(newPassword) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, MinPasswordLength)
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.ID)
	if err != nil {
		return cacheUnavailable(err)
	}
	if revoked {
		return common.ErrTokenRevoked
	}

	// Concurrent requests with the same token race for the claim; only the
	// winner reaches the database.
	claimed, err := s.sessions.Claim(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return cacheUnavailable(err)
	}
	if !claimed {
		return common.ErrTokenRevoked
	}

	err = s.resetPassword(ctx, claims.Subject, newPassword)
	if err != nil {
		if rerr := s.sessions.Release(ctx, claims.ID); rerr != nil {
			s.log.Warn(ctx, "reset token release failed", "jti", claims.ID, "error", rerr)
		}
		return err
	}

	if err := s.sessions.Revoke(ctx, claims.ID); err != nil {
		// the claim stays until expiry, so the token cannot be reused
		s.log.Warn(ctx, "reset token revoke failed", "jti", claims.ID, "error", err)
	}
	s.InvalidateProfile(ctx, claims.Subject)

	s.log.Info(ctx, "password reset", "sub", claims.Subject, "jti", claims.ID)
	return nil
}

func (s *UserService) resetPassword(ctx context.Context, userID, newPassword string) error {
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		user, err := repo.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return common.ErrAccountDisabled
		}
		return repo.UpdatePassword(ctx, user.ID, hash)
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrAccountDisabled) {
			return err
		}
		s.log.Error(ctx, "password update failed", "sub", userID, "error", err)
		return common.ErrorInternal
	}
	return nil
}
