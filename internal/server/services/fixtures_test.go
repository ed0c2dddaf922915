package services

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/dmitrijs2005/contactkeeper/internal/dbx"
	"github.com/dmitrijs2005/contactkeeper/internal/server/auth"
	"github.com/dmitrijs2005/contactkeeper/internal/server/cache"
	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
	"github.com/dmitrijs2005/contactkeeper/internal/server/ratelimit"
	usersrepo "github.com/dmitrijs2005/contactkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/contactkeeper/internal/server/sessions"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-with-enough-entropy"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_040, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeUsersRepo is an in-memory credential store.
type fakeUsersRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	nextID  int
	getErr  error
	lockErr error
	locked  []string
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{}}
}

func (f *fakeUsersRepo) add(t *testing.T, email, password string, active bool) *models.User {
	t.Helper()
	return f.addWithRole(t, email, password, active, models.RoleUser)
}

func (f *fakeUsersRepo) addWithRole(t *testing.T, email, password string, active bool, role string) *models.User {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := f.Create(context.Background(), &models.User{
		Email: email, PasswordHash: string(h), IsActive: active, Role: role,
	})
	require.NoError(t, err)
	return u
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	f.nextID++
	u.ID = "u-" + strconv.Itoa(f.nextID)
	u.CreatedAt = time.Unix(1_700_000_000, 0).UTC()
	cp := *u
	f.byID[u.ID] = &cp
	return u, nil
}

func (f *fakeUsersRepo) GetUserByLogin(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) LockUser(ctx context.Context, id string) (*models.User, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	f.mu.Lock()
	f.locked = append(f.locked, id)
	f.mu.Unlock()
	return f.GetUserByID(ctx, id)
}

func (f *fakeUsersRepo) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsersRepo) SetAvatar(_ context.Context, id, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.AvatarKey = key
	return nil
}

type fakeRepoManager struct {
	u usersrepo.Repository
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository          { return m.u }

// failingStore reports every operation as a cache outage.
type failingStore struct{}

func (failingStore) err() error { return common.ErrCacheUnavailable }

func (f failingStore) Set(context.Context, string, string, time.Duration) error { return f.err() }
func (f failingStore) Get(context.Context, string) (string, error)              { return "", f.err() }
func (f failingStore) Replace(context.Context, string, string) error            { return f.err() }
func (f failingStore) IncrUntil(context.Context, string, time.Time) (int64, error) {
	return 0, f.err()
}
func (f failingStore) Delete(context.Context, ...string) error { return f.err() }
func (f failingStore) Ping(context.Context) error              { return f.err() }

type authFixture struct {
	clock    *testClock
	repo     *fakeUsersRepo
	rm       *fakeRepoManager
	store    *cache.MemoryStore
	codec    *auth.Codec
	sessions *sessions.Store
	svc      *AuthService
	db       *sql.DB
	mock     sqlmock.Sqlmock
}

type fixtureOpts struct {
	requestMax int
	loginMax   int
	accessTTL  time.Duration
}

func newAuthFixture(t *testing.T, o fixtureOpts) *authFixture {
	t.Helper()
	if o.accessTTL == 0 {
		o.accessTTL = 30 * time.Minute
	}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := newTestClock()
	repo := newFakeUsersRepo()
	rm := &fakeRepoManager{u: repo}
	store := cache.NewMemoryStoreWithClock(clk.Now)

	codec, err := auth.NewCodec(testSecret, "HS256", auth.WithClock(clk.Now))
	require.NoError(t, err)

	sess := sessions.NewStore(store, sessions.WithClock(clk.Now))
	requests, err := ratelimit.New(store, o.requestMax, time.Minute,
		ratelimit.WithClock(clk.Now), ratelimit.WithPrefix(ratelimit.RequestPrefix))
	require.NoError(t, err)

	opts := []AuthOption{WithAuthClock(clk.Now)}
	if o.loginMax > 0 {
		logins, err := ratelimit.New(store, o.loginMax, 5*time.Minute,
			ratelimit.WithClock(clk.Now), ratelimit.WithPrefix(ratelimit.LoginPrefix))
		require.NoError(t, err)
		opts = append(opts, WithLoginLimiter(logins))
	}

	return &authFixture{
		clock:    clk,
		repo:     repo,
		rm:       rm,
		store:    store,
		codec:    codec,
		sessions: sess,
		svc:      NewAuthService(db, rm, codec, sess, requests, o.accessTTL, opts...),
		db:       db,
		mock:     mock,
	}
}
