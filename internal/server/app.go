// Package server wires configuration, storage, the auth core and both
// transports together and runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/contactkeeper/internal/logging"
	"github.com/dmitrijs2005/contactkeeper/internal/server/auth"
	"github.com/dmitrijs2005/contactkeeper/internal/server/cache"
	"github.com/dmitrijs2005/contactkeeper/internal/server/config"
	"github.com/dmitrijs2005/contactkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/contactkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/contactkeeper/internal/server/rest"
	"github.com/dmitrijs2005/contactkeeper/internal/server/services"
	"github.com/dmitrijs2005/contactkeeper/internal/server/sessions"

	gs "github.com/dmitrijs2005/contactkeeper/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	store         cache.Store
	authService   *services.AuthService
	userService   *services.UserService
	avatarService *services.AvatarService
}

// newCacheStore picks the cache backend named in the configuration.
func newCacheStore(c *config.Config) cache.Store {
	if c.CacheBackend == "memory" {
		return cache.NewMemoryStore()
	}
	return cache.NewRedisStore(cache.RedisOptions{
		Addr:     c.RedisAddr(),
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Timeout:  c.CacheTimeout,
	})
}

func NewApp(c *config.Config) (*App, error) {
	return newApp(c, os.Stdout)
}

func newApp(c *config.Config, logOut io.Writer) (*App, error) {

	logger := logging.NewJSON(logOut, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	codec, err := auth.NewCodec(c.SecretKey, c.SecretAlgorithm)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	store := newCacheStore(c)
	sess := sessions.NewStore(store)

	requests, err := ratelimit.New(store, c.RateLimitMax, c.RateLimitWindow,
		ratelimit.WithPrefix(ratelimit.RequestPrefix))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("request limiter: %w", err)
	}

	authOpts := []services.AuthOption{services.WithAuthLogger(logger)}
	if c.LoginLimitMax > 0 {
		logins, err := ratelimit.New(store, c.LoginLimitMax, c.LoginLimitWindow,
			ratelimit.WithPrefix(ratelimit.LoginPrefix))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("login limiter: %w", err)
		}
		authOpts = append(authOpts, services.WithLoginLimiter(logins))
	}

	as := services.NewAuthService(db, rm, codec, sess, requests, c.AccessTokenValidityDuration, authOpts...)
	us := services.NewUserService(db, rm, codec, sess, store, c.ProfileCacheTTL, c.ResetTokenValidityDuration,
		services.WithUserLogger(logger))
	avs := services.NewAvatarService(db, rm, us, c)

	logger.Info(context.Background(), "configured",
		"http", c.EndpointAddrHTTP, "grpc", c.EndpointAddrGRPC,
		"cache", c.CacheBackend, "algorithm", codec.Algorithm(),
		"rate_limit", c.RateLimitMax, "rate_window", c.RateLimitWindow.String())

	return &App{
		config:        c,
		logger:        logger,
		db:            db,
		repomanager:   rm,
		store:         store,
		authService:   as,
		userService:   us,
		avatarService: avs,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) healthChecks() map[string]rest.HealthCheck {
	return map[string]rest.HealthCheck{
		"db":    app.db.PingContext,
		"cache": app.store.Ping,
	}
}

func (app *App) startHTTPServer(ctx context.Context) error {
	h := rest.NewHandler(app.authService, app.userService, app.avatarService,
		app.healthChecks(), app.config.RequestTimeout, app.logger)
	s := rest.NewServer(app.config.EndpointAddrHTTP, h.Routes(), app.logger)

	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (app *App) startGRPCServer(ctx context.Context) error {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.authService)

	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("grpc server: %w", err)
	}
	return nil
}

// prepare migrates the schema and checks the cache before serving.
func (app *App) prepare(ctx context.Context) error {
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := app.store.Ping(ctx); err != nil {
		return err
	}
	return nil
}

func (app *App) close() {
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close", "error", err)
	}
	if c, ok := app.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			app.logger.Error(context.Background(), "cache close", "error", err)
		}
	}
}

// Run serves HTTP and gRPC until ctx is cancelled or a termination signal is
// received.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.prepare(ctx); err != nil {
		app.logger.Error(ctx, "startup failed", "error", err)
		return err
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	// A failing server stops the other one; the first failure is returned.
	serve := func(start func(context.Context) error) {
		defer wg.Done()
		if err := start(ctx); err != nil {
			app.logger.Error(ctx, "server failed", "error", err)
			once.Do(func() { firstErr = err })
			cancelFunc()
		}
	}

	wg.Add(2)
	go serve(app.startHTTPServer)
	go serve(app.startGRPCServer)

	wg.Wait()

	app.logger.Info(context.Background(), "App stopped")
	return firstErr
}
