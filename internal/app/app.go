package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/projectflow/internal/auth"
	"github.com/utafrali/projectflow/internal/config"
	"github.com/utafrali/projectflow/internal/domain"
	"github.com/utafrali/projectflow/internal/event"
	handler "github.com/utafrali/projectflow/internal/handler/http"
	"github.com/utafrali/projectflow/internal/ratelimit"
	"github.com/utafrali/projectflow/internal/repository"
	"github.com/utafrali/projectflow/internal/repository/memory"
	"github.com/utafrali/projectflow/internal/repository/postgres"
	"github.com/utafrali/projectflow/internal/service"
	"github.com/utafrali/projectflow/migrations"
	"github.com/utafrali/projectflow/pkg/database"
	"github.com/utafrali/projectflow/pkg/health"
	pkgkafka "github.com/utafrali/projectflow/pkg/kafka"
	"github.com/utafrali/projectflow/pkg/tracing"
)

const (
	// ServiceName labels logs, metrics and spans.
	ServiceName = "auth-service"

	startupTimeout = 30 * time.Second
)

// Version is set at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown tracing.Shutdown
}

// stores is the persistence pair the session manager runs on.
type stores struct {
	users  repository.UserRepository
	tokens repository.RefreshTokenRepository
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName, Version))
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	st, err := a.initStores(ctx, healthHandler)
	if err != nil {
		return err
	}

	throttle := a.initThrottle(ctx, healthHandler)
	events := a.initEvents(healthHandler)

	issuer, err := auth.NewIssuer(auth.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessExpiry,
		RefreshTTL: cfg.JWTRefreshExpiry,
	})
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}

	verifier, err := service.NewCredentialVerifier(st.users, cfg.PasswordScheme(), logger)
	if err != nil {
		return fmt.Errorf("create credential verifier: %w", err)
	}

	sessions := service.NewSessionManager(verifier, st.users, st.tokens, issuer, logger,
		service.WithSingleSession(cfg.SingleSession),
		service.WithThrottle(throttle),
		service.WithEvents(events),
	)

	router := handler.NewRouter(sessions, handler.AccessTokenValidator(issuer), healthHandler, logger, handler.RouterConfig{
		ServiceName:       ServiceName,
		CORS:              cfg.CORS(),
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
		TrustProxy:        cfg.TrustProxy,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (a *App) initStores(ctx context.Context, healthHandler *health.Handler) (stores, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.StoreDriver == config.StoreDriverMemory {
		users, err := seedUsers(cfg.DevUsers)
		if err != nil {
			return stores{}, err
		}
		logger.Warn("using in-memory token store; sessions are lost on restart",
			slog.Int("seeded_users", len(cfg.DevUsers)),
		)
		return stores{users: users, tokens: memory.NewRefreshTokenStore()}, nil
	}

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return stores{}, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
		return stores{}, fmt.Errorf("register pool metrics: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return stores{}, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return stores{
		users:  postgres.NewUserRepository(pool),
		tokens: postgres.NewRefreshTokenRepository(pool),
	}, nil
}

// initThrottle connects to Redis for the login throttle. Redis is optional:
// when it is disabled or unreachable logins are not throttled.
func (a *App) initThrottle(ctx context.Context, healthHandler *health.Handler) service.LoginThrottle {
	cfg, logger := a.cfg, a.logger

	if !cfg.RedisEnabled || cfg.LoginMaxAttempts <= 0 {
		logger.Info("login throttling disabled")
		return ratelimit.Nop{}
	}

	rc := cfg.Redis()
	client, err := database.ConnectRedis(ctx, rc)
	if err != nil {
		// Keep an unconnected client: go-redis dials lazily, so the throttle
		// recovers once Redis comes back. Until then it fails open.
		logger.Warn("redis unavailable at startup, login throttle fails open until it recovers",
			slog.String("addr", rc.Addr()),
			slog.String("error", err.Error()),
		)
		client = database.NewRedisClient(rc)
	} else {
		logger.Info("connected to Redis", slog.String("addr", rc.Addr()))
	}
	a.redis = client

	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	return ratelimit.NewLoginLimiter(client, ratelimit.Config{
		MaxAttempts: cfg.LoginMaxAttempts,
		Window:      cfg.LoginAttemptWindow,
	}, logger)
}

func (a *App) initEvents(healthHandler *health.Handler) service.EventPublisher {
	cfg, logger := a.cfg, a.logger

	if !cfg.EventsEnabled {
		logger.Info("auth event publishing disabled")
		return event.Nop{}
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	a.producer = producer
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	return event.NewProducer(producer, event.DefaultBreakerConfig(), logger)
}

// seedUsers builds the memory user store from "email:hash" entries.
func seedUsers(entries []string) (*memory.UserStore, error) {
	users := memory.NewUserStore()
	now := time.Now().UTC()
	for _, entry := range entries {
		email, hash, ok := strings.Cut(entry, ":")
		if !ok || email == "" || hash == "" {
			return nil, fmt.Errorf("invalid dev user entry %q", entry)
		}
		users.Add(domain.User{
			ID:           uuid.NewString(),
			Email:        domain.NormalizeEmail(email),
			PasswordHash: hash,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return users, nil
}

// Handler returns the service's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeResources()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis, PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	errs = append(errs, a.closeResources())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases backing connections. It is safe to call with a
// partially initialised App.
func (a *App) closeResources() error {
	var errs []error
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}
