// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/ianampudia11/mecom-sub003/internal/channels/official"
	"github.com/ianampudia11/mecom-sub003/internal/channels/unofficial"
	"github.com/ianampudia11/mecom-sub003/internal/config"
	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
	dispatchpostgres "github.com/ianampudia11/mecom-sub003/internal/dispatch/postgres"
	"github.com/ianampudia11/mecom-sub003/internal/dispatch/redisledger"
	"github.com/ianampudia11/mecom-sub003/internal/pkg/ctxlog"
	"github.com/ianampudia11/mecom-sub003/internal/pkg/httputil"
	"github.com/ianampudia11/mecom-sub003/internal/pkg/metrics"
	"github.com/ianampudia11/mecom-sub003/internal/pkg/postgres"
	progressamqp "github.com/ianampudia11/mecom-sub003/internal/progress/amqp"
	"github.com/ianampudia11/mecom-sub003/internal/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	ledger        *redisledger.Ledger
	publisher     *progressamqp.Publisher
	sessions      *unofficial.Sessions
	scheduler     *dispatch.Scheduler
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ApplicationName: "campaign-dispatcher",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	metrics.BuildInfo.WithLabelValues(version.Version, version.GitCommit).Set(1)
	go app.collectDBMetrics(metricsCtx)

	handler, err := app.setupDispatcher(connectCtx, metricsCtx)
	if err != nil {
		metricsCancel()
		_ = app.closeBackends(context.Background())
		return nil, fmt.Errorf("setup dispatcher: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(handler),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// setupDispatcher builds the channel adapters, notifiers and the scheduler.
// connectCtx bounds startup connections, runCtx lives until shutdown.
func (a *App) setupDispatcher(connectCtx, runCtx context.Context) (*dispatch.Handler, error) {
	cfg := a.config

	dispatchConfig, err := cfg.DispatchConfig()
	if err != nil {
		return nil, err
	}

	var senders []dispatch.Sender

	if cfg.Channels.Official.Enabled {
		senders = append(senders, official.NewSender(official.Config{
			BaseURL:      cfg.Channels.Official.BaseURL,
			APIVersion:   cfg.Channels.Official.APIVersion,
			RateLimit:    cfg.Channels.Official.RateLimit,
			Timeout:      cfg.Channels.Official.Timeout,
			MediaBaseURL: cfg.Channels.Official.MediaBaseURL,
		}))
	}

	if cfg.Channels.Unofficial.Enabled {
		storeURL := cfg.Channels.Unofficial.StoreURL
		if storeURL == "" {
			storeURL = cfg.Database.URL
		}
		a.sessions, err = unofficial.NewSessions(connectCtx, storeURL)
		if err != nil {
			return nil, fmt.Errorf("open whatsapp sessions: %w", err)
		}
		senders = append(senders, unofficial.NewSender(unofficial.Config{
			MediaRoot:     cfg.Channels.Unofficial.MediaRoot,
			MaxMediaBytes: cfg.Channels.Unofficial.MaxMediaBytes,
			RateLimit:     cfg.Channels.Unofficial.RateLimit,
		}, a.sessions))
	}

	notifiers := []dispatch.Notifier{dispatch.LogNotifier{}}
	if cfg.AMQP.Enabled {
		a.publisher, err = progressamqp.Dial(progressamqp.Config{
			URL:              cfg.AMQP.URL,
			Exchange:         cfg.AMQP.Exchange,
			RoutingKeyPrefix: cfg.AMQP.RoutingKeyPrefix,
			BufferSize:       cfg.AMQP.BufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("connect progress publisher: %w", err)
		}
		notifiers = append(notifiers, a.publisher)
	}

	repo := dispatchpostgres.NewRepository(a.db)
	opts := []dispatch.Option{dispatch.WithAnalytics(repo)}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.ledger = redisledger.New(a.redis, cfg.Redis.KeyPrefix)
		if err := a.ledger.Ping(connectCtx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		opts = append(opts, dispatch.WithUsageLedger(a.ledger))
	}

	slog.Info("dispatcher configured",
		"enabled", cfg.Dispatcher.Enabled,
		"official_enabled", cfg.Channels.Official.Enabled,
		"unofficial_enabled", cfg.Channels.Unofficial.Enabled,
		"redis_enabled", cfg.Redis.Enabled,
		"amqp_enabled", cfg.AMQP.Enabled,
		"timezone", dispatchConfig.Location.String(),
	)

	var status dispatch.StatusProvider
	if cfg.Dispatcher.Enabled {
		a.scheduler = dispatch.NewScheduler(dispatchConfig, repo, dispatch.NewRegistry(senders...), dispatch.Notifiers(notifiers...), opts...)
		status = a.scheduler
	}

	go a.collectQueueMetrics(runCtx, repo)

	return dispatch.NewHandler(dispatch.NewService(repo, status)), nil
}

// Run starts the dispatcher and the HTTP servers.
func (a *App) Run() error {
	if a.scheduler != nil {
		if err := a.scheduler.Start(context.Background()); err != nil {
			return fmt.Errorf("start dispatcher: %w", err)
		}
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops the dispatcher, drains in-flight batches, then closes the
// servers and backends.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := a.closeBackends(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeBackends(ctx context.Context) error {
	var errs []error

	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress publisher: %w", err))
		}
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close whatsapp sessions: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo dispatch.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			counts, err := repo.CompanyQueueCounts(ctx, "")
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			dispatch.RecordQueueStats(counts)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter(dispatchHandler *dispatch.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	r.Use(httputil.CORSMiddleware(a.config.Server.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		dispatchHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "database", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if a.ledger != nil {
		if err := a.ledger.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "redis", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", "campaign-dispatcher")
}
