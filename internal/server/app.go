// Package server builds the coordinator's dependencies and runs its long-lived processes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-coordinator/internal/api"
	"github.com/JakeFAU/crawl-coordinator/internal/clock"
	"github.com/JakeFAU/crawl-coordinator/internal/config"
	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
	"github.com/JakeFAU/crawl-coordinator/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/crawl-coordinator/internal/fetcher/colly"
	"github.com/JakeFAU/crawl-coordinator/internal/id/token"
	"github.com/JakeFAU/crawl-coordinator/internal/logging"
	"github.com/JakeFAU/crawl-coordinator/internal/metrics"
	"github.com/JakeFAU/crawl-coordinator/internal/parser"
	kafkafrontier "github.com/JakeFAU/crawl-coordinator/internal/queue/kafka"
	queueMemory "github.com/JakeFAU/crawl-coordinator/internal/queue/memory"
	pubsubfrontier "github.com/JakeFAU/crawl-coordinator/internal/queue/pubsub"
	memoryStorage "github.com/JakeFAU/crawl-coordinator/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-coordinator/internal/storage/postgres"
	redisstore "github.com/JakeFAU/crawl-coordinator/internal/storage/redis"
	"github.com/JakeFAU/crawl-coordinator/internal/telemetry"
	"github.com/JakeFAU/crawl-coordinator/internal/worker"
)

// Mode selects which processes an App runs.
type Mode struct {
	API     bool
	Workers bool
}

// Common modes.
var (
	ModeAll    = Mode{API: true, Workers: true}
	ModeAPI    = Mode{API: true}
	ModeWorker = Mode{Workers: true}
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	mode      Mode
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	frontier  crawler.Queue
	ledger    crawler.Ledger
	gate      crawler.DedupGate
	clock     crawler.Clock
	checks    []api.ReadinessCheck
	// runners are extra background loops tied to the frontier, such as a Pub/Sub receiver.
	runners []func(ctx context.Context) error
	closers []func() error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, mode Mode) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     "crawl-coordinator",
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, mode: mode, logger: logger, clock: clock.NewSystem()}

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: "crawl-coordinator",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.closers = append(app.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})
	app.logger.Info("building application dependencies",
		zap.Bool("api", mode.API),
		zap.Bool("workers", mode.Workers),
		zap.String("frontier", cfg.Frontier.Backend),
		zap.String("store", cfg.Store.Backend),
	)

	if err := app.setupStore(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.setupFrontier(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if mode != ModeAll && (cfg.Frontier.Backend == config.BackendMemory || cfg.Store.Backend == config.BackendMemory) {
		app.logger.Warn("in-memory backends are process-local; api and worker processes will not share state")
	}

	app.dispatch = app.setupDispatcher()
	if mode.API {
		app.apiServer = api.NewServer(
			app.ledger,
			app.gate,
			app.dispatch,
			token.New(token.DefaultLength),
			app.clock,
			*cfg,
			logger,
			app.checks...,
		)
	}
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendRedis:
		rc := a.cfg.Store.Redis
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{rc.Addr},
			Password: rc.Password,
			DB:       rc.DB,
		})
		a.closers = append(a.closers, client.Close)
		ttl := time.Duration(rc.TTLHours) * time.Hour
		a.ledger = redisstore.NewLedger(client, rc.KeyPrefix, ttl)
		a.gate = redisstore.NewClaims(client, rc.KeyPrefix, ttl)
		a.checks = append(a.checks, func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		})
		a.logger.Info("using redis store", zap.String("addr", rc.Addr), zap.Duration("ttl", ttl))
	case config.BackendPostgres:
		pc := a.cfg.Store.Postgres
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:      pc.DSN,
			MaxConns: int32(pc.MaxConns),
			MinConns: int32(pc.MinConns),
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.ledger = store
		a.gate = store
		a.logger.Info("using postgres store")
	default:
		a.ledger = memoryStorage.NewLedger()
		a.gate = memoryStorage.NewClaims()
		a.logger.Info("using in-memory store")
	}
	return nil
}

func (a *App) setupFrontier(ctx context.Context) error {
	switch a.cfg.Frontier.Backend {
	case config.BackendKafka:
		kc := a.cfg.Frontier.Kafka
		frontier, err := kafkafrontier.New(kafkafrontier.Config{
			Brokers: kc.Brokers,
			Topic:   kc.Topic,
			GroupID: kc.GroupID,
			Retry:   a.cfg.RetryPolicy(),
		}, a.logger)
		if err != nil {
			return fmt.Errorf("kafka frontier init failed: %w", err)
		}
		a.frontier = frontier
		a.closers = append(a.closers, frontier.Close)
		a.logger.Info("using kafka frontier", zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.Topic))
	case config.BackendPubSub:
		pc := a.cfg.Frontier.PubSub
		frontier, err := pubsubfrontier.New(ctx, pubsubfrontier.Config{
			ProjectID:      pc.ProjectID,
			Topic:          pc.Topic,
			Subscription:   pc.Subscription,
			MaxOutstanding: pc.MaxOutstanding,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("pubsub frontier init failed: %w", err)
		}
		a.frontier = frontier
		a.closers = append(a.closers, frontier.Close)
		if a.mode.Workers {
			a.runners = append(a.runners, frontier.Start)
		}
		a.logger.Info("using pubsub frontier", zap.String("project", pc.ProjectID), zap.String("topic", pc.Topic))
	default:
		q := queueMemory.NewQueue(a.cfg.Frontier.QueueDepth)
		a.frontier = q
		a.closers = append(a.closers, func() error {
			q.Close()
			return nil
		})
		a.logger.Info("using in-memory frontier", zap.Int("queue_depth", a.cfg.Frontier.QueueDepth))
	}
	return nil
}

func (a *App) setupDispatcher() *dispatcher.Dispatcher {
	retry := a.cfg.RetryPolicy()
	if !a.mode.Workers {
		return dispatcher.New(a.frontier, nil, retry)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.Fetcher.UserAgent,
		Timeout:     a.cfg.FetchTimeout(),
		MaxBodySize: a.cfg.Fetcher.MaxBodyBytes,
	})
	links := parser.New()
	workerCfg := worker.Config{
		FetchTimeout: a.cfg.FetchTimeout(),
		Retry:        retry,
	}
	a.logger.Info("worker config",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.Duration("fetch_timeout", workerCfg.FetchTimeout),
		zap.Int("max_retries", retry.MaxRetries),
	)

	workers := make([]*worker.Worker, 0, a.cfg.Worker.Concurrency)
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			i,
			a.frontier,
			a.frontier,
			a.ledger,
			a.gate,
			fetcher,
			links,
			a.clock,
			workerCfg,
			a.logger.Named("worker"),
		))
	}
	return dispatcher.New(a.frontier, workers, retry)
}

// Run starts the configured processes and blocks until the context is canceled or a
// process fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range a.runners {
		g.Go(func() error {
			if err := run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("frontier receiver: %w", err)
			}
			return nil
		})
	}

	if a.mode.Workers {
		g.Go(func() error {
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
			a.dispatch.Run(gctx)
			a.logger.Info("dispatcher stopped")
			return nil
		})
	}

	if a.apiServer != nil {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("shutdown initiated")
	a.Close()
	return err
}

// Close releases every backend connection and flushes the logger.
func (a *App) Close() {
	a.closeAll()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSeconds > 0 {
		return time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// Handler exposes the API router, or nil when the API is not part of this mode.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return nil
	}
	return a.apiServer.Handler()
}
