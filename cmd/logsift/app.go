package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"logsift/internal/api"
	"logsift/internal/broker"
	"logsift/internal/bulk"
	"logsift/internal/config"
	"logsift/internal/constants"
	"logsift/internal/hub"
	"logsift/internal/index"
	"logsift/internal/ingest"
	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/store"
	"logsift/internal/syslog"
	"logsift/pkg/bootstrap"
	"logsift/pkg/cel"
	"logsift/pkg/health"
	"logsift/pkg/metrics"
	"logsift/pkg/ratelimit"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redis       redis.UniversalClient
	postgres    *sql.DB

	engine    *index.SQLiteEngine
	store     *store.Store
	pipeline  *ingest.Pipeline
	receivers []*ingest.Receiver
	forwarder *broker.Forwarder

	realtime *hub.Hub[record.Record]
	jobs     *hub.Hub[bulk.Payload]
	bulk     *bulk.Orchestrator

	health *health.CheckerRegistry
	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		realtime:    hub.New[record.Record]("realtime"),
		jobs:        hub.New[bulk.Payload]("job"),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterSyslogMetrics()
	metrics.RegisterIndexMetrics()
	metrics.RegisterJobMetrics()
	metrics.RegisterAPIMetrics()

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initIndex(ctx); err != nil {
		return fmt.Errorf("failed to initialize index: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	if a.Publisher != nil || a.Consumer != nil {
		metrics.RegisterBrokerMetrics()
		if a.Config.CircuitBreaker.Enabled {
			metrics.RegisterCircuitBreakerMetrics()
		}
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initBulk(ctx); err != nil {
		return fmt.Errorf("failed to initialize bulk jobs: %w", err)
	}

	if err := a.initReceivers(ctx); err != nil {
		return fmt.Errorf("failed to initialize receivers: %w", err)
	}

	a.initHTTPServer(ctx)
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.postgres = db

	if a.redis != nil {
		a.health.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.postgres != nil {
		a.health.RegisterOptional(health.NewPostgreSQLChecker(a.postgres))
	}
	return nil
}

func (a *App) initIndex(ctx context.Context) error {
	path := a.Config.Index.Path
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating index directory: %w", err)
		}
	}

	engine, err := index.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	a.engine = engine
	a.store = store.New(engine, a.Logger)
	a.health.Register(health.NewPingChecker("index", engine))

	a.Logger.InfowCtx(ctx, "Index opened", "path", path)
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	def, byAddr, err := a.Config.SyslogZones()
	if err != nil {
		return err
	}
	parser := syslog.NewParser(syslog.WithZoneResolver(ingest.ZoneResolver(def, byAddr)))
	a.pipeline = ingest.NewPipeline(parser, a.store, a.Logger)

	a.pipeline.AddListener("realtime", func(_ context.Context, rec record.Record) {
		a.realtime.Broadcast(rec)
	})

	var filter *cel.Filter
	if expr := a.Config.Syslog.Listener; expr != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return err
		}
		filter, err = evaluator.CompileFilter(expr)
		if err != nil {
			return fmt.Errorf("invalid listener expression: %w", err)
		}
		a.pipeline.AddListener("listener", ingest.Hook("listener", filter, ingest.LogMatches(a.Logger), a.Logger))
		a.Logger.InfowCtx(ctx, "Listener expression enabled", "expression", expr)
	}

	if a.Publisher != nil {
		a.forwarder = broker.NewForwarder(a.Publisher, constants.KafkaForwardBuffer, a.Logger)
		a.pipeline.AddListener("kafka", ingest.Hook("kafka", filter, a.forwarder.Listener(), a.Logger))
	}
	return nil
}

func (a *App) initBulk(ctx context.Context) error {
	opts := bulk.Options{
		WorkDir:          a.Config.Bulk.WorkDir,
		ChunkSize:        a.Config.Bulk.ChunkSize,
		ProgressInterval: a.Config.Bulk.ProgressInterval,
	}
	if a.postgres != nil {
		opts.Postgres = bulk.NewPostgresTarget(a.postgres, a.Config.Database.Postgres.Table)
	}

	def, byAddr, err := a.Config.SyslogZones()
	if err != nil {
		return err
	}
	parser := syslog.NewParser(syslog.WithZoneResolver(ingest.ZoneResolver(def, byAddr)))

	orch, err := bulk.New(a.store, parser, opts, a.Logger)
	if err != nil {
		return err
	}
	orch.AddSink(bulk.SinkFunc(func(_ context.Context, p bulk.Payload) {
		a.jobs.Broadcast(p)
	}))
	if a.redis != nil {
		orch.AddSink(bulk.NewRedisMirror(a.redis, a.Config.Database.Redis, a.Logger))
	}
	a.bulk = orch

	a.Logger.InfowCtx(ctx, "Bulk jobs ready", "work_dir", opts.WorkDir, "postgres_export", opts.Postgres != nil)
	return nil
}

// initReceivers binds every syslog port before anything runs, so a port
// that cannot be bound stops startup. A socket that fails later only
// degrades health.
func (a *App) initReceivers(ctx context.Context) error {
	for _, port := range a.Config.Syslog.Ports {
		r := ingest.NewReceiver(a.Config.Syslog.Bind, port, a.pipeline, a.Logger)
		if err := r.Listen(ctx); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "Syslog receiver bound", "addr", r.LocalAddr().String())
		a.health.RegisterOptional(r)
		a.receivers = append(a.receivers, r)
	}
	return nil
}

func (a *App) initHTTPServer(ctx context.Context) {
	var limiter *ratelimit.Limiter
	if rl := a.Config.RateLimit; rl.Enabled {
		limiter = ratelimit.New(ctx, ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		})
	}

	handler := api.NewHandler(api.Deps{
		Store:    a.store,
		Bulk:     a.bulk,
		Realtime: a.realtime,
		Jobs:     a.jobs,
		Health:   a.health,
		Settings: a.Config.Settings(),
		Zone:     a.Config.ServerZone(),
		Logger:   a.Logger,
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      api.NewRouter(handler, limiter),
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

// Run serves until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	for _, r := range a.receivers {
		g.Go(func() error {
			return r.Run(gCtx)
		})
	}

	if a.forwarder != nil {
		g.Go(func() error {
			return a.forwarder.Run(gCtx)
		})
	}

	if a.Consumer != nil {
		topic := a.Config.Broker.Kafka.InputTopic
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Consuming syslog from Kafka", "topic", topic)
			return a.Consumer.Consume(gCtx, topic, func(mCtx context.Context, pkt syslog.RawPacket) error {
				_, err := a.pipeline.Ingest(mCtx, 0, pkt)
				return err
			})
		})
	}

	return g.Wait()
}

// Shutdown stops the receivers, waits for running bulk jobs and closes the
// hubs, the index and the external clients.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error

		for _, r := range a.receivers {
			r.Stop()
		}

		if a.bulk != nil && !a.bulk.Wait(constants.JoinTimeout) {
			a.Logger.WarnwCtx(ctx, "Bulk jobs still running at shutdown", "timeout", constants.JoinTimeout)
		}

		a.realtime.Close()
		a.jobs.Close()

		if a.engine != nil {
			if err := a.engine.Close(); err != nil {
				errs = append(errs, fmt.Errorf("index close error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis, a.postgres)...)
		return errs
	})
}
