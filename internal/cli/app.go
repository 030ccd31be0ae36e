package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/softmatch/internal/config"
	"github.com/devrev/softmatch/internal/handler"
	"github.com/devrev/softmatch/internal/health"
	"github.com/devrev/softmatch/internal/matching"
	"github.com/devrev/softmatch/internal/metrics"
	"github.com/devrev/softmatch/internal/notify"
	"github.com/devrev/softmatch/internal/queue"
	"github.com/devrev/softmatch/internal/scenario"
	"github.com/devrev/softmatch/internal/server"
	"github.com/devrev/softmatch/internal/service"
	"github.com/devrev/softmatch/internal/stats"
	"github.com/devrev/softmatch/internal/util/workerpool"
	"github.com/devrev/softmatch/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App is a fully wired matchmaker process
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *workerpool.Pool
	svc      *service.MatchmakingService
	presence *service.PresenceService
	health   *health.HealthCheck
	server   *server.Server

	closers []func() error
}

// NewApp connects the configured backends and wires every component
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)
	hc := health.NewHealthCheck(logger)

	notifier, err := app.openNotifier(hc)
	if err != nil {
		app.close()
		return nil, err
	}
	recorder, err := app.openRecorder(ctx, hc)
	if err != nil {
		app.close()
		return nil, err
	}

	app.pool = workerpool.New(workerpool.Config{
		Name:       "delivery",
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		JobTimeout: cfg.Dispatch.JobTimeout,
		Logger:     logger,
	})

	brackets := Brackets(cfg)
	store := queue.NewStore(validation.NewValidator(Limits(cfg)), queue.WithLogger(logger))
	delivery := service.NewDelivery(notifier, app.pool, m, logger)
	app.svc = service.NewMatchmakingService(store, matching.NewMatcher(Rules(cfg)), delivery, recorder, m, ServiceConfig(cfg), logger)
	app.presence = service.NewPresenceService(app.svc, delivery, PresenceConfig(cfg), logger)

	errorHandler := handler.NewErrorHandler(logger)
	handlers := handler.NewHandlers(app.svc, app.presence, brackets, errorHandler, logger, cfg.Server.WriteTimeout)
	admin := handler.NewAdminHandlers(app.svc, scenario.NewRunner(app.svc, brackets, logger), brackets,
		recorder, Schedule(cfg), errorHandler, logger, cfg.Server.WriteTimeout)

	app.health = hc
	app.server = server.NewServer(cfg, handlers, admin, hc, errorHandler, m, reg, logger)
	app.server.SetupRoutes()
	return app, nil
}

func (a *App) openNotifier(hc *health.HealthCheck) (notify.Notifier, error) {
	switch a.cfg.Notify.Driver {
	case "redis":
		client, err := notify.NewRedisClient(a.cfg.RedisAddr(), a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		n := notify.NewRedisNotifier(client, a.cfg.Notify.Prefix, a.logger)
		hc.Register("redis", n.Ping)
		a.logger.Info("Redis notifier initialized", zap.String("addr", a.cfg.RedisAddr()))
		return n, nil
	default:
		a.logger.Info("Log notifier initialized")
		return notify.NewLogNotifier(a.logger), nil
	}
}

func (a *App) openRecorder(ctx context.Context, hc *health.HealthCheck) (stats.Recorder, error) {
	switch a.cfg.Stats.Driver {
	case "sqlite":
		rec, err := stats.OpenSQLite(a.cfg.Stats.SQLitePath, Schedule(a.cfg), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rec.Close)
		hc.Register("stats", rec.Ping)
		a.logger.Info("SQLite recorder initialized", zap.String("path", a.cfg.Stats.SQLitePath))
		return rec, nil
	case "postgres":
		rec, err := stats.NewPostgresRecorder(ctx, PostgresConfig(a.cfg), Schedule(a.cfg), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { rec.Close(); return nil })
		hc.Register("stats", rec.Ping)
		a.logger.Info("PostgreSQL recorder initialized", zap.String("host", a.cfg.Database.Host))
		return rec, nil
	default:
		a.logger.Info("Completion records are discarded")
		return &stats.Discard{}, nil
	}
}

// Run serves HTTP and runs the presence watchdog until ctx is cancelled, then
// shuts everything down in order
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.Start)

	if a.cfg.Presence.Enabled {
		g.Go(func() error {
			return a.presence.Run(gctx)
		})
	} else {
		// sessions still need to expire without the watchdog
		g.Go(func() error {
			return a.presence.RunExpiry(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.health.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.pool.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	a.health.SetReady(true)
	a.logger.Info("Matchmaker started", zap.String("addr", a.cfg.Addr()))

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
