package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/brandscope/config"
	"github.com/mohammad-safakhou/brandscope/internal/analysis"
	"github.com/mohammad-safakhou/brandscope/internal/functions"
	"github.com/mohammad-safakhou/brandscope/internal/gateway"
	"github.com/mohammad-safakhou/brandscope/internal/llm"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/mohammad-safakhou/brandscope/internal/navguard"
	"github.com/mohammad-safakhou/brandscope/internal/news"
	"github.com/mohammad-safakhou/brandscope/internal/session"
	"github.com/mohammad-safakhou/brandscope/internal/store"
	"github.com/mohammad-safakhou/brandscope/internal/trends"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// App holds every wired component of a running service.
type App struct {
	Handler  *Handler
	Gateway  *gateway.Gateway
	Store    *store.Store
	Redis    *redis.Client
	Invoker  *functions.Invoker
	Sessions session.Store
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

// Build wires the service from cfg. Postgres and Redis are only dialled when
// configured.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	log = logging.OrDiscard(log)
	app := &App{}

	if cfg.Functions.BaseURL != "" {
		app.Invoker = functions.NewInvoker(functions.Config{
			BaseURL:       cfg.Functions.BaseURL,
			APIKey:        cfg.Functions.APIKey,
			Timeout:       cfg.Functions.Timeout,
			MaxRetries:    cfg.Functions.MaxRetries,
			RatePerSecond: cfg.Functions.RatePerSecond,
			Burst:         cfg.Functions.Burst,
		}, log)
	}

	var completer llm.Completer
	switch cfg.LLM.Transport {
	case "function":
		if app.Invoker == nil {
			return nil, errors.New("llm.transport function requires functions.base_url")
		}
		completer = functions.NewCompleter(app.Invoker)
	default:
		completer = llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout, log)
	}
	app.Gateway = gateway.New(completer, gateway.Config{
		Timeout:      cfg.Gateway.Timeout,
		MaxRetries:   cfg.Gateway.MaxRetries,
		CacheTTL:     cfg.Gateway.CacheTTL,
		BackoffBase:  cfg.Gateway.BackoffBase,
		BackoffLimit: cfg.Gateway.BackoffLimit,
	}, log)

	if cfg.Storage.Redis.Enabled() {
		rdb, err := session.Conn(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
		if err != nil {
			if cfg.Session.Backend == "redis" {
				return nil, err
			}
			log.WithError(err).Warn("redis unavailable, scheduler locks disabled")
		} else {
			app.Redis = rdb
		}
	}
	if cfg.Session.Backend == "redis" {
		app.Sessions = session.NewRedisStore(app.Redis, cfg.Session.TTL)
	} else {
		app.Sessions = session.NewMemoryStore(cfg.Session.TTL)
	}

	if cfg.Storage.Postgres.Enabled() && cfg.Analysis.Archive {
		st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("archive: %w", err)
		}
		app.Store = st
	}

	// typed nils must not leak into the optional interfaces
	var (
		archive   analysis.Archive
		snapshots trends.SnapshotArchive
		history   History
		fn        analysis.Functions
		caller    FunctionCaller
	)
	if app.Store != nil {
		archive, snapshots, history = app.Store, app.Store, app.Store
	}
	if app.Invoker != nil {
		fn, caller = app.Invoker, app.Invoker
	}

	var supplement news.Source
	if cfg.News.Supplemental {
		supplement = news.NewSupplementer(app.Gateway)
	}
	feed := news.NewFetcher(cfg.News.FeedURL, cfg.News.Language, cfg.News.FetchTimeout)

	tracker := navguard.NewTracker(app.Sessions, cfg.Navigation.PendingTimeout)
	navLog := log.WithField("component", "navguard")
	tracker.Subscribe(func(c navguard.Change) {
		navLog.WithFields(logrus.Fields{"session": c.SessionID, "pending": c.Pending, "url": c.URL}).Debug("navigation state changed")
	})

	app.Handler = &Handler{
		Analyzer:      analysis.New(app.Gateway, fn, app.Sessions, archive, analysis.Config{DetailStagger: cfg.Analysis.DetailStagger}, log),
		News:          news.NewService(feed, supplement, app.Sessions, cfg.News.MaxItems, log),
		Trends:        trends.NewRefresher(app.Gateway, app.Sessions, snapshots, log),
		Functions:     caller,
		Gateway:       app.Gateway,
		Sessions:      app.Sessions,
		Tracker:       tracker,
		History:       history,
		Tokens:        NewTokens([]byte(cfg.Server.JWTSecret), cfg.Server.TokenTTL),
		SecureCookies: cfg.Server.SecureCookies,
		Log:           log,
	}
	return app, nil
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	log = logging.OrDiscard(log)
	if cfg.Storage.Postgres.Enabled() && cfg.Analysis.Archive {
		if err := Migrate(DefaultMigrations, cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	app, err := Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Trends.SchedulerEnabled && app.Store != nil {
		sched := &Scheduler{
			Archive:  app.Store,
			Refresh:  trends.NewRefresher(app.Gateway, nil, app.Store, log),
			Cron:     cfg.Trends.RefreshCron,
			Interval: cfg.Trends.TickInterval,
			Window:   cfg.Trends.TrackedWindow,
			LockTTL:  cfg.Trends.LockTTL,
			Log:      log,
		}
		if app.Redis != nil {
			sched.Rdb = app.Redis
		}
		sched.Start(ctx)
	}

	e := NewEcho(app.Handler, cfg.Server.AllowOrigins, cfg.Telemetry.MetricsEnabled)
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Address).Info("listening")
		errCh <- e.Start(cfg.Server.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	app.Gateway.CancelAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
