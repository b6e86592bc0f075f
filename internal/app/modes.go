package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/notify"
	"github.com/streamwager/wagerd/internal/server"
	"github.com/streamwager/wagerd/internal/server/handler"
	"github.com/streamwager/wagerd/internal/server/ws"
	"github.com/streamwager/wagerd/internal/service"
)

// leaderLockKey guards the mirror: at most one serving engine instance
// writes through to a given Postgres/Redis pair.
const leaderLockKey = "wagerd:leader"

const leaderLockTTL = 30 * time.Second

// holdLeaderLock acquires the leader lock and keeps renewing it until ctx is
// done. Renewals run at a third of the TTL so two misses still leave slack
// before expiry. A failed renewal means leadership is gone and the whole
// serve group must stop, so the error is returned rather than retried.
func holdLeaderLock(ctx context.Context, lm domain.LockManager, key string, ttl time.Duration, logger *slog.Logger) error {
	lease, err := lm.Acquire(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("acquire leader lock: %w", err)
	}
	defer lease.Release()
	logger.InfoContext(ctx, "leader lock acquired", slog.String("key", key))

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lease.Renew(ctx); err != nil {
				return fmt.Errorf("renew leader lock: %w", err)
			}
		}
	}
}

// ServeMode runs the ledger engine behind the HTTP and websocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	return g.Wait()
}

// AnnounceMode runs only the chat announcer: it consumes committed engine
// events from the signal bus and relays them to the configured senders.
func (a *App) AnnounceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting announce mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startAnnouncer(ctx, g, deps); err != nil {
		return fmt.Errorf("announce mode: %w", err)
	}
	return g.Wait()
}

// ArchiveMode runs the cold archive exporter on a daily cycle. Markets in a
// terminal state older than the retention window are exported to object
// storage as JSONL, together with the audit log.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs every subsystem: the API, the announcer, and the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	if err := a.startAnnouncer(ctx, g, deps); err != nil {
		a.logger.WarnContext(ctx, "full mode: announcer disabled",
			slog.String("error", err.Error()))
	}
	if err := a.startArchiver(ctx, g, deps); err != nil {
		a.logger.WarnContext(ctx, "full mode: archiver disabled",
			slog.String("error", err.Error()))
	}
	return g.Wait()
}

// startAPI adds the HTTP server (and websocket hub when Redis is wired) to
// the errgroup. When a lock manager is available it first takes the leader
// lock so only one instance serves writes against the shared mirror.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.LockManager != nil {
		g.Go(func() error {
			return holdLeaderLock(ctx, deps.LockManager, leaderLockKey, leaderLockTTL, a.logger)
		})
	}

	var marketSvc *service.MarketService
	if deps.MarketStore != nil {
		marketSvc = service.NewMarketService(
			deps.MarketStore, deps.StakeStore, deps.AuditStore, deps.MarketCache, a.logger,
		)
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(deps.Engine, a.cfg.Mode, time.Now().UTC(), a.logger),
		Markets: handler.NewMarketHandler(deps.Engine, marketSvc, a.logger),
		Bets:    handler.NewBetHandler(deps.Engine, a.logger),
		Claims:  handler.NewClaimHandler(deps.Engine, a.logger),
		Admins:  handler.NewAdminHandler(deps.Engine, a.logger),
	}
	if deps.SignalBus != nil {
		handlers.Events = handler.NewEventsHandler(deps.SignalBus, a.cfg.Events.Stream, a.logger)
	}
	if deps.Bank != nil {
		handlers.Bank = handler.NewBankHandler(deps.Bank, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Events.Channel, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	rateWindow, err := time.ParseDuration(a.cfg.Server.RateWindow)
	if err != nil || rateWindow <= 0 {
		rateWindow = time.Second
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  rateWindow,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startAnnouncer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.SignalBus == nil {
		return fmt.Errorf("announcer requires redis signal bus")
	}
	announcer := notify.NewAnnouncer(deps.SignalBus, deps.Notifier, a.cfg.Events.Channel, a.logger)
	g.Go(func() error {
		return announcer.Run(ctx)
	})
	return nil
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archiver requires s3 blob storage and postgres stores")
	}

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	runOnce := func() {
		before := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveSettled(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive settled markets failed",
				slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "archived settled markets", slog.Int64("markets", n))
		}
		n, err = deps.Archiver.ArchiveAuditLog(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive audit log failed",
				slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "archived audit log", slog.Int64("entries", n))
		}
	}

	g.Go(func() error {
		runOnce()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})
	return nil
}
