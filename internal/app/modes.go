package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/paperledger/internal/server"
	"github.com/alanyoungcy/paperledger/internal/server/handler"
	"github.com/alanyoungcy/paperledger/internal/server/ws"
)

// ServerMode runs the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// FullMode runs server mode plus the scheduled archive export.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)

	if deps.Archiver != nil {
		if err := a.startArchiveJob(ctx, g, deps); err != nil {
			return err
		}
	} else {
		a.logger.InfoContext(ctx, "archive disabled")
	}

	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *Services) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, a.logger),
		Trades:      handler.NewTradeHandler(svcs.Trades, a.logger),
		Positions:   handler.NewPositionHandler(svcs.Positions, a.logger),
		Performance: handler.NewPerformanceHandler(svcs.Performance, a.logger),
		Stock:       handler.NewStockHandler(svcs.Prices, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveJob schedules the archive export on the configured cron
// expression. Runs never overlap.
func (a *App) startArchiveJob(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(a.logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	_, err := c.AddFunc(a.cfg.Archive.Cron, func() {
		before := time.Now().UTC().Add(-retention)
		start := time.Now()
		if err := deps.Archiver.Run(ctx, before); err != nil {
			a.logger.ErrorContext(ctx, "archive job failed",
				slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)),
			)
			return
		}
		a.logger.InfoContext(ctx, "archive job completed", slog.Duration("elapsed", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("app: schedule archive %q: %w", a.cfg.Archive.Cron, err)
	}

	g.Go(func() error {
		c.Start()
		a.logger.InfoContext(ctx, "archive job scheduled", slog.String("cron", a.cfg.Archive.Cron))
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})
	return nil
}
