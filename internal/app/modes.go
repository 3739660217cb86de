package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// MonitorMode polls, detects, and records opportunities without ever
// submitting a settlement.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "monitor mode: detection only, no settlements")
	return deps.Engine.Run(ctx)
}

// TradeMode runs the full arbitrage loop: detected opportunities are settled
// through the flash-loan ledger.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "trade mode: settling detected opportunities")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Engine.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	return g.Wait()
}

// WatchMode settles only watcher proposals from the mempool feed; the
// monitoring loop still runs for quotes and gas but detection-driven
// settlements go through the same engine gates.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if deps.Watcher == nil {
		a.logger.WarnContext(ctx, "watch mode requested but watcher is disabled in config")
		return deps.Engine.Run(ctx)
	}
	a.logger.InfoContext(ctx, "watch mode: settling mempool proposals")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Watcher.Run(ctx) })
	g.Go(func() error { return deps.Engine.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	return g.Wait()
}

// FullMode runs everything: the arbitrage loop, the mempool watcher, and
// archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "full mode: arbitrage, watcher, and archival")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Engine.Run(ctx) })
	if deps.Watcher != nil {
		g.Go(func() error { return deps.Watcher.Run(ctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutdown signal received", slog.String("reason", ctx.Err().Error()))
		return ctx.Err()
	})
	return g.Wait()
}
