package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perp_go/internal/app"
	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/exchange"
	"perp_go/internal/infra"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "net/http/pprof" // For pprof profiling
)

const connectTimeout = 30 * time.Second

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config
	infra.PrintBanner(os.Stdout, cfg)

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Venue Client
	dex, err := bootstrap.NewVenue()
	if err != nil {
		slog.Error("❌ Venue setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dex.Close(); err != nil {
			slog.Error("Venue close failed", slog.Any("error", err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	// 5. Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(bootstrap.Registry, promhttp.HandlerOpts{Registry: bootstrap.Registry}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		slog.Info("📈 Metrics server started", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// 6. Connect. On timeout the worker keeps retrying and subscriptions wait for it.
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	if err := dex.Connect(connectCtx); err != nil {
		slog.Warn("Venue not connected yet", slog.Any("error", err))
	}
	cancel()

	// 7. BBO streams
	for _, coin := range cfg.Stream.Symbols {
		sub, err := dex.Subscribe(ctx, domain.StreamBbo, coin)
		if err != nil {
			slog.Error("Subscribe failed", "coin", coin, slog.Any("error", err))
			continue
		}
		g.Go(func() error { return logBbo(gctx, sub) })
		slog.InfoContext(ctx, "✅ BBO stream subscribed", "coin", coin)
	}

	slog.InfoContext(ctx, "✨ perp-go fully operational. Press Ctrl+C to exit.")

	if err := g.Wait(); err != nil {
		slog.Error("Shutdown with error", slog.Any("error", err))
	}
	slog.Info("👋 Shutting down gracefully...")
}

func logBbo(ctx context.Context, sub exchange.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case event.BboEvent:
				attrs := []any{"coin", e.Coin, "ts", e.Ts}
				if e.Bbo.Bid != nil {
					attrs = append(attrs, "bid", e.Bbo.Bid.Price.String())
				}
				if e.Bbo.Ask != nil {
					attrs = append(attrs, "ask", e.Bbo.Ask.Price.String())
				}
				slog.Info("bbo", attrs...)
			case event.GapEvent:
				slog.Warn("⚠️ stream gap", "coin", e.Coin, "reason", e.Reason)
			case event.OverflowEvent:
				slog.Warn("subscriber behind", "coin", e.Coin, "dropped", e.Dropped)
			case event.DecodeErrorEvent:
				slog.Warn("undecodable frame", "coin", e.Coin, slog.Any("error", e.Err))
			}
		}
	}
}
