package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Alias1177/doublewatch/internal/api"
	"github.com/Alias1177/doublewatch/internal/collector"
	"github.com/Alias1177/doublewatch/internal/feed"
	"github.com/Alias1177/doublewatch/internal/metrics"
	"github.com/Alias1177/doublewatch/internal/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the collector",
	Long: `Run the HTTP API. The collector starts right away when AUTO_START=true,
otherwise through POST /api/collector/start.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()

	var sinks []collector.Sink
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := feed.NewPublisher(feed.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	if cfg.TelegramToken != "" {
		n, err := notify.NewNotifier(cfg.TelegramToken, notify.Config{
			ChatID:        cfg.TelegramChatID,
			MinConfidence: cfg.TelegramMinConf,
			WindowSize:    cfg.WindowSize,
			MinInterval:   cfg.TelegramInterval,
		}, store)
		if err != nil {
			// Signals are optional; collection still runs without them.
			log.Error().Err(err).Msg("Telegram notifier disabled")
		} else {
			sinks = append(sinks, n)
		}
	}

	sup, err := newSupervisor(store, m, sinks...)
	if err != nil {
		return err
	}

	if cfg.AutoStart {
		if err := sup.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Auto start failed, collector left stopped")
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Store:        store,
			Collector:    sup,
			Metrics:      m,
			JWTSecret:    cfg.JWTSecret,
			CORSOrigins:  cfg.CORSOrigins,
			WindowSize:   cfg.WindowSize,
			HistoryLimit: cfg.RetentionCeiling,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown")
		}
		if err := sup.Stop(); err != nil {
			log.Warn().Err(err).Msg("Collector shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}
	return nil
}
