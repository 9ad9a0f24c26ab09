package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Alias1177/doublewatch/internal/collector"
	"github.com/Alias1177/doublewatch/internal/config"
	"github.com/Alias1177/doublewatch/internal/database"
	"github.com/Alias1177/doublewatch/internal/metrics"
	"github.com/Alias1177/doublewatch/internal/source"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "doublewatch",
	Short: "Collects double game rounds and suggests the next color",
	Long: `doublewatch reads finished rounds of the double game from its web page,
keeps a bounded deduplicated history and runs a fixed rule table over it.

Configuration comes from the environment (and .env if present).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		setupLogging(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging configures the global logger
func setupLogging(logLevel, format string) {
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log.Logger = log.Output(output)
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
}

func openStore(ctx context.Context) (*database.DB, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Driver:         cfg.DBDriver,
		Host:           cfg.DBHost,
		Port:           cfg.DBPort,
		User:           cfg.DBUser,
		Password:       cfg.DBPassword,
		DBName:         cfg.DBName,
		SSLMode:        cfg.DBSSLMode,
		Path:           cfg.SQLitePath,
		Retention:      cfg.RetentionCeiling,
		DedupTolerance: cfg.DedupTolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func newBrowser() (*source.Browser, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone: %w", err)
	}
	return source.NewBrowser(source.Config{
		URL:                cfg.SourceURL,
		Headless:           cfg.Headless,
		UserAgent:          cfg.UserAgent,
		AcceptLanguage:     cfg.AcceptLanguage,
		Location:           loc,
		NavTimeout:         cfg.NavTimeout,
		WaitTimeout:        cfg.WaitTimeout,
		ClickTimeout:       cfg.ClickTimeout,
		MaxBatch:           cfg.MaxBatch,
		DetailReadInterval: cfg.DetailReadRate,
		Bands:              cfg.Bands(),
		Selectors:          cfg.Selectors(),
	}), nil
}

func newSupervisor(store collector.Store, m *metrics.Metrics, sinks ...collector.Sink) (*collector.Supervisor, error) {
	browser, err := newBrowser()
	if err != nil {
		return nil, err
	}
	return collector.New(collector.Config{
		PollInterval:           cfg.PollInterval,
		MaxConsecutiveTimeouts: cfg.MaxConsecutiveTimeouts,
		ReconnectDelay:         cfg.ReconnectDelay,
		ReconnectMaxDelay:      cfg.ReconnectMaxDelay,
	}, browser, store, m, sinks...), nil
}
