package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Alias1177/doublewatch/internal/notify"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Answer Telegram chat commands from the stored history",
	Long: `Run an interactive Telegram bot that replies to /signal, /stats and /history.
It reads the same store the collector writes to and can run next to serve.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.TelegramToken == "" {
			return errors.New("TELEGRAM_BOT_TOKEN not set in environment")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		b, api, err := notify.NewBot(cfg.TelegramToken, cfg.WindowSize, store)
		if err != nil {
			return err
		}
		return b.Run(ctx, api)
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}
