package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/doublewatch/internal/analyze"
	"github.com/Alias1177/doublewatch/models"
)

const (
	buttonSignal  = "Signal"
	buttonStats   = "Stats"
	buttonHistory = "Last rounds"

	historyRows = 10
	pollTimeout = 60
)

// Bot answers chat commands with the current stats and suggestion.
// It only reads the store and never drives the collector.
type Bot struct {
	api    sender
	store  WindowReader
	window int
	logger zerolog.Logger
}

// NewBot logs in with token. window is the number of outcomes the engine
// reads for each answer.
func NewBot(token string, window int, store WindowReader) (*Bot, *tgbotapi.BotAPI, error) {
	api, err := newBotAPI(token, (pollTimeout+15)*time.Second)
	if err != nil {
		return nil, nil, err
	}
	b := newBot(api, window, store)
	b.logger.Info().Str("username", api.Self.UserName).Msg("Authorized on Telegram")
	return b, api, nil
}

func newBot(api sender, window int, store WindowReader) *Bot {
	if window < analyze.MinWindow {
		window = analyze.MinWindow
	}
	return &Bot{
		api:    api,
		store:  store,
		window: window,
		logger: log.With().Str("component", "bot").Logger(),
	}
}

// Run long polls for updates until ctx is done
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := api.GetUpdatesChan(cfg)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			if err := b.Handle(ctx, update.Message); err != nil {
				b.logger.Error().Err(err).Int64("chat_id", update.Message.Chat.ID).Msg("Failed to answer")
			}
		}
	}
}

// Handle answers a single message
func (b *Bot) Handle(ctx context.Context, m *tgbotapi.Message) error {
	if m.Chat == nil {
		return nil
	}
	text, err := b.reply(ctx, m)
	if err != nil {
		text = "Something went wrong, try again later."
		b.logger.Error().Err(err).Msg("Building reply")
	}
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.ReplyMarkup = mainMenu()
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func (b *Bot) reply(ctx context.Context, m *tgbotapi.Message) (string, error) {
	cmd := m.Command()
	if cmd == "" {
		cmd = strings.TrimSpace(m.Text)
	}

	switch cmd {
	case "signal", buttonSignal:
		window, err := b.store.Latest(ctx, b.window)
		if err != nil {
			return "", err
		}
		if len(window) == 0 {
			return "No rounds stored yet.", nil
		}
		return FormatDecision(analyze.Predict(window), window[0]), nil
	case "stats", buttonStats:
		window, err := b.store.Latest(ctx, b.window)
		if err != nil {
			return "", err
		}
		return FormatStats(analyze.Summarize(window)), nil
	case "history", buttonHistory:
		rows, err := b.store.Latest(ctx, historyRows)
		if err != nil {
			return "", err
		}
		return FormatHistory(rows), nil
	default:
		return "Double watch bot. Use /signal for the current suggestion, /stats for the window summary and /history for the last rounds.", nil
	}
}

func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonSignal),
			tgbotapi.NewKeyboardButton(buttonStats),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonHistory),
		),
	)
}

// FormatStats renders window stats as a chat message
func FormatStats(s models.Stats) string {
	if s.Total == 0 {
		return "No rounds stored yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d rounds\n", s.Total)
	fmt.Fprintf(&b, "🔴 %d (%.2f%%)  ⚫ %d (%.2f%%)  ⚪ %d (%.2f%%)\n", s.Reds, s.RedPct, s.Blacks, s.BlackPct, s.Whites, s.WhitePct)
	fmt.Fprintf(&b, "Current run: %d %s\n", s.CurrentRun, s.CurrentRunColor)
	fmt.Fprintf(&b, "Longest run: %d %s\n", s.LongestRun, s.LongestRunColor)
	return b.String()
}

// FormatHistory lists outcomes newest first, one per line
func FormatHistory(rows []models.Outcome) string {
	if len(rows) == 0 {
		return "No rounds stored yet."
	}
	var b strings.Builder
	for _, o := range rows {
		fmt.Fprintf(&b, "%s %s %d\n", o.ObservedAt.UTC().Format("15:04:05"), colorIcons[models.SuggestColor(o.Color)], o.Number)
	}
	return b.String()
}
