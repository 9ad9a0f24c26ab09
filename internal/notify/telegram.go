package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Alias1177/doublewatch/internal/analyze"
	platformhttp "github.com/Alias1177/doublewatch/internal/platform/http"
	"github.com/Alias1177/doublewatch/models"
)

// Config controls when signals are pushed to the chat
type Config struct {
	ChatID        int64
	MinConfidence int
	WindowSize    int
	MinInterval   time.Duration
}

// WindowReader loads the newest outcomes
type WindowReader interface {
	Latest(ctx context.Context, n int) ([]models.Outcome, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends a Telegram message whenever the engine produces a new
// actionable decision above the confidence threshold.
type Notifier struct {
	cfg     Config
	bot     sender
	store   WindowReader
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu   sync.Mutex
	last models.Decision
}

// NewNotifier logs in to the Bot API with token. Bot API calls go through a
// rate limited client that retries 429 and 5xx responses.
func NewNotifier(token string, cfg Config, store WindowReader) (*Notifier, error) {
	bot, err := newBotAPI(token, 15*time.Second)
	if err != nil {
		return nil, err
	}
	n := newNotifier(bot, cfg, store)
	n.logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifier ready")
	return n, nil
}

// newBotAPI logs in through the rate limited client. timeout must exceed any
// long poll timeout used with the returned API.
func newBotAPI(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	client := platformhttp.NewClient(platformhttp.ClientOptions{
		Timeout:         timeout,
		RequestsPerSec:  1,
		MaxRetryTimeout: 20 * time.Second,
	})
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return bot, nil
}

func newNotifier(bot sender, cfg Config, store WindowReader) *Notifier {
	if cfg.WindowSize < analyze.MinWindow {
		cfg.WindowSize = analyze.MinWindow
	}
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Notifier{
		cfg:     cfg,
		bot:     bot,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  log.With().Str("component", "notify").Logger(),
	}
}

func (n *Notifier) Name() string { return "telegram" }

// Publish re-evaluates the window after new outcomes were stored
func (n *Notifier) Publish(ctx context.Context, outcomes []models.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	window, err := n.store.Latest(ctx, n.cfg.WindowSize)
	if err != nil {
		return fmt.Errorf("loading window: %w", err)
	}
	decision := analyze.Predict(window)

	n.mu.Lock()
	defer n.mu.Unlock()

	if !decision.Actionable() || decision.Confidence < n.cfg.MinConfidence {
		n.last = decision
		return nil
	}
	if sameSignal(n.last, decision) {
		return nil
	}
	if !n.limiter.Allow() {
		n.logger.Debug().Str("rule", decision.Rule).Msg("Signal rate limited")
		return nil
	}

	msg := tgbotapi.NewMessage(n.cfg.ChatID, FormatDecision(decision, outcomes[len(outcomes)-1]))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("sending signal: %w", err)
	}
	n.last = decision
	n.logger.Info().
		Str("suggestion", string(decision.Suggestion)).
		Int("confidence", decision.Confidence).
		Str("rule", decision.Rule).
		Msg("Signal sent")
	return nil
}

func sameSignal(a, b models.Decision) bool {
	return a.Suggestion == b.Suggestion && a.Rule == b.Rule && a.Confidence == b.Confidence
}

var colorIcons = map[models.Suggestion]string{
	models.SuggestRed:   "🔴",
	models.SuggestBlack: "⚫",
	models.SuggestWhite: "⚪",
}

// FormatDecision renders a decision as a plain text chat message
func FormatDecision(d models.Decision, latest models.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Signal: %s (%d%%)\n", colorIcons[d.Suggestion], d.Suggestion, d.Confidence)
	fmt.Fprintf(&b, "Reason: %s\n", d.Reason)
	fmt.Fprintf(&b, "Last round: %s %d at %s\n", latest.Color, latest.Number, latest.ObservedAt.UTC().Format("15:04:05"))

	var active []string
	for _, s := range d.Strategies {
		if s.Active {
			active = append(active, s.Name)
		}
	}
	if len(active) > 0 {
		fmt.Fprintf(&b, "Strategies: %s\n", strings.Join(active, ", "))
	}
	return b.String()
}
