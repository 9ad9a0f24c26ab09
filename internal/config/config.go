package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/doublewatch/internal/source"
	"github.com/Alias1177/doublewatch/models"
)

// Config holds all application configuration
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"` // console or json

	// Storage
	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"` // postgres or sqlite
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"doublewatch"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"doublewatch.db"`

	RetentionCeiling int           `env:"RETENTION_CEILING" envDefault:"2000"`
	DedupTolerance   time.Duration `env:"DEDUP_TOLERANCE" envDefault:"2s"`

	// Source page
	SourceURL      string        `env:"SOURCE_URL" envDefault:"https://blaze.bet.br/pt/games/double"`
	Headless       bool          `env:"HEADLESS" envDefault:"true"`
	UserAgent      string        `env:"USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	AcceptLanguage string        `env:"ACCEPT_LANGUAGE" envDefault:"pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"`
	TimeZone       string        `env:"SOURCE_TIMEZONE" envDefault:"America/Sao_Paulo"`
	NavTimeout     time.Duration `env:"NAV_TIMEOUT" envDefault:"60s"`
	WaitTimeout    time.Duration `env:"WAIT_TIMEOUT" envDefault:"8s"`
	ClickTimeout   time.Duration `env:"CLICK_TIMEOUT" envDefault:"5s"`
	MaxBatch       int           `env:"MAX_BATCH" envDefault:"50"`
	DetailReadRate time.Duration `env:"DETAIL_READ_MIN_INTERVAL" envDefault:"2s"`

	// Selector overrides; empty keeps the source package default
	BarSelector        string `env:"SELECTOR_BAR"`
	BarEntrySelector   string `env:"SELECTOR_BAR_ENTRY"`
	PanelOpenSelector  string `env:"SELECTOR_PANEL_OPEN"`
	PanelRootSelector  string `env:"SELECTOR_PANEL_ROOT"`
	PanelNumberSel     string `env:"SELECTOR_PANEL_NUMBER"`
	PanelDateSel       string `env:"SELECTOR_PANEL_DATE"`
	PanelCloseSelector string `env:"SELECTOR_PANEL_CLOSE"`

	RedMaxNumber int `env:"RED_MAX_NUMBER" envDefault:"7"`
	MaxNumber    int `env:"MAX_NUMBER" envDefault:"14"`

	// Collector
	AutoStart              bool          `env:"AUTO_START" envDefault:"false"`
	PollInterval           time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	MaxConsecutiveTimeouts int           `env:"MAX_CONSECUTIVE_TIMEOUTS" envDefault:"5"`
	ReconnectDelay         time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	ReconnectMaxDelay      time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"2m"`

	// Prediction
	WindowSize int `env:"PREDICTION_WINDOW" envDefault:"50"`

	// HTTP
	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":3001"`
	JWTSecret   string   `env:"JWT_SECRET"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// Sinks
	TelegramToken    string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64         `env:"TELEGRAM_CHAT_ID"`
	TelegramMinConf  int           `env:"TELEGRAM_MIN_CONFIDENCE" envDefault:"70"`
	TelegramInterval time.Duration `env:"TELEGRAM_MIN_INTERVAL" envDefault:"1s"`
	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic       string        `env:"KAFKA_TOPIC" envDefault:"double.outcomes"`
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Bands returns the configured color partition
func (c *Config) Bands() models.Bands {
	return models.Bands{RedMax: c.RedMaxNumber, Max: c.MaxNumber}
}

// Selectors returns the page selectors with any configured overrides applied
func (c *Config) Selectors() source.Selectors {
	sel := source.DefaultSelectors()
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&sel.Bar, c.BarSelector)
	override(&sel.BarEntry, c.BarEntrySelector)
	override(&sel.PanelOpen, c.PanelOpenSelector)
	override(&sel.PanelRoot, c.PanelRootSelector)
	override(&sel.PanelNumber, c.PanelNumberSel)
	override(&sel.PanelDate, c.PanelDateSel)
	override(&sel.PanelClose, c.PanelCloseSelector)
	return sel
}

// Validate rejects configurations the collector cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if c.RetentionCeiling < 1 {
		errs = append(errs, errors.New("RETENTION_CEILING must be positive"))
	}
	if c.MaxBatch < 1 {
		errs = append(errs, errors.New("MAX_BATCH must be positive"))
	}
	// A ceiling below one page of history would trim rows the next read re-inserts.
	if c.RetentionCeiling < c.MaxBatch {
		errs = append(errs, fmt.Errorf("RETENTION_CEILING (%d) must be >= MAX_BATCH (%d)", c.RetentionCeiling, c.MaxBatch))
	}
	if c.WindowSize < 5 {
		errs = append(errs, errors.New("PREDICTION_WINDOW must be at least 5"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.MaxConsecutiveTimeouts < 1 {
		errs = append(errs, errors.New("MAX_CONSECUTIVE_TIMEOUTS must be >= 1"))
	}
	if err := c.Bands().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("SOURCE_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}
