package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/Alias1177/doublewatch/models"
)

// Config selects the brokers and topic outcomes are published to
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// event is the payload of one outcome message
type event struct {
	ID         int64        `json:"id"`
	Color      models.Color `json:"color"`
	Number     int          `json:"number"`
	ObservedAt time.Time    `json:"observed_at"`
	SourceTag  string       `json:"source_tag"`
}

// Publisher writes each stored outcome to a Kafka topic, keyed by outcome id
type Publisher struct {
	cfg    Config
	writer messageWriter
	logger zerolog.Logger
}

// NewPublisher connects a writer to the configured brokers
func NewPublisher(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(cfg, w), nil
}

func newPublisher(cfg Config, w messageWriter) *Publisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Publisher{
		cfg:    cfg,
		writer: w,
		logger: log.With().Str("component", "feed").Str("topic", cfg.Topic).Logger(),
	}
}

func (p *Publisher) Name() string { return "kafka" }

// Publish sends the batch in order as a single write
func (p *Publisher) Publish(ctx context.Context, outcomes []models.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(outcomes))
	for _, o := range outcomes {
		value, err := json.Marshal(event{
			ID:         o.ID,
			Color:      o.Color,
			Number:     o.Number,
			ObservedAt: o.ObservedAt,
			SourceTag:  o.SourceTag,
		})
		if err != nil {
			return fmt.Errorf("encoding outcome %d: %w", o.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(o.ID, 10)),
			Value: value,
			Time:  o.ObservedAt,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing %d outcomes: %w", len(msgs), err)
	}

	p.logger.Debug().Int("count", len(msgs)).Msg("Published outcomes")
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
