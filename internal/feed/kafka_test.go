package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Alias1177/doublewatch/models"
)

type stubWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	at := time.Date(2026, 1, 27, 19, 26, 14, 0, time.UTC)
	w := &stubWriter{}
	p := newPublisher(Config{Topic: "double.outcomes"}, w)

	outcomes := []models.Outcome{
		{ID: 41, Color: models.ColorRed, Number: 5, ObservedAt: at, SourceTag: "detail_read"},
		{ID: 42, Color: models.ColorWhite, Number: 0, ObservedAt: at.Add(30 * time.Second), SourceTag: "detail_read"},
	}
	if err := p.Publish(context.Background(), outcomes); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(w.msgs) != 2 {
		t.Fatalf("wrote %d messages, want 2", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "41" || string(w.msgs[1].Key) != "42" {
		t.Errorf("keys = %s, %s; want 41, 42", w.msgs[0].Key, w.msgs[1].Key)
	}

	var got event
	if err := json.Unmarshal(w.msgs[1].Value, &got); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if got.Color != models.ColorWhite || got.Number != 0 || !got.ObservedAt.Equal(at.Add(30*time.Second)) {
		t.Errorf("payload = %+v", got)
	}
}

func TestPublishEmptyBatch(t *testing.T) {
	w := &stubWriter{err: errors.New("must not be called")}
	p := newPublisher(Config{Topic: "t"}, w)
	if err := p.Publish(context.Background(), nil); err != nil {
		t.Errorf("Publish(nil) = %v", err)
	}
}

func TestPublishWriterError(t *testing.T) {
	brokerErr := errors.New("leader not available")
	p := newPublisher(Config{Topic: "t"}, &stubWriter{err: brokerErr})
	err := p.Publish(context.Background(), []models.Outcome{{ID: 1, Color: models.ColorRed, Number: 1}})
	if !errors.Is(err, brokerErr) {
		t.Errorf("Publish error = %v, want %v", err, brokerErr)
	}
}

func TestNewPublisherValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "No topic", cfg: Config{Brokers: []string{"localhost:9092"}}},
		{name: "No brokers", cfg: Config{Topic: "double.outcomes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPublisher(tt.cfg); err == nil {
				t.Error("NewPublisher() succeeded, want error")
			}
		})
	}
}

func TestClose(t *testing.T) {
	w := &stubWriter{}
	if err := newPublisher(Config{Topic: "t"}, w).Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}
