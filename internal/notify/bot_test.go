package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Alias1177/doublewatch/models"
)

type failingStore struct{}

func (failingStore) Latest(context.Context, int) ([]models.Outcome, error) {
	return nil, errors.New("database is locked")
}

func command(text string) *tgbotapi.Message {
	m := &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: 42}}
	if strings.HasPrefix(text, "/") {
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}}
	}
	return m
}

func TestBotHandle(t *testing.T) {
	store := &fakeStore{window: window(R, R, R, R, B, W, B, R, B, R)}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "Signal command", text: "/signal", want: []string{"Signal: BLACK (85%)", "Last round: RED 4"}},
		{name: "Signal button", text: buttonSignal, want: []string{"Signal: BLACK"}},
		{name: "Stats", text: "/stats", want: []string{"Last 10 rounds", "🔴 6 (60.00%)", "Current run: 4 RED"}},
		{name: "History", text: buttonHistory, want: []string{"19:00:00 🔴 4", "⚪ 0"}},
		{name: "Unknown", text: "hello", want: []string{"/signal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{}
			b := newBot(s, 50, store)
			if err := b.Handle(context.Background(), command(tt.text)); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if len(s.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(s.sent))
			}
			msg := s.sent[0]
			if msg.ChatID != 42 {
				t.Errorf("ChatID = %d, want 42", msg.ChatID)
			}
			if _, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup); !ok {
				t.Errorf("ReplyMarkup = %T, want reply keyboard", msg.ReplyMarkup)
			}
			for _, w := range tt.want {
				if !strings.Contains(msg.Text, w) {
					t.Errorf("reply %q does not contain %q", msg.Text, w)
				}
			}
		})
	}
}

func TestBotEmptyStore(t *testing.T) {
	for _, text := range []string{"/signal", "/stats", "/history"} {
		s := &fakeSender{}
		b := newBot(s, 50, &fakeStore{})
		if err := b.Handle(context.Background(), command(text)); err != nil {
			t.Fatalf("%s: %v", text, err)
		}
		if got := s.sent[0].Text; got != "No rounds stored yet." {
			t.Errorf("%s reply = %q", text, got)
		}
	}
}

func TestBotStoreError(t *testing.T) {
	s := &fakeSender{}
	b := newBot(s, 50, failingStore{})
	if err := b.Handle(context.Background(), command("/signal")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if strings.Contains(s.sent[0].Text, "locked") {
		t.Errorf("reply leaks store error: %q", s.sent[0].Text)
	}
}

func TestBotSendError(t *testing.T) {
	b := newBot(&fakeSender{err: errors.New("Forbidden: bot was blocked by the user")}, 50, &fakeStore{})
	if err := b.Handle(context.Background(), command("/stats")); err == nil {
		t.Error("expected send error")
	}
}
