package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Alias1177/doublewatch/models"
)

const barHTML = `<div class="entries main">
  <div class="entry"><div class="sm-box black"><div class="number">11</div></div></div>
  <div class="entry"><div class="sm-box white"><img src="white.svg"></div></div>
  <div class="entry"><div class="sm-box red"><div class="number">3</div></div></div>
  <div class="entry"><div class="sm-box red"><div class="number">??</div></div></div>
  <div class="entry"><div class="sm-box red"><div class="number">7</div></div></div>
  <div class="entry"><div class="sm-box black"><div class="number">8</div></div></div>
  <div class="entry"><div class="sm-box black"><div class="number">14</div></div></div>
</div>`

func historyRow(number, date, clock string) string {
	return fmt.Sprintf(`<div class="history__double__item">
  <div class="history__double__center">%s</div>
  <div class="history__double__date"><p>%s</p><p>%s</p></div>
</div>`, number, date, clock)
}

func TestParseBar(t *testing.T) {
	entries, err := ParseBar(barHTML, ".entry", models.DefaultBands())
	if err != nil {
		t.Fatalf("ParseBar: %v", err)
	}

	want := []BarEntry{
		{Color: models.ColorBlack, Number: 11},
		{Color: models.ColorWhite, Number: 0},
		{Color: models.ColorRed, Number: 3},
		{Color: models.ColorRed, Number: 7},
		{Color: models.ColorBlack, Number: 8},
		{Color: models.ColorBlack, Number: 14},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestFingerprint(t *testing.T) {
	entries, _ := ParseBar(barHTML, ".entry", models.DefaultBands())

	if got, want := Fingerprint(entries), "BLACK:11,WHITE:0,RED:3,RED:7,BLACK:8"; got != want {
		t.Errorf("Fingerprint = %q, want %q", got, want)
	}
	if got := Fingerprint(nil); got != "" {
		t.Errorf("Fingerprint(nil) = %q, want empty", got)
	}

	shifted := append([]BarEntry{{Color: models.ColorRed, Number: 2}}, entries...)
	if Fingerprint(shifted) == Fingerprint(entries) {
		t.Error("a new leading entry must change the fingerprint")
	}
}

func TestChangeTracker(t *testing.T) {
	var c changeTracker

	steps := []struct {
		fp   string
		want bool
	}{
		{"a", false}, // baseline
		{"a", false},
		{"b", true},
		{"b", false},
		{"a", true},
	}
	for i, s := range steps {
		if got := c.observe(s.fp); got != s.want {
			t.Errorf("step %d observe(%q) = %v, want %v", i, s.fp, got, s.want)
		}
	}

	c.reset("z")
	if c.observe("z") {
		t.Error("observe after reset to the same fingerprint reported a change")
	}
}

func TestParseHistory(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	html := "<div class=\"history\">" +
		historyRow("5", "27/01/2026", "16:26:14") +
		historyRow("", "27/01/2026", "16:25:44") + // white shows no digits
		historyRow("12", "27/01/2026", "16:25:14") +
		historyRow("99", "27/01/2026", "16:24:44") + // out of range
		historyRow("9", "2026-01-27", "16:24:14") + // wrong date format
		historyRow("1", "27/01/2026", "") + // missing time
		historyRow("8", "27/01/2026", "16:23:14") +
		"</div>"

	rounds, dropped, err := ParseHistory(html, DefaultSelectors(), models.DefaultBands(), loc, 50)
	if err != nil {
		t.Fatalf("ParseHistory: %v", err)
	}
	if dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}

	want := []struct {
		color  models.Color
		number int
		at     time.Time
	}{
		{models.ColorRed, 5, time.Date(2026, 1, 27, 19, 26, 14, 0, time.UTC)},
		{models.ColorWhite, 0, time.Date(2026, 1, 27, 19, 25, 44, 0, time.UTC)},
		{models.ColorBlack, 12, time.Date(2026, 1, 27, 19, 25, 14, 0, time.UTC)},
		{models.ColorBlack, 8, time.Date(2026, 1, 27, 19, 23, 14, 0, time.UTC)},
	}
	if len(rounds) != len(want) {
		t.Fatalf("got %d rounds, want %d: %+v", len(rounds), len(want), rounds)
	}
	for i, w := range want {
		r := rounds[i]
		if r.Color != w.color || r.Number != w.number || !r.ObservedAt.Equal(w.at) {
			t.Errorf("round %d = %s %d %s, want %s %d %s", i, r.Color, r.Number, r.ObservedAt, w.color, w.number, w.at)
		}
		if r.SourceTag != TagDetailRead {
			t.Errorf("round %d SourceTag = %q, want %q", i, r.SourceTag, TagDetailRead)
		}
	}
}

func TestParseHistoryCapsAtMaxBatch(t *testing.T) {
	html := ""
	for i := 0; i < 10; i++ {
		html += historyRow("3", "27/01/2026", fmt.Sprintf("16:%02d:00", 50-i))
	}

	rounds, _, err := ParseHistory(html, DefaultSelectors(), models.DefaultBands(), time.UTC, 4)
	if err != nil {
		t.Fatalf("ParseHistory: %v", err)
	}
	if len(rounds) != 4 {
		t.Fatalf("got %d rounds, want 4", len(rounds))
	}
	if got := rounds[0].ObservedAt.Minute(); got != 50 {
		t.Errorf("first round minute = %d, want the newest (50)", got)
	}
}

func TestParseHistoryEmpty(t *testing.T) {
	rounds, dropped, err := ParseHistory("<div></div>", DefaultSelectors(), models.DefaultBands(), time.UTC, 50)
	if err != nil || len(rounds) != 0 || dropped != 0 {
		t.Errorf("ParseHistory(empty) = %v, %d, %v; want no rounds", rounds, dropped, err)
	}
}

func TestParseRoundTime(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		clock   string
		want    time.Time
		wantErr bool
	}{
		{name: "Valid", date: "27/01/2026", clock: "16:26:14", want: time.Date(2026, 1, 27, 16, 26, 14, 0, time.UTC)},
		{name: "Padded", date: " 01/02/2026 ", clock: "\n00:00:01 ", want: time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC)},
		{name: "Missing time", date: "27/01/2026", clock: "", wantErr: true},
		{name: "American order", date: "01/27/2026", clock: "16:26:14", wantErr: true},
		{name: "No seconds", date: "27/01/2026", clock: "16:26", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoundTime(tt.date, tt.clock, time.UTC)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRoundTime() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseRoundTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	live := context.Background()
	dead, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		err       error
		session   context.Context
		caller    context.Context
		wantFatal bool
		wantTO    bool
		wantIs    error
	}{
		{name: "Deadline", err: context.DeadlineExceeded, session: live, caller: live, wantTO: true},
		{name: "Session gone", err: errors.New("boom"), session: dead, caller: live, wantFatal: true},
		{name: "Target closed message", err: errors.New("Target closed"), session: live, caller: live, wantFatal: true},
		{name: "Caller cancelled", err: context.Canceled, session: live, caller: dead, wantIs: context.Canceled},
		{name: "Selector passes through", err: fmt.Errorf("%w: .x", ErrSelectorNotFound), session: live, caller: live, wantIs: ErrSelectorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, tt.session, tt.caller)
			if IsFatal(got) != tt.wantFatal {
				t.Errorf("IsFatal(%v) = %v, want %v", got, IsFatal(got), tt.wantFatal)
			}
			if IsTimeout(got) != tt.wantTO {
				t.Errorf("IsTimeout(%v) = %v, want %v", got, IsTimeout(got), tt.wantTO)
			}
			if tt.wantIs != nil && !errors.Is(got, tt.wantIs) {
				t.Errorf("classify() = %v, want wrapping %v", got, tt.wantIs)
			}
		})
	}

	if classify(nil, live, live) != nil {
		t.Error("classify(nil) != nil")
	}
}

func TestVisibleScript(t *testing.T) {
	js := visibleScript(DefaultSelectors().PanelNumber)
	if !strings.Contains(js, `document.querySelector(".history__double__center")`) {
		t.Errorf("script does not query the panel rows: %s", js)
	}
	if !strings.Contains(js, "getClientRects().length > 0") {
		t.Errorf("script does not check layout: %s", js)
	}

	// Quotes in selectors must not break out of the string literal
	js = visibleScript(`button[title="x"]`)
	if !strings.Contains(js, `"button[title=\"x\"]"`) {
		t.Errorf("selector not escaped: %s", js)
	}
}
