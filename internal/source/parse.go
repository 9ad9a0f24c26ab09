package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Alias1177/doublewatch/models"
)

// Page date and time cells, e.g. "27/01/2026" and "16:26:14"
const pageTimeLayout = "02/01/2006 15:04:05"

// TagDetailRead is the source tag stored with rounds read from the history panel
const TagDetailRead = "detail_read"

// fingerprintDepth is how many bar entries make up the change-detection fingerprint
const fingerprintDepth = 5

// Selectors locate the page elements. They are configuration because the page markup drifts.
type Selectors struct {
	Bar         string // recent results strip
	BarEntry    string // one entry inside the strip
	PanelOpen   string // button that opens the history panel
	PanelRoot   string // element whose HTML is snapshotted for the detail read
	PanelNumber string // number cell of a history row
	PanelDate   string // date cell of a history row, holding <p>date</p><p>time</p>
	PanelClose  string // panel close button
}

// DefaultSelectors matches the markup of the double game page
func DefaultSelectors() Selectors {
	return Selectors{
		Bar:         ".entries",
		BarEntry:    ".entry",
		PanelOpen:   ".buttons-history button",
		PanelRoot:   "body",
		PanelNumber: ".history__double__center",
		PanelDate:   ".history__double__date",
		PanelClose:  "#parent-modal-close",
	}
}

// BarEntry is one cell of the recent results strip
type BarEntry struct {
	Color  models.Color
	Number int
}

// ParseBar reads the recent results strip, newest first. Cells that can't be
// read are skipped.
func ParseBar(html string, entrySel string, bands models.Bands) ([]BarEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing bar html: %w", err)
	}

	var entries []BarEntry
	doc.Find(entrySel).Each(func(_ int, s *goquery.Selection) {
		if e, ok := parseBarEntry(s, bands); ok {
			entries = append(entries, e)
		}
	})
	return entries, nil
}

func parseBarEntry(s *goquery.Selection, bands models.Bands) (BarEntry, bool) {
	box := s.Find(".sm-box")
	if box.Length() == 0 {
		box = s
	}
	if box.HasClass("white") {
		return BarEntry{Color: models.ColorWhite, Number: models.WhiteNumber}, true
	}

	raw := strings.TrimSpace(box.Find(".number").Text())
	if raw == "" {
		raw = strings.TrimSpace(box.Text())
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return BarEntry{}, false
	}
	color, err := bands.ColorOf(n)
	if err != nil {
		return BarEntry{}, false
	}
	return BarEntry{Color: color, Number: n}, true
}

// Fingerprint summarizes the newest bar entries. A new round shifts the strip
// and changes the fingerprint.
func Fingerprint(entries []BarEntry) string {
	n := len(entries)
	if n > fingerprintDepth {
		n = fingerprintDepth
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%s:%d", entries[i].Color, entries[i].Number)
	}
	return strings.Join(parts, ",")
}

// ParseHistory reads the history panel, newest first, at most max rows.
// Number and date cells are paired by position. Rows with a bad number or an
// unparseable timestamp are dropped and counted.
func ParseHistory(html string, sel Selectors, bands models.Bands, loc *time.Location, max int) ([]models.RawRound, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("parsing history html: %w", err)
	}

	numbers := doc.Find(sel.PanelNumber)
	dates := doc.Find(sel.PanelDate)

	limit := numbers.Length()
	if dates.Length() < limit {
		limit = dates.Length()
	}
	if max > 0 && limit > max {
		limit = max
	}

	rounds := make([]models.RawRound, 0, limit)
	dropped := 0
	for i := 0; i < limit; i++ {
		r, err := parseHistoryRow(numbers.Eq(i), dates.Eq(i), bands, loc)
		if err != nil {
			dropped++
			continue
		}
		rounds = append(rounds, r)
	}
	return rounds, dropped, nil
}

func parseHistoryRow(numCell, dateCell *goquery.Selection, bands models.Bands, loc *time.Location) (models.RawRound, error) {
	raw := strings.TrimSpace(numCell.Text())
	n := models.WhiteNumber
	// White cells carry an icon instead of digits
	if raw != "" {
		var err error
		n, err = strconv.Atoi(raw)
		if err != nil {
			return models.RawRound{}, fmt.Errorf("number %q: %w", raw, err)
		}
	}
	color, err := bands.ColorOf(n)
	if err != nil {
		return models.RawRound{}, err
	}

	observed, err := ParseRoundTime(dateCell.Find("p").Eq(0).Text(), dateCell.Find("p").Eq(1).Text(), loc)
	if err != nil {
		return models.RawRound{}, err
	}

	return models.RawRound{
		Color:      color,
		Number:     n,
		ObservedAt: observed,
		SourceTag:  TagDetailRead,
	}, nil
}

// ParseRoundTime parses the page's DD/MM/YYYY and HH:MM:SS cells in loc.
// Anything else is rejected.
func ParseRoundTime(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("missing date or time (%q, %q)", date, clock)
	}
	t, err := time.ParseInLocation(pageTimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing round time: %w", err)
	}
	return t.UTC(), nil
}
