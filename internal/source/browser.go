package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Alias1177/doublewatch/models"
)

// Config describes how to reach and read the results page
type Config struct {
	URL            string
	Headless       bool
	UserAgent      string
	AcceptLanguage string
	Location       *time.Location

	NavTimeout   time.Duration
	WaitTimeout  time.Duration
	ClickTimeout time.Duration

	MaxBatch           int
	DetailReadInterval time.Duration

	Selectors Selectors
	Bands     models.Bands
}

// Browser dials headless Chrome sessions on the results page
type Browser struct {
	cfg    Config
	logger zerolog.Logger
}

// NewBrowser creates a dialer. Nothing is launched until Dial.
func NewBrowser(cfg Config) *Browser {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Browser{
		cfg:    cfg,
		logger: log.With().Str("component", "source").Logger(),
	}
}

// Dial launches a browser, opens the page and waits for the results strip
func (b *Browser) Dial(ctx context.Context) (models.RoundSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.WindowSize(1366, 768),
		chromedp.UserAgent(b.cfg.UserAgent),
	)

	// The session outlives the dial call, so it hangs off Background and is
	// torn down only by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		b.logger.Debug().Msgf(format, args...)
	}))

	p := &Page{
		id:          uuid.NewString(),
		cfg:         b.cfg,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		limiter:     rate.NewLimiter(rate.Every(b.cfg.DetailReadInterval), 1),
		logger:      b.logger,
	}
	p.logger = b.logger.With().Str("session", p.id).Logger()

	// Start the browser on the tab context itself; a process started under a
	// timeout context dies with it.
	if err := chromedp.Run(tabCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	err := p.run(ctx, b.cfg.NavTimeout,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": b.cfg.AcceptLanguage}),
		chromedp.Navigate(b.cfg.URL),
		chromedp.WaitVisible(b.cfg.Selectors.Bar, chromedp.ByQuery),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("opening %s: %w", b.cfg.URL, err)
	}

	p.logger.Info().Str("url", b.cfg.URL).Msg("Browser session ready")
	return p, nil
}

// Page is one live browser tab on the results page
type Page struct {
	id  string
	cfg Config

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	limiter *rate.Limiter
	logger  zerolog.Logger

	mu     sync.Mutex
	bar    changeTracker
	closed bool
}

func (p *Page) ID() string { return p.id }

// Changed reads the results strip and compares it with the last one seen.
// The first read only records a baseline.
func (p *Page) Changed(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrSessionClosed
	}

	entries, err := p.readBar(ctx)
	if err != nil {
		return false, err
	}
	return p.bar.observe(Fingerprint(entries)), nil
}

// ReadRecent opens the history panel and returns up to MaxBatch rounds, newest first
func (p *Page) ReadRecent(ctx context.Context) ([]models.RawRound, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrSessionClosed
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	isOpen, err := p.visible(ctx, p.cfg.Selectors.PanelNumber)
	if err != nil {
		return nil, fmt.Errorf("checking history panel: %w", err)
	}
	// Clicking the opener on an open panel toggles it shut
	if !isOpen {
		if err := p.run(ctx, p.cfg.ClickTimeout, chromedp.Click(p.cfg.Selectors.PanelOpen, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			return nil, p.recover(ctx, fmt.Errorf("opening history panel: %w", err))
		}
	}
	if err := p.run(ctx, p.cfg.WaitTimeout, chromedp.WaitVisible(p.cfg.Selectors.PanelNumber, chromedp.ByQuery)); err != nil {
		return nil, p.recover(ctx, fmt.Errorf("waiting for history rows: %w", err))
	}

	html, err := p.outerHTML(ctx, p.cfg.Selectors.PanelRoot)
	p.closePanel(ctx)
	if err != nil {
		return nil, err
	}

	rounds, dropped, err := ParseHistory(html, p.cfg.Selectors, p.cfg.Bands, p.cfg.Location, p.cfg.MaxBatch)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		p.logger.Warn().Int("dropped", dropped).Msg("Skipped unreadable history rows")
	}

	// Re-baseline so the next tick doesn't report rounds this read already covered.
	if entries, err := p.readBar(ctx); err == nil {
		p.bar.reset(Fingerprint(entries))
	}

	return rounds, nil
}

// Close shuts the tab and the browser process. Safe to call more than once.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.tabCancel()
	p.allocCancel()
	p.logger.Info().Msg("Browser session closed")
	return nil
}

func (p *Page) readBar(ctx context.Context) ([]BarEntry, error) {
	html, err := p.outerHTML(ctx, p.cfg.Selectors.Bar)
	if err != nil {
		return nil, err
	}
	return ParseBar(html, p.cfg.Selectors.BarEntry, p.cfg.Bands)
}

func (p *Page) outerHTML(ctx context.Context, sel string) (string, error) {
	var html string
	js := fmt.Sprintf(`document.querySelector(%q)?.outerHTML ?? ""`, sel)
	if err := p.run(ctx, p.cfg.WaitTimeout, chromedp.Evaluate(js, &html)); err != nil {
		return "", err
	}
	if html == "" {
		return "", fmt.Errorf("%w: %s", ErrSelectorNotFound, sel)
	}
	return html, nil
}

func (p *Page) visible(ctx context.Context, sel string) (bool, error) {
	var ok bool
	if err := p.run(ctx, p.cfg.ClickTimeout, chromedp.Evaluate(visibleScript(sel), &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

// visibleScript reports whether sel matches an element that takes up layout space
func visibleScript(sel string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%q); return !!el && el.getClientRects().length > 0; })()`, sel)
}

// closePanel dismisses the history panel, falling back to a reload
func (p *Page) closePanel(ctx context.Context) {
	err := p.run(ctx, p.cfg.ClickTimeout, chromedp.Click(p.cfg.Selectors.PanelClose, chromedp.ByQuery, chromedp.NodeVisible))
	if err == nil {
		return
	}
	p.logger.Debug().Err(err).Msg("Close button failed, reloading page")
	p.reload(ctx)
}

// recover reloads the page after a timed out interaction so the next cycle
// starts from a clean state.
func (p *Page) recover(ctx context.Context, err error) error {
	if IsTimeout(err) {
		p.reload(ctx)
	}
	return err
}

func (p *Page) reload(ctx context.Context) {
	err := p.run(ctx, p.cfg.NavTimeout,
		chromedp.Reload(),
		chromedp.WaitVisible(p.cfg.Selectors.Bar, chromedp.ByQuery),
	)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Page reload failed")
	}
}

// run executes actions on the tab within timeout, also stopping when ctx is done
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return classify(chromedp.Run(opCtx, actions...), p.tabCtx, ctx)
}

// changeTracker remembers the last bar fingerprint
type changeTracker struct {
	last string
	seen bool
}

// observe records fp and reports whether it differs from the previous one.
// The first observation is a baseline, not a change.
func (c *changeTracker) observe(fp string) bool {
	if !c.seen {
		c.last, c.seen = fp, true
		return false
	}
	if fp == c.last {
		return false
	}
	c.last = fp
	return true
}

func (c *changeTracker) reset(fp string) {
	c.last, c.seen = fp, true
}
