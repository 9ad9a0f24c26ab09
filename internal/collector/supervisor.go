package collector

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Alias1177/doublewatch/internal/metrics"
	"github.com/Alias1177/doublewatch/internal/source"
	"github.com/Alias1177/doublewatch/models"
)

// State is the lifecycle state of the collector
type State string

const (
	StateStopped      State = "STOPPED"
	StateStarting     State = "STARTING"
	StateRunning      State = "RUNNING"
	StateReconnecting State = "RECONNECTING"
	StateStopping     State = "STOPPING"
)

var allStates = []string{
	string(StateStopped), string(StateStarting), string(StateRunning),
	string(StateReconnecting), string(StateStopping),
}

var (
	// ErrNotRunning is returned by CollectNow when the collector is stopped
	ErrNotRunning = errors.New("collector is not running")
	errNoSession  = errors.New("no browser session")
	// errStartAborted is returned by Start when Stop arrived during the dial
	errStartAborted = errors.New("collector stopped while starting")
)

// Store is the part of the outcome store the collector writes to
type Store interface {
	InsertBatch(ctx context.Context, rounds []models.RawRound) ([]models.Outcome, error)
	Count(ctx context.Context) (int, error)
}

// Sink receives every batch of newly stored outcomes, oldest first.
// A failing sink is logged and never fails the cycle.
type Sink interface {
	Name() string
	Publish(ctx context.Context, outcomes []models.Outcome) error
}

// Config tunes the collection loop
type Config struct {
	PollInterval           time.Duration
	MaxConsecutiveTimeouts int
	ReconnectDelay         time.Duration
	ReconnectMaxDelay      time.Duration
}

// Status is a point-in-time view of the collector
type Status struct {
	State       State     `json:"state"`
	Running     bool      `json:"running"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	RecordCount int       `json:"record_count"`
	LastError   string    `json:"last_error,omitempty"`
	Reconnects  int       `json:"reconnects"`
	SessionID   string    `json:"session_id,omitempty"`
}

// Supervisor owns the browser session and the polling loop
type Supervisor struct {
	cfg     Config
	dialer  models.SessionDialer
	store   Store
	sinks   []Sink
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	// flight admits one collection cycle at a time
	flight *semaphore.Weighted

	mu               sync.RWMutex
	state            State
	session          models.RoundSession
	cancel           context.CancelFunc
	done             chan struct{}
	lastCycleAt      time.Time
	lastErr          string
	reconnects       int
	timeouts         int
	forceRead        bool
	reconnectPending bool
}

// New creates a stopped supervisor. m may be nil.
func New(cfg Config, dialer models.SessionDialer, store Store, m *metrics.Metrics, sinks ...Sink) *Supervisor {
	if cfg.MaxConsecutiveTimeouts < 1 {
		cfg.MaxConsecutiveTimeouts = 1
	}
	s := &Supervisor{
		cfg:     cfg,
		dialer:  dialer,
		store:   store,
		sinks:   sinks,
		metrics: m,
		logger:  log.With().Str("component", "collector").Logger(),
		flight:  semaphore.NewWeighted(1),
		state:   StateStopped,
	}
	m.SetState(string(StateStopped), allStates...)
	return s
}

// Start dials a session, runs one full collection and begins polling.
// It is a no-op unless the collector is STOPPED. If the session can't be
// opened the collector stays STOPPED and the error is returned. A Stop issued
// while Start is dialing or reading cancels both.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	if s.State() != StateStopped {
		s.lifecycle.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.timeouts = 0
	s.forceRead = false
	s.reconnectPending = false
	s.mu.Unlock()
	s.setState(StateStarting)
	s.lifecycle.Unlock()

	// runCtx ends with the caller or with Stop
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	unhook := context.AfterFunc(loopCtx, stopRun)
	defer unhook()

	sess, err := s.dialer.Dial(runCtx)
	if loopCtx.Err() != nil {
		if err == nil {
			sess.Close()
		}
		err = errStartAborted
	}
	if err != nil {
		s.abortStart(cancel, done, err)
		return fmt.Errorf("starting collector: %w", err)
	}

	s.mu.Lock()
	s.session = sess
	if s.state == StateStarting {
		s.state = StateRunning
	}
	s.mu.Unlock()
	s.metrics.SetState(string(s.State()), allStates...)

	s.logger.Info().Str("session", sess.ID()).Msg("Collector started")

	if err := s.flight.Acquire(runCtx, 1); err == nil {
		s.cycle(runCtx, true)
		s.flight.Release(1)
	}

	go s.loop(loopCtx, done)
	return nil
}

// abortStart undoes a Start that never got a session. Stop may be waiting on done.
func (s *Supervisor) abortStart(cancel context.CancelFunc, done chan struct{}, err error) {
	cancel()
	s.mu.Lock()
	if !errors.Is(err, errStartAborted) {
		s.lastErr = err.Error()
	}
	s.cancel = nil
	s.done = nil
	s.state = StateStopped
	s.mu.Unlock()
	s.metrics.SetState(string(StateStopped), allStates...)
	close(done)
}

// Stop ends polling and releases the browser session. Safe to call more than once.
func (s *Supervisor) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	s.setState(StateStopping)

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	s.setState(StateStopped)
	s.logger.Info().Msg("Collector stopped")
	return err
}

// CollectNow runs one full collection outside the schedule. If a cycle is in
// flight it waits for it to finish, bounded by ctx. It returns the number of
// newly stored rounds.
func (s *Supervisor) CollectNow(ctx context.Context) (int, error) {
	if !s.IsActive() {
		return 0, ErrNotRunning
	}
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer s.flight.Release(1)

	// Stopped while waiting for the in-flight cycle
	if !s.IsActive() {
		return 0, ErrNotRunning
	}
	return s.cycle(ctx, true)
}

// IsActive reports whether the collector is running or recovering its session
func (s *Supervisor) IsActive() bool {
	st := s.State()
	return st == StateRunning || st == StateReconnecting
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status reports the lifecycle state together with the stored record count
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("counting outcomes: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:       s.state,
		Running:     s.state == StateRunning || s.state == StateReconnecting,
		LastCycleAt: s.lastCycleAt,
		RecordCount: count,
		LastError:   s.lastErr,
		Reconnects:  s.reconnects,
	}
	if s.session != nil {
		st.SessionID = s.session.ID()
	}
	return st, nil
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.takeReconnect() {
			s.reconnect(ctx)
			continue
		}

		if !s.flight.TryAcquire(1) {
			s.metrics.CycleSkipped()
			s.logger.Debug().Msg("Previous cycle still running, skipping tick")
			continue
		}
		s.cycle(ctx, s.takeForceRead())
		s.flight.Release(1)
	}
}

// cycle runs one detect, read, store and publish pass. The caller holds flight.
// With force set the change check is skipped and the history is always read.
func (s *Supervisor) cycle(ctx context.Context, force bool) (inserted int, err error) {
	start := time.Now()
	result := metrics.ResultUnchanged
	// set once the page is known to hold rounds this cycle has to store
	detected := force

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collection cycle panicked: %v", r)
			s.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic in collection cycle")
		}
		if err != nil {
			result = s.recordFailure(ctx, err, detected)
		} else {
			s.recordSuccess()
		}
		s.metrics.Cycle(result, time.Since(start))
	}()

	sess := s.currentSession()
	if sess == nil {
		return 0, errNoSession
	}

	if !force {
		changed, err := sess.Changed(ctx)
		if err != nil {
			return 0, err
		}
		if !changed {
			return 0, nil
		}
		detected = true
	}

	newestFirst, err := sess.ReadRecent(ctx)
	if err != nil {
		return 0, err
	}
	if len(newestFirst) == 0 {
		return 0, nil
	}

	stored, err := s.store.InsertBatch(ctx, models.Reverse(newestFirst))
	if err != nil {
		return 0, err
	}
	s.metrics.Rounds(len(stored), len(newestFirst)-len(stored))

	if len(stored) > 0 {
		result = metrics.ResultInserted
		s.logger.Info().Int("read", len(newestFirst)).Int("inserted", len(stored)).Msg("Stored new rounds")
		s.publish(ctx, stored)
	}
	return len(stored), nil
}

func (s *Supervisor) publish(ctx context.Context, outcomes []models.Outcome) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, outcomes); err != nil {
			s.metrics.SinkError(sink.Name())
			s.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("Failed to publish outcomes")
		}
	}
}

func (s *Supervisor) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycleAt = time.Now()
	s.lastErr = ""
	s.timeouts = 0
}

// recordFailure classifies a cycle error and returns its metrics label.
// Fatal errors and too many timeouts in a row schedule a reconnect. When the
// failure came after a change was detected the next cycle reads unconditionally,
// since the bar baseline has already moved on.
func (s *Supervisor) recordFailure(ctx context.Context, err error, detected bool) string {
	// Shutting down; the error says nothing about the page.
	if ctx.Err() != nil {
		return metrics.ResultError
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err.Error()
	if detected {
		s.forceRead = true
	}

	switch {
	case source.IsFatal(err) || errors.Is(err, errNoSession):
		s.reconnectPending = true
		s.logger.Error().Err(err).Msg("Browser session lost, scheduling reconnect")
		return metrics.ResultFatal
	case source.IsTimeout(err):
		s.timeouts++
		if s.timeouts >= s.cfg.MaxConsecutiveTimeouts {
			s.reconnectPending = true
			s.logger.Error().Err(err).Int("timeouts", s.timeouts).Msg("Too many consecutive timeouts, scheduling reconnect")
			return metrics.ResultFatal
		}
		s.logger.Warn().Err(err).Int("timeouts", s.timeouts).Msg("Collection cycle timed out")
		return metrics.ResultTimeout
	default:
		s.logger.Warn().Err(err).Msg("Collection cycle failed")
		return metrics.ResultError
	}
}

// reconnect replaces the session, retrying with exponential backoff until it
// succeeds or ctx is cancelled, then runs a full collection.
func (s *Supervisor) reconnect(ctx context.Context) {
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.flight.Release(1)

	s.setState(StateReconnecting)

	s.mu.Lock()
	old := s.session
	s.session = nil
	s.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close old session")
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectDelay
	b.MaxInterval = s.cfg.ReconnectMaxDelay
	b.MaxElapsedTime = 0

	var sess models.RoundSession
	operation := func() error {
		var err error
		sess, err = s.dialer.Dial(ctx)
		return err
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn().Err(err).Dur("retry_in", next).Msg("Reconnect attempt failed")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		s.logger.Info().Err(err).Msg("Reconnect abandoned")
		return
	}
	if ctx.Err() != nil {
		sess.Close()
		return
	}

	s.mu.Lock()
	s.session = sess
	s.reconnects++
	s.timeouts = 0
	s.reconnectPending = false
	s.forceRead = false
	s.mu.Unlock()
	s.setState(StateRunning)
	s.metrics.Reconnect()
	s.logger.Info().Str("session", sess.ID()).Msg("Reconnected")

	s.cycle(ctx, true)
}

func (s *Supervisor) currentSession() models.RoundSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Supervisor) takeReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.reconnectPending
	s.reconnectPending = false
	return pending
}

func (s *Supervisor) takeForceRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	force := s.forceRead
	s.forceRead = false
	return force
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.metrics.SetState(string(st), allStates...)
}
