// Package scheduler runs deferred actions at (or just after) a target instant.
//
// Each pending action holds one runtime timer; no goroutine is parked while waiting.
// Retry policy belongs to the action: the scheduler logs failures and moves on.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"followup-caller/pkg/logger"
)

// Action is the unit of deferred work.
type Action func(ctx context.Context) error

var ErrClosed = errors.New("scheduler: closed")

const (
	statePending int32 = iota
	stateRunning
	stateFired
	stateCancelled
	stateSkipped
)

// Options configures a Scheduler.
type Options struct {
	// Grace is how far in the past a fire time may be and still run.
	Grace time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
	// ActionTimeout bounds a single action run. Zero means no bound.
	ActionTimeout time.Duration
}

// Scheduler owns the set of pending timers.
type Scheduler struct {
	base   context.Context
	cancel context.CancelFunc
	opts   Options

	mu      sync.Mutex
	pending map[*Handle]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// New creates a scheduler whose actions run with a context derived from ctx.
// The logger stored in ctx (logger.With) is used for skip/failure reports.
func New(ctx context.Context, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Grace < 0 {
		opts.Grace = 0
	}
	base, cancel := context.WithCancel(ctx)
	return &Scheduler{
		base:    base,
		cancel:  cancel,
		opts:    opts,
		pending: map[*Handle]struct{}{},
	}
}

// Handle refers to one scheduled action.
type Handle struct {
	name   string
	fireAt time.Time
	action Action
	state  atomic.Int32
	timer  *time.Timer
	done   chan struct{}
	err    error
	s      *Scheduler
}

func (h *Handle) Name() string      { return h.name }
func (h *Handle) FireAt() time.Time { return h.fireAt }

// Skipped reports whether the action was dropped because its fire time was stale.
func (h *Handle) Skipped() bool { return h.state.Load() == stateSkipped }

// Fired reports whether the action has run (successfully or not).
func (h *Handle) Fired() bool { return h.state.Load() == stateFired }

// Cancelled reports whether Cancel won before the action started.
func (h *Handle) Cancelled() bool { return h.state.Load() == stateCancelled }

// Done is closed once the handle is settled: fired, cancelled or skipped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the action's error once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Cancel stops the action if it has not started. It returns false when the
// action already ran, is running, or was skipped.
func (h *Handle) Cancel() bool {
	if !h.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.s.forget(h)
	close(h.done)
	return true
}

// Schedule arranges for action to run once at fireAt.
//
// A closed scheduler returns ErrClosed. If fireAt is older than the grace window
// the action is never run and the handle reports Skipped. A fire time inside the
// grace window runs immediately.
func (s *Scheduler) Schedule(fireAt time.Time, name string, action Action) (*Handle, error) {
	if action == nil {
		return nil, fmt.Errorf("scheduler: action is required")
	}
	h := &Handle{name: name, fireAt: fireAt, action: action, done: make(chan struct{}), s: s}
	log := logger.From(s.base)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	now := s.opts.Now()
	if lag := now.Sub(fireAt); lag > s.opts.Grace {
		h.state.Store(stateSkipped)
		close(h.done)
		log.Warn("scheduled action skipped: fire time already passed",
			"action", name,
			"fire_at", fireAt,
			"lag_ms", lag.Milliseconds(),
		)
		return h, nil
	}
	s.pending[h] = struct{}{}
	s.wg.Add(1)

	delay := fireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	h.timer = time.AfterFunc(delay, func() { s.fire(h) })
	log.Debug("scheduled action", "action", name, "fire_at", fireAt, "delay_ms", delay.Milliseconds())
	return h, nil
}

func (s *Scheduler) fire(h *Handle) {
	if !h.state.CompareAndSwap(statePending, stateRunning) {
		return
	}
	defer s.wg.Done()
	defer close(h.done)
	defer s.forget(h)
	defer h.state.Store(stateFired)

	log := logger.From(s.base).With("action", h.name, "fire_at", h.fireAt)
	ctx := s.base
	if s.opts.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ActionTimeout)
		defer cancel()
	}

	h.err = run(ctx, h.name, h.action)
	if h.err != nil {
		log.Error("scheduled action failed", "err", h.err)
		return
	}
	log.Info("scheduled action completed")
}

func run(ctx context.Context, name string, action Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: action %q panicked: %v", name, p)
		}
	}()
	return action(ctx)
}

// forget removes a settled handle. For cancelled handles it also releases the
// wait-group slot taken at Schedule time.
func (s *Scheduler) forget(h *Handle) {
	s.mu.Lock()
	_, ok := s.pending[h]
	delete(s.pending, h)
	s.mu.Unlock()
	if ok && h.state.Load() == stateCancelled {
		s.wg.Done()
	}
}

// Pending returns the number of actions waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for h := range s.pending {
		if h.state.Load() == statePending {
			n++
		}
	}
	return n
}

// Close cancels all pending actions and waits for running ones until ctx expires.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]*Handle, 0, len(s.pending))
	for h := range s.pending {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	defer s.cancel()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogValue implements slog.LogValuer.
func (h *Handle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", h.name),
		slog.Time("fire_at", h.fireAt),
	)
}
