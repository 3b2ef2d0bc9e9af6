package kernel

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/metrics"
)

var (
	// ErrPastEvent is returned when an event is scheduled before the current virtual time.
	ErrPastEvent = errors.New("event time is before current virtual time")

	// ErrNilHandler is returned when an event is scheduled without a handler.
	ErrNilHandler = errors.New("event handler cannot be nil")
)

// Handle identifies a scheduled event. The zero Handle never refers to an event.
type Handle uint64

// Valid reports whether h was returned by a successful Schedule call.
func (h Handle) Valid() bool {
	return h != 0
}

// Handler is invoked when its event fires. now is the event's virtual time.
type Handler func(now Time)

// Config holds kernel configuration.
type Config struct {
	// Name labels the kernel in logs and metrics (default: "kernel").
	Name string

	// Start is the initial virtual time (default: 0).
	Start Time

	// Logger receives debug output. If nil, logging is disabled.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// Kernel is a single-threaded discrete-event scheduler. Events run in
// non-decreasing virtual time; events scheduled for the same instant run in
// the order they were scheduled. Handlers run synchronously on the caller's
// goroutine, so a Kernel and everything it drives must not be shared across
// goroutines.
type Kernel struct {
	name     string
	now      Time
	seq      uint64
	events   eventHeap
	pending  map[Handle]*event
	executed uint64
	stopped  bool

	logger   *zap.Logger
	registry *metrics.Registry
}

// New creates a kernel with default configuration.
func New() *Kernel {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a kernel with custom configuration.
func NewWithConfig(cfg Config) *Kernel {
	name := cfg.Name
	if name == "" {
		name = "kernel"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Kernel{
		name:     name,
		now:      cfg.Start,
		pending:  make(map[Handle]*event),
		logger:   logger.Named("kernel").With(zap.String("component", name)),
		registry: metrics.Resolve(cfg.Metrics),
	}
}

// Now returns the current virtual time.
func (k *Kernel) Now() Time {
	return k.now
}

// Schedule registers fn to run at virtual time at.
func (k *Kernel) Schedule(at Time, fn Handler) (Handle, error) {
	if fn == nil {
		return 0, ErrNilHandler
	}
	if k.stopped {
		return 0, fmt.Errorf("kernel %s: %w", k.name, gserrors.ErrClosed)
	}
	if math.IsNaN(float64(at)) || at < k.now {
		return 0, fmt.Errorf("schedule at %v (now %v): %w", at, k.now, ErrPastEvent)
	}

	k.seq++
	ev := &event{
		at:     at,
		seq:    k.seq,
		handle: Handle(k.seq),
		fn:     fn,
	}
	heap.Push(&k.events, ev)
	k.pending[ev.handle] = ev

	return ev.handle, nil
}

// ScheduleAfter registers fn to run delay seconds after the current virtual time.
func (k *Kernel) ScheduleAfter(delay Time, fn Handler) (Handle, error) {
	if delay < 0 {
		return 0, fmt.Errorf("delay must be non-negative, got %v: %w", delay, ErrPastEvent)
	}
	return k.Schedule(k.now+delay, fn)
}

// Cancel removes a pending event. It returns true only if the event was still
// pending; cancelling a fired, cancelled or zero handle is a no-op.
func (k *Kernel) Cancel(h Handle) bool {
	ev, ok := k.pending[h]
	if !ok {
		return false
	}
	delete(k.pending, h)
	heap.Remove(&k.events, ev.index)
	return true
}

// Pending returns the number of events waiting to fire.
func (k *Kernel) Pending() int {
	return len(k.events)
}

// NextEventTime returns the time of the earliest pending event.
func (k *Kernel) NextEventTime() (Time, bool) {
	if len(k.events) == 0 {
		return 0, false
	}
	return k.events[0].at, true
}

// Executed returns the number of events dispatched so far.
func (k *Kernel) Executed() uint64 {
	return k.executed
}

// Step dispatches the earliest pending event. It returns false when there is
// nothing to run or the kernel has been stopped.
func (k *Kernel) Step() bool {
	if k.stopped || len(k.events) == 0 {
		return false
	}

	ev := heap.Pop(&k.events).(*event)
	delete(k.pending, ev.handle)
	k.now = ev.at
	k.executed++

	if k.registry != nil {
		k.registry.KernelEvents.WithLabelValues(k.name).Inc()
		k.registry.KernelVirtualTime.WithLabelValues(k.name).Set(float64(k.now))
	}

	ev.fn(k.now)
	return true
}

// Run dispatches events up to and including virtual time until, then advances
// the clock to until. It returns the number of events dispatched.
func (k *Kernel) Run(until Time) int {
	n, _ := k.RunContext(context.Background(), until)
	return n
}

// RunContext is like Run but checks ctx between events.
func (k *Kernel) RunContext(ctx context.Context, until Time) (int, error) {
	n := 0
	for !k.stopped {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if len(k.events) == 0 || k.events[0].at > until {
			break
		}
		k.Step()
		n++
	}

	if !k.stopped && until > k.now {
		k.now = until
	}

	k.logger.Debug("run finished",
		zap.Int("events", n),
		zap.Float64("t", float64(k.now)),
		zap.Int("pending", len(k.events)))

	return n, nil
}

// Stop ends the current Run after the in-flight handler returns and rejects
// further scheduling. Pending events are discarded.
func (k *Kernel) Stop() {
	if k.stopped {
		return
	}
	k.stopped = true
	k.pending = make(map[Handle]*event)
	k.events = nil
}

// Stopped reports whether Stop has been called.
func (k *Kernel) Stopped() bool {
	return k.stopped
}
