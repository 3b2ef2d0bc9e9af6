package source

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/common/validation"
	"github.com/vnykmshr/goshaper/pkg/metrics"
	"github.com/vnykmshr/goshaper/pkg/shaping/shaper"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

// Receiver accepts packets emitted by a Source. *shaper.Shaper satisfies it.
type Receiver interface {
	DeliverPacket(p *shaper.Packet) shaper.Outcome
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(p *shaper.Packet) shaper.Outcome

// DeliverPacket calls f(p).
func (f ReceiverFunc) DeliverPacket(p *shaper.Packet) shaper.Outcome {
	return f(p)
}

// Config holds source configuration.
type Config struct {
	// Name labels the source in logs and metrics (default: "source").
	Name string

	// MeanInterArrival is the mean of the exponential gap between packets,
	// in seconds of virtual time. Ignored when Interarrival is set.
	MeanInterArrival float64

	// MaxPackets stops the source after that many emissions (0 = unlimited).
	MaxPackets uint64

	// Seed selects the random stream. Runs with equal seeds emit identically.
	Seed uint64

	// Interarrival, if set, replaces the exponential distribution.
	Interarrival func() float64

	// Logger receives one line per emission. If nil, logging is disabled.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// DefaultConfig returns a source emitting on average one packet per second.
func DefaultConfig() Config {
	return Config{
		Name:             "source",
		MeanInterArrival: 1,
	}
}

// Source emits packets into a Receiver with random inter-arrival gaps.
type Source struct {
	name   string
	cfg    Config
	sched  shaper.Scheduler
	target Receiver
	next   func() float64

	pending  kernel.Handle
	running  bool
	sent     uint64
	outcomes map[shaper.Outcome]uint64

	logger   *zap.Logger
	registry *metrics.Registry
}

// New creates a stopped source. Call Start to begin emitting.
func New(sched shaper.Scheduler, target Receiver, cfg Config) (*Source, error) {
	if sched == nil {
		return nil, validation.ValidateNotNil("source", "scheduler", nil)
	}
	if target == nil {
		return nil, validation.ValidateNotNil("source", "target", nil)
	}
	if cfg.Interarrival == nil {
		if err := validation.ValidatePositiveFloat("source", "meanInterArrival", cfg.MeanInterArrival); err != nil {
			return nil, err
		}
	}

	name := cfg.Name
	if name == "" {
		name = "source"
	}

	next := cfg.Interarrival
	if next == nil {
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
		mean := cfg.MeanInterArrival
		next = func() float64 { return rng.ExpFloat64() * mean }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Source{
		name:     name,
		cfg:      cfg,
		sched:    sched,
		target:   target,
		next:     next,
		outcomes: make(map[shaper.Outcome]uint64),
		logger:   logger.Named("source").With(zap.String("component", name)),
		registry: metrics.Resolve(cfg.Metrics),
	}, nil
}

// Start schedules the first emission one inter-arrival gap from now.
func (s *Source) Start() error {
	if s.running {
		return nil
	}
	if s.exhausted() {
		return gserrors.NewOperationError("source", "Start", gserrors.ErrClosed).
			WithContext(fmt.Sprintf("%d packets already sent", s.sent))
	}
	if err := s.scheduleNext(s.sched.Now()); err != nil {
		return err
	}
	s.running = true
	s.logger.Debug("source started", zap.Float64("t", float64(s.sched.Now())))
	return nil
}

// Stop cancels the pending emission. It is safe to call more than once.
func (s *Source) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.sched.Cancel(s.pending)
	s.pending = 0
	s.logger.Debug("source stopped", zap.Uint64("sent", s.sent))
}

// Running reports whether an emission is pending.
func (s *Source) Running() bool {
	return s.running
}

// Sent returns the number of packets emitted so far.
func (s *Source) Sent() uint64 {
	return s.sent
}

// Outcomes returns how many emitted packets met each admission outcome.
func (s *Source) Outcomes() map[shaper.Outcome]uint64 {
	out := make(map[shaper.Outcome]uint64, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

// Name returns the source's name.
func (s *Source) Name() string {
	return s.name
}

func (s *Source) exhausted() bool {
	return s.cfg.MaxPackets > 0 && s.sent >= s.cfg.MaxPackets
}

func (s *Source) scheduleNext(from kernel.Time) error {
	gap := s.next()
	if gap < 0 {
		gap = 0
	}
	h, err := s.sched.Schedule(from+kernel.Time(gap), s.emit)
	if err != nil {
		return fmt.Errorf("source %s: schedule emission: %w", s.name, err)
	}
	s.pending = h
	return nil
}

func (s *Source) emit(now kernel.Time) {
	s.pending = 0
	s.sent++
	p := &shaper.Packet{
		ID:      s.sent,
		Name:    fmt.Sprintf("packet-%d", s.sent),
		Created: now,
	}

	s.logger.Debug("sending packet", zap.Stringer("packet", p), zap.Float64("t", float64(now)))
	if s.registry != nil {
		s.registry.SourcePackets.WithLabelValues(s.name).Inc()
	}

	s.outcomes[s.target.DeliverPacket(p)]++

	if !s.running {
		return
	}
	if s.exhausted() {
		s.running = false
		s.logger.Debug("source exhausted", zap.Uint64("sent", s.sent))
		return
	}
	if err := s.scheduleNext(now); err != nil {
		s.running = false
		s.logger.Warn("source halted", zap.Error(err))
	}
}
