package shaper

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vnykmshr/goshaper/pkg/common/validation"
	"github.com/vnykmshr/goshaper/pkg/metrics"
	"github.com/vnykmshr/goshaper/pkg/shaping/queue"
	"github.com/vnykmshr/goshaper/pkg/shaping/tokenbucket"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

// Scheduler is the slice of the event kernel the shaper depends on.
// *kernel.Kernel satisfies it.
type Scheduler interface {
	Now() kernel.Time
	Schedule(at kernel.Time, fn kernel.Handler) (kernel.Handle, error)
	Cancel(h kernel.Handle) bool
}

// Sink receives forwarded packets and takes ownership of them.
type Sink interface {
	Receive(p *Packet)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(p *Packet)

// Receive calls f(p).
func (f SinkFunc) Receive(p *Packet) {
	f(p)
}

// Config holds shaper configuration. All numeric fields must be positive.
type Config struct {
	// Name labels the shaper in logs and metrics (default: "shaper").
	Name string

	// QueueCapacity is the maximum number of packets waiting for tokens.
	QueueCapacity int

	// BucketCapacity is the maximum number of tokens; the bucket starts full.
	BucketCapacity int

	// TokenRate is the number of tokens added per second of virtual time.
	// One token is added every 1/TokenRate seconds.
	TokenRate float64

	// Logger receives one line per state transition. If nil, logging is disabled.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config

	// OnDiscard, if set, is called for every packet released without being
	// forwarded: admission drops and packets still queued at Close.
	OnDiscard func(p *Packet, reason DiscardReason)
}

// Stats holds cumulative shaper counters.
type Stats struct {
	Arrived         uint64 `json:"arrived"`
	Forwarded       uint64 `json:"forwarded"`
	ForwardedDirect uint64 `json:"forwardedDirect"`
	ForwardedQueued uint64 `json:"forwardedQueued"`
	Queued          uint64 `json:"queued"`
	Dropped         uint64 `json:"dropped"`
	Released        uint64 `json:"released"`
	RefillTicks     uint64 `json:"refillTicks"`
	TokensAdded     uint64 `json:"tokensAdded"`
	TokensDiscarded uint64 `json:"tokensDiscarded"`
}

// State is the shaper's observable position on the (tokens, queue length) grid.
type State struct {
	Tokens   int  `json:"tokens"`
	QueueLen int  `json:"queueLength"`
	Closed   bool `json:"closed"`
}

// Shaper is a token-bucket traffic shaper fronted by a bounded FIFO queue.
//
// A packet is forwarded immediately when a token is available and nothing is
// queued ahead of it; otherwise it waits in the queue, or is dropped if the
// queue is full. A refill timer adds one token every 1/TokenRate seconds and
// then drains the queue while tokens last.
//
// All methods must be called from the goroutine driving the Scheduler.
type Shaper struct {
	name     string
	cfg      Config
	interval kernel.Time

	sched  Scheduler
	sink   Sink
	bucket *tokenbucket.Bucket
	queue  *queue.Queue[*Packet]
	refill kernel.Handle
	closed bool
	stats  Stats

	logger   *zap.Logger
	registry *metrics.Registry
	enabled  bool
}

// New validates cfg, creates a shaper with a full bucket and an empty queue,
// and schedules its first refill one interval from now.
func New(sched Scheduler, sink Sink, cfg Config) (*Shaper, error) {
	if err := validateConfig(sched, sink, cfg); err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "shaper"
	}

	bucket, err := tokenbucket.New(cfg.BucketCapacity)
	if err != nil {
		return nil, err
	}
	q, err := queue.New[*Packet](cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Shaper{
		name:     name,
		cfg:      cfg,
		interval: kernel.Time(1 / cfg.TokenRate),
		sched:    sched,
		sink:     sink,
		bucket:   bucket,
		queue:    q,
		logger:   logger.Named("shaper").With(zap.String("component", name)),
	}

	if cfg.Metrics.Enabled {
		s.registry = metrics.Resolve(cfg.Metrics)
		s.enabled = true
	}

	s.refill, err = sched.Schedule(sched.Now()+s.interval, s.onRefillTick)
	if err != nil {
		return nil, fmt.Errorf("shaper %s: schedule first refill: %w", name, err)
	}

	s.logger.Debug("shaper initialized",
		zap.Int("queueCapacity", cfg.QueueCapacity),
		zap.Int("bucketCapacity", cfg.BucketCapacity),
		zap.Float64("tokenRate", cfg.TokenRate),
		zap.Float64("t", float64(sched.Now())))
	s.updateGauges()

	return s, nil
}

func validateConfig(sched Scheduler, sink Sink, cfg Config) error {
	if sched == nil {
		return validation.ValidateNotNil("shaper", "scheduler", nil)
	}
	if sink == nil {
		return validation.ValidateNotNil("shaper", "sink", nil)
	}
	if err := validation.ValidatePositive("shaper", "queueCapacity", cfg.QueueCapacity); err != nil {
		return err
	}
	if err := validation.ValidatePositive("shaper", "bucketCapacity", cfg.BucketCapacity); err != nil {
		return err
	}
	return validation.ValidatePositiveFloat("shaper", "tokenRate", cfg.TokenRate)
}

// DeliverPacket admits an arriving packet. It forwards, queues or drops it and
// reports which. A drop is an expected outcome of saturation, not an error.
func (s *Shaper) DeliverPacket(p *Packet) Outcome {
	if p == nil {
		return Dropped
	}
	now := s.sched.Now()
	p.Arrived = now

	if s.closed {
		s.logger.Debug("packet dropped, shaper closed", zap.Stringer("packet", p))
		s.discard(p, DiscardDropped)
		return Dropped
	}

	s.stats.Arrived++

	// Only bypass the queue when nothing older is waiting, so packets never overtake each other.
	if s.queue.Empty() && s.bucket.TryTake() {
		s.forward(p, false, now)
		s.updateGauges()
		return Forwarded
	}

	if s.queue.Push(p) {
		s.stats.Queued++
		s.logger.Debug("packet queued",
			zap.Stringer("packet", p),
			zap.Int("queue", s.queue.Len()),
			zap.Int("queueCapacity", s.queue.Cap()),
			zap.Float64("t", float64(now)))
		s.count(metrics.OutcomeQueued)
		s.updateGauges()
		return Queued
	}

	s.stats.Dropped++
	s.logger.Debug("packet dropped, queue full",
		zap.Stringer("packet", p),
		zap.Int("queueCapacity", s.queue.Cap()),
		zap.Float64("t", float64(now)))
	s.count(metrics.OutcomeDropped)
	s.discard(p, DiscardDropped)
	return Dropped
}

// Receive lets a shaper act as the Sink of an upstream component.
func (s *Shaper) Receive(p *Packet) {
	s.DeliverPacket(p)
}

// onRefillTick fires once per refill interval. It re-arms the timer relative
// to its own firing time first, then adds at most one token and drains.
func (s *Shaper) onRefillTick(now kernel.Time) {
	s.refill = 0
	if s.closed {
		return
	}

	h, err := s.sched.Schedule(now+s.interval, s.onRefillTick)
	if err != nil {
		s.logger.Warn("refill timer not rescheduled", zap.Error(err), zap.Float64("t", float64(now)))
	} else {
		s.refill = h
	}

	s.stats.RefillTicks++
	if s.enabled {
		s.registry.ShaperRefillTicks.WithLabelValues(s.name).Inc()
	}

	if s.bucket.Add() {
		s.stats.TokensAdded++
		s.logger.Debug("token added",
			zap.Int("tokens", s.bucket.Tokens()),
			zap.Int("capacity", s.bucket.Capacity()),
			zap.Float64("t", float64(now)))
	} else {
		s.stats.TokensDiscarded++
		s.logger.Debug("token discarded, bucket full",
			zap.Int("capacity", s.bucket.Capacity()),
			zap.Float64("t", float64(now)))
		if s.enabled {
			s.registry.ShaperTokensDiscarded.WithLabelValues(s.name).Inc()
		}
	}

	s.drain(now)
	s.updateGauges()
}

// drain forwards queued packets in arrival order while tokens remain. A token
// is spent exactly when a packet leaves.
func (s *Shaper) drain(now kernel.Time) int {
	n := 0
	for !s.queue.Empty() && s.bucket.TryTake() {
		p, _ := s.queue.Pop()
		s.forward(p, true, now)
		n++
	}
	return n
}

func (s *Shaper) forward(p *Packet, fromQueue bool, now kernel.Time) {
	s.stats.Forwarded++
	outcome := metrics.OutcomeForwardedDirect
	msg := "packet forwarded"
	if fromQueue {
		s.stats.ForwardedQueued++
		outcome = metrics.OutcomeForwardedQueued
		msg = "queued packet forwarded"
	} else {
		s.stats.ForwardedDirect++
	}

	s.logger.Debug(msg,
		zap.Stringer("packet", p),
		zap.Int("tokens", s.bucket.Tokens()),
		zap.Int("queue", s.queue.Len()),
		zap.Float64("t", float64(now)))
	s.count(outcome)
	s.sink.Receive(p)
}

func (s *Shaper) discard(p *Packet, reason DiscardReason) {
	if s.cfg.OnDiscard != nil {
		s.cfg.OnDiscard(p, reason)
	}
}

// Close cancels the refill timer and releases every packet still queued
// without forwarding it. It is safe to call more than once, and on a shaper
// whose construction failed.
func (s *Shaper) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	if s.refill.Valid() && s.sched != nil {
		s.sched.Cancel(s.refill)
	}
	s.refill = 0

	released := 0
	if s.queue != nil {
		released = s.queue.Clear(func(p *Packet) {
			s.stats.Released++
			if s.logger != nil {
				s.logger.Debug("packet released at teardown", zap.Stringer("packet", p))
			}
			s.count(metrics.OutcomeReleased)
			s.discard(p, DiscardTeardown)
		})
	}

	if s.logger != nil {
		s.logger.Debug("shaper closed", zap.Int("released", released))
	}
	if s.bucket != nil {
		s.updateGauges()
	}
	return nil
}

// Name returns the shaper's name.
func (s *Shaper) Name() string {
	return s.name
}

// Config returns the configuration the shaper was built with.
func (s *Shaper) Config() Config {
	return s.cfg
}

// Interval returns the virtual time between refill ticks.
func (s *Shaper) Interval() kernel.Time {
	return s.interval
}

// Tokens returns the number of tokens in the bucket.
func (s *Shaper) Tokens() int {
	return s.bucket.Tokens()
}

// QueueLen returns the number of packets waiting.
func (s *Shaper) QueueLen() int {
	return s.queue.Len()
}

// Closed reports whether Close has been called.
func (s *Shaper) Closed() bool {
	return s.closed
}

// State returns the current (tokens, queue length) pair.
func (s *Shaper) State() State {
	return State{
		Tokens:   s.bucket.Tokens(),
		QueueLen: s.queue.Len(),
		Closed:   s.closed,
	}
}

// Stats returns cumulative counters.
func (s *Shaper) Stats() Stats {
	return s.stats
}
