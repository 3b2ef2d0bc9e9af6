// Package sink terminates packet flows in a simulation.
//
// A Sink is the final hop after a shaper. It counts what it receives and can
// record arrival order and delay for later inspection.
package sink

import (
	"go.uber.org/zap"

	"github.com/vnykmshr/goshaper/pkg/metrics"
	"github.com/vnykmshr/goshaper/pkg/shaping/shaper"
)

// Config holds sink configuration.
type Config struct {
	// Name labels the sink in logs and metrics (default: "sink").
	Name string

	// Record keeps every received packet in arrival order.
	Record bool

	// Now, if set, is used to measure per-packet delay since creation.
	Now func() float64

	// Logger receives one line per packet. If nil, logging is disabled.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// Sink counts and optionally records the packets it receives.
type Sink struct {
	name     string
	cfg      Config
	received uint64
	packets  []*shaper.Packet

	totalDelay float64
	maxDelay   float64

	logger   *zap.Logger
	registry *metrics.Registry
}

var _ shaper.Sink = (*Sink)(nil)

// New creates a sink.
func New(cfg Config) *Sink {
	name := cfg.Name
	if name == "" {
		name = "sink"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		name:     name,
		cfg:      cfg,
		logger:   logger.Named("sink").With(zap.String("component", name)),
		registry: metrics.Resolve(cfg.Metrics),
	}
}

// Receive accepts a forwarded packet. The packet's lifecycle ends here.
func (s *Sink) Receive(p *shaper.Packet) {
	if p == nil {
		return
	}
	s.received++

	fields := []zap.Field{zap.Stringer("packet", p)}
	if s.cfg.Now != nil {
		now := s.cfg.Now()
		delay := now - float64(p.Created)
		s.totalDelay += delay
		if delay > s.maxDelay {
			s.maxDelay = delay
		}
		fields = append(fields, zap.Float64("delay", delay), zap.Float64("t", now))
	}
	s.logger.Debug("received packet", fields...)

	if s.registry != nil {
		s.registry.SinkPackets.WithLabelValues(s.name).Inc()
	}
	if s.cfg.Record {
		s.packets = append(s.packets, p)
	}
}

// Name returns the sink's name.
func (s *Sink) Name() string {
	return s.name
}

// Received returns the number of packets received.
func (s *Sink) Received() uint64 {
	return s.received
}

// Packets returns the recorded packets in arrival order. It is empty unless
// Config.Record is set.
func (s *Sink) Packets() []*shaper.Packet {
	out := make([]*shaper.Packet, len(s.packets))
	copy(out, s.packets)
	return out
}

// MeanDelay returns the average time from creation to receipt. It is zero
// unless Config.Now is set.
func (s *Sink) MeanDelay() float64 {
	if s.received == 0 {
		return 0
	}
	return s.totalDelay / float64(s.received)
}

// MaxDelay returns the largest time from creation to receipt.
func (s *Sink) MaxDelay() float64 {
	return s.maxDelay
}
