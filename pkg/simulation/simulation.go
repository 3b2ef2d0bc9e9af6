package simulation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vnykmshr/goshaper/pkg/metrics"
	"github.com/vnykmshr/goshaper/pkg/shaping/shaper"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
	"github.com/vnykmshr/goshaper/pkg/sim/probe"
	"github.com/vnykmshr/goshaper/pkg/traffic/sink"
	"github.com/vnykmshr/goshaper/pkg/traffic/source"
)

// Component names used in logs and metric labels. Run scopes them to the
// scenario with ComponentName.
const (
	SourceName = "stationA"
	ShaperName = "trafficShaper"
	SinkName   = "stationB"
)

// ComponentName returns the label a component carries in the given scenario,
// so concurrent runs on one registry keep separate series.
func ComponentName(scenario, component string) string {
	return scenario + "/" + component
}

// Options carries the ambient dependencies of a run.
type Options struct {
	// Logger is shared by every component. If nil, logging is disabled.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation for every component.
	Metrics metrics.Config

	// RecordPackets keeps every delivered packet in Result.Delivered.
	RecordPackets bool
}

// Result summarises a completed run.
type Result struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	EndTime  float64 `json:"endTime"`
	Events   int     `json:"events"`

	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`

	MeanDelay float64 `json:"meanDelay"`
	MaxDelay  float64 `json:"maxDelay"`

	// Final is the shaper state at the horizon, before teardown.
	Final  shaper.State `json:"final"`
	Shaper shaper.Stats `json:"shaper"`

	Snapshots []probe.Snapshot `json:"snapshots,omitempty"`
	Delivered []*shaper.Packet `json:"-"`
}

// DropRate returns the fraction of arrivals dropped at admission.
func (r *Result) DropRate() float64 {
	if r.Shaper.Arrived == 0 {
		return 0
	}
	return float64(r.Shaper.Dropped) / float64(r.Shaper.Arrived)
}

// Run builds a source, shaper and sink on a fresh kernel, runs them until
// cfg.Duration and tears everything down. ctx is checked between events; a
// cancelled run still tears down before returning the context error.
func Run(ctx context.Context, cfg Config, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("scenario", cfg.Name))

	k := kernel.NewWithConfig(kernel.Config{
		Name:    cfg.Name,
		Logger:  logger,
		Metrics: opts.Metrics,
	})

	dst := sink.New(sink.Config{
		Name:    ComponentName(cfg.Name, SinkName),
		Record:  opts.RecordPackets,
		Now:     func() float64 { return k.Now().Seconds() },
		Logger:  logger,
		Metrics: opts.Metrics,
	})

	sh, err := shaper.New(k, dst, shaper.Config{
		Name:           ComponentName(cfg.Name, ShaperName),
		QueueCapacity:  cfg.Shaper.QueueSize,
		BucketCapacity: cfg.Shaper.BucketSize,
		TokenRate:      cfg.Shaper.TokenRate,
		Logger:         logger,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("simulation %s: %w", cfg.Name, err)
	}
	defer sh.Close()

	src, err := source.New(k, sh, source.Config{
		Name:             ComponentName(cfg.Name, SourceName),
		MeanInterArrival: cfg.Source.MeanInterArrivalTime,
		MaxPackets:       cfg.Source.MaxPackets,
		Seed:             cfg.Seed,
		Logger:           logger,
		Metrics:          opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("simulation %s: %w", cfg.Name, err)
	}

	var p *probe.Probe
	if cfg.Probe.Schedule != "" {
		p, err = probe.New(k, sh, probe.Config{Schedule: cfg.Probe.Schedule, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("simulation %s: %w", cfg.Name, err)
		}
		if err := p.Start(); err != nil {
			return nil, fmt.Errorf("simulation %s: %w", cfg.Name, err)
		}
	}

	if err := src.Start(); err != nil {
		return nil, fmt.Errorf("simulation %s: %w", cfg.Name, err)
	}

	logger.Info("simulation started",
		zap.Float64("duration", cfg.Duration),
		zap.Int("queueSize", cfg.Shaper.QueueSize),
		zap.Int("bucketSize", cfg.Shaper.BucketSize),
		zap.Float64("tokenRate", cfg.Shaper.TokenRate),
		zap.Float64("meanInterArrivalTime", cfg.Source.MeanInterArrivalTime))

	events, runErr := k.RunContext(ctx, kernel.Time(cfg.Duration))

	src.Stop()
	if p != nil {
		p.Stop()
	}
	final := sh.State()
	if err := sh.Close(); err != nil {
		return nil, fmt.Errorf("simulation %s: close shaper: %w", cfg.Name, err)
	}

	if runErr != nil {
		logger.Warn("simulation interrupted", zap.Error(runErr), zap.Float64("t", k.Now().Seconds()))
		return nil, fmt.Errorf("simulation %s interrupted at t=%v: %w", cfg.Name, k.Now(), runErr)
	}

	res := &Result{
		Name:      cfg.Name,
		Duration:  cfg.Duration,
		EndTime:   k.Now().Seconds(),
		Events:    events,
		Sent:      src.Sent(),
		Received:  dst.Received(),
		MeanDelay: dst.MeanDelay(),
		MaxDelay:  dst.MaxDelay(),
		Final:     final,
		Shaper:    sh.Stats(),
		Delivered: dst.Packets(),
	}
	if p != nil {
		res.Snapshots = p.Snapshots()
	}

	logger.Info("simulation finished",
		zap.Uint64("sent", res.Sent),
		zap.Uint64("received", res.Received),
		zap.Uint64("dropped", res.Shaper.Dropped),
		zap.Uint64("released", res.Shaper.Released),
		zap.Int("events", events))

	return res, nil
}
