package probe

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/common/validation"
	"github.com/vnykmshr/goshaper/pkg/shaping/shaper"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

// Sampler exposes the shaper state a probe records. *shaper.Shaper satisfies it.
type Sampler interface {
	State() shaper.State
	Stats() shaper.Stats
}

// Snapshot is one sample of a shaper's state.
type Snapshot struct {
	At    kernel.Time  `json:"at"`
	State shaper.State `json:"state"`
	Stats shaper.Stats `json:"stats"`
}

// Config holds probe configuration.
type Config struct {
	// Name labels the probe in logs (default: "probe").
	Name string

	// Schedule is a cron expression evaluated in virtual time. Five-field,
	// six-field (leading seconds) and descriptor forms such as "@every 10s"
	// are accepted.
	Schedule string

	// OnSample, if set, is called with every snapshot as it is taken.
	OnSample func(Snapshot)

	// Logger receives one line per sample. If nil, logging is disabled.
	Logger *zap.Logger
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression without creating a probe.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if err := validation.ValidateNotEmpty("probe", "schedule", expr); err != nil {
		return nil, err
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, gserrors.NewValidationError("probe", "schedule", expr, err.Error()).
			WithHint(`use a cron expression such as "*/5 * * * *" or "@every 10s"`)
	}
	return schedule, nil
}

// Probe samples a shaper on a cron schedule mapped onto virtual time through
// kernel.Epoch.
type Probe struct {
	name      string
	cfg       Config
	sched     shaper.Scheduler
	target    Sampler
	schedule  cron.Schedule
	pending   kernel.Handle
	running   bool
	snapshots []Snapshot
	logger    *zap.Logger
}

// New creates a stopped probe.
func New(sched shaper.Scheduler, target Sampler, cfg Config) (*Probe, error) {
	if sched == nil {
		return nil, validation.ValidateNotNil("probe", "scheduler", nil)
	}
	if target == nil {
		return nil, validation.ValidateNotNil("probe", "target", nil)
	}
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "probe"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Probe{
		name:     name,
		cfg:      cfg,
		sched:    sched,
		target:   target,
		schedule: schedule,
		logger:   logger.Named("probe").With(zap.String("component", name)),
	}, nil
}

// Start schedules the first sample at the next schedule activation.
func (p *Probe) Start() error {
	if p.running {
		return nil
	}
	if err := p.scheduleNext(p.sched.Now()); err != nil {
		return err
	}
	p.running = true
	return nil
}

// Stop cancels the pending sample. It is safe to call more than once.
func (p *Probe) Stop() {
	if !p.running {
		return
	}
	p.running = false
	p.sched.Cancel(p.pending)
	p.pending = 0
}

// Sample records a snapshot immediately, outside the schedule.
func (p *Probe) Sample() Snapshot {
	snap := Snapshot{
		At:    p.sched.Now(),
		State: p.target.State(),
		Stats: p.target.Stats(),
	}
	p.snapshots = append(p.snapshots, snap)

	p.logger.Debug("sample",
		zap.Int("tokens", snap.State.Tokens),
		zap.Int("queue", snap.State.QueueLen),
		zap.Uint64("forwarded", snap.Stats.Forwarded),
		zap.Uint64("dropped", snap.Stats.Dropped),
		zap.Float64("t", float64(snap.At)))
	if p.cfg.OnSample != nil {
		p.cfg.OnSample(snap)
	}
	return snap
}

// Snapshots returns every sample taken so far, oldest first.
func (p *Probe) Snapshots() []Snapshot {
	out := make([]Snapshot, len(p.snapshots))
	copy(out, p.snapshots)
	return out
}

// Next returns the virtual time of the schedule activation after t. Beyond
// kernel.MaxTime the result saturates, so it is never after t.
func (p *Probe) Next(t kernel.Time) kernel.Time {
	return kernel.FromWall(p.schedule.Next(t.Wall()))
}

func (p *Probe) scheduleNext(from kernel.Time) error {
	at := p.Next(from)
	if at <= from {
		return fmt.Errorf("probe %s: schedule %q has no activation after t=%v", p.name, p.cfg.Schedule, from)
	}
	h, err := p.sched.Schedule(at, p.fire)
	if err != nil {
		return fmt.Errorf("probe %s: schedule sample: %w", p.name, err)
	}
	p.pending = h
	return nil
}

func (p *Probe) fire(now kernel.Time) {
	p.pending = 0
	p.Sample()
	if !p.running {
		return
	}
	if err := p.scheduleNext(now); err != nil {
		p.running = false
		p.logger.Warn("probe halted", zap.Error(err))
	}
}
