package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/goshaper/pkg/common/validation"
	"github.com/vnykmshr/goshaper/pkg/metrics"
	"github.com/vnykmshr/goshaper/pkg/simulation"
)

// RunFunc runs one scenario. simulation.Run is the default.
type RunFunc func(ctx context.Context, cfg simulation.Config, opts simulation.Options) (*simulation.Result, error)

// Config holds batch configuration.
type Config struct {
	// Workers is the number of scenarios run at once. Must be positive.
	Workers int

	// Timeout bounds the wall-clock time of each scenario. Zero means no timeout.
	Timeout time.Duration

	// Logger is passed to every run. If nil, logging is disabled.
	Logger *zap.Logger

	// Metrics is passed to every run.
	Metrics metrics.Config

	// Run replaces simulation.Run, mainly for tests.
	Run RunFunc

	// OnDone, if set, is called from the worker goroutine as each scenario finishes.
	OnDone func(Outcome)
}

// DefaultConfig returns a configuration with four workers.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Outcome is the result of one scenario in a batch.
type Outcome struct {
	// Index is the scenario's position in the input slice.
	Index int

	Scenario simulation.Config
	Result   *simulation.Result
	Err      error

	// Elapsed is the wall-clock time the run took.
	Elapsed time.Duration

	// Worker identifies the goroutine that ran the scenario.
	Worker int
}

type job struct {
	index int
	cfg   simulation.Config
}

// Run executes every scenario on a pool of workers. Each scenario gets its
// own kernel, so runs share nothing but the logger and metrics registry.
// Outcomes are returned in input order. A failing scenario is reported in its
// Outcome and does not stop the others; Run itself fails only on invalid
// configuration or when ctx is cancelled before every scenario finished.
func Run(ctx context.Context, scenarios []simulation.Config, cfg Config) ([]Outcome, error) {
	if err := validation.ValidatePositive("batch", "workers", cfg.Workers); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("batch", "timeout", cfg.Timeout.Seconds()); err != nil {
		return nil, err
	}
	run := cfg.Run
	if run == nil {
		run = simulation.Run
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("batch")

	outcomes := make([]Outcome, len(scenarios))
	jobs := make(chan job)

	workers := cfg.Workers
	if workers > len(scenarios) {
		workers = len(scenarios)
	}

	var wg sync.WaitGroup
	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range jobs {
				o := execute(ctx, id, j, run, cfg)
				outcomes[j.index] = o
				if o.Err != nil {
					logger.Warn("scenario failed", zap.String("scenario", j.cfg.Name), zap.Int("worker", id), zap.Error(o.Err))
				} else {
					logger.Debug("scenario finished", zap.String("scenario", j.cfg.Name), zap.Int("worker", id), zap.Duration("elapsed", o.Elapsed))
				}
				if cfg.OnDone != nil {
					cfg.OnDone(o)
				}
			}
		}(id)
	}

	var ctxErr error
feed:
	for i, sc := range scenarios {
		select {
		case jobs <- job{index: i, cfg: sc}:
		case <-ctx.Done():
			ctxErr = ctx.Err()
			for k := i; k < len(scenarios); k++ {
				outcomes[k] = Outcome{Index: k, Scenario: scenarios[k], Err: ctxErr, Worker: -1}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if ctxErr == nil {
		ctxErr = ctx.Err()
	}
	if ctxErr != nil {
		return outcomes, fmt.Errorf("batch cancelled: %w", ctxErr)
	}
	return outcomes, nil
}

func execute(ctx context.Context, worker int, j job, run RunFunc, cfg Config) (o Outcome) {
	o = Outcome{Index: j.index, Scenario: j.cfg, Worker: worker}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			o.Result = nil
			o.Err = fmt.Errorf("scenario %s panicked: %v\nStack trace:\n%s", j.cfg.Name, r, debug.Stack())
		}
		o.Elapsed = time.Since(start)
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	o.Result, o.Err = run(ctx, j.cfg, simulation.Options{Logger: cfg.Logger, Metrics: cfg.Metrics})
	return o
}

// Failed returns the outcomes that ended in an error.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}
