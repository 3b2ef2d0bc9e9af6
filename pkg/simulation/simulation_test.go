package simulation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/metrics"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

func scenario(mean float64, queue, bucket int, rate, duration float64) Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Duration = duration
	cfg.Source.MeanInterArrivalTime = mean
	cfg.Shaper = ShaperConfig{QueueSize: queue, BucketSize: bucket, TokenRate: rate}
	return cfg
}

func requireConservation(t *testing.T, res *Result) {
	t.Helper()
	st := res.Shaper
	require.Equal(t, res.Sent, st.Arrived)
	require.Equal(t, st.Arrived, st.Forwarded+st.Dropped+st.Released)
	require.Equal(t, res.Received, st.Forwarded)
	require.Equal(t, uint64(res.Final.QueueLen), st.Released)
}

func TestRunDefault(t *testing.T) {
	res, err := Run(context.Background(), DefaultConfig(), Options{})
	require.NoError(t, err)

	require.Equal(t, "default", res.Name)
	require.Equal(t, 60.0, res.EndTime)
	require.NotZero(t, res.Sent)
	require.Greater(t, res.Events, int(res.Sent))
	requireConservation(t, res)

	// Refills happen every half second for a minute.
	require.Equal(t, uint64(120), res.Shaper.RefillTicks)

	times := make([]kernel.Time, len(res.Snapshots))
	for i, s := range res.Snapshots {
		times[i] = s.At
	}
	require.Equal(t, []kernel.Time{10, 20, 30, 40, 50, 60}, times)
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	b, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	require.Equal(t, a, b)

	cfg.Seed = 2
	c, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	require.NotEqual(t, a.Snapshots, c.Snapshots)
}

func TestRunSaturated(t *testing.T) {
	res, err := Run(context.Background(), scenario(0.01, 3, 2, 1, 30.5), Options{RecordPackets: true})
	require.NoError(t, err)
	requireConservation(t, res)

	require.NotZero(t, res.Shaper.Dropped)
	require.Greater(t, res.DropRate(), 0.9)
	require.Equal(t, 3, res.Final.QueueLen)
	require.Equal(t, 0, res.Final.Tokens)

	// Output never exceeds the burst plus one token per refill.
	require.LessOrEqual(t, res.Shaper.Forwarded, uint64(2+30))

	ids := make([]uint64, len(res.Delivered))
	for i, p := range res.Delivered {
		ids[i] = p.ID
	}
	require.IsIncreasing(t, ids)
	require.Greater(t, res.MaxDelay, 0.0)
}

func TestRunUnderloaded(t *testing.T) {
	res, err := Run(context.Background(), scenario(5, 3, 4, 50, 200), Options{})
	require.NoError(t, err)
	requireConservation(t, res)

	require.Zero(t, res.Shaper.Dropped)
	require.Zero(t, res.Shaper.Queued)
	require.Equal(t, res.Sent, res.Received)
	require.Equal(t, 0.0, res.MeanDelay)
	require.Equal(t, 0.0, res.DropRate())
}

func TestRunMaxPackets(t *testing.T) {
	cfg := scenario(0.1, 10, 10, 10, 1000)
	cfg.Source.MaxPackets = 5
	cfg.Probe.Schedule = ""

	res, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	require.Equal(t, uint64(5), res.Sent)
	require.Equal(t, uint64(5), res.Received)
	require.Empty(t, res.Snapshots)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shaper.TokenRate = 0

	res, err := Run(context.Background(), cfg, Options{})
	require.Nil(t, res)
	require.True(t, gserrors.IsValidationError(err))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, DefaultConfig(), Options{})
	require.Nil(t, res)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestRunLogsAndMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reg := prometheus.NewRegistry()
	mcfg := metrics.Config{Enabled: true, Registry: reg}

	res, err := Run(context.Background(), scenario(0.05, 5, 5, 4, 20), Options{
		Logger:  zap.New(core),
		Metrics: mcfg,
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.FilterMessage("simulation started").Len())
	finished := logs.FilterMessage("simulation finished").All()
	require.Len(t, finished, 1)
	require.Equal(t, "test", finished[0].ContextMap()["scenario"])

	r := metrics.Resolve(mcfg)
	require.Equal(t, float64(res.Sent), promtest.ToFloat64(r.SourcePackets.WithLabelValues(ComponentName("test", SourceName))))
	require.Equal(t, float64(res.Received), promtest.ToFloat64(r.SinkPackets.WithLabelValues(ComponentName("test", SinkName))))
	require.Equal(t, float64(res.Shaper.Dropped),
		promtest.ToFloat64(r.ShaperPackets.WithLabelValues(ComponentName("test", ShaperName), metrics.OutcomeDropped)))
	require.Equal(t, float64(res.Events), promtest.ToFloat64(r.KernelEvents.WithLabelValues("test")))
}

func TestConcurrentRunsKeepSeparateSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	mcfg := metrics.Config{Enabled: true, Registry: reg}

	busy := scenario(0.05, 3, 2, 1, 20.5)
	busy.Name = "busy"
	idle := scenario(5, 3, 2, 1, 20.5)
	idle.Name = "idle"

	configs := []Config{busy, idle}
	results := make([]*Result, len(configs))
	errs := make([]error, len(configs))

	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg Config) {
			defer wg.Done()
			results[i], errs[i] = Run(context.Background(), cfg, Options{Metrics: mcfg})
		}(i, cfg)
	}
	wg.Wait()

	r := metrics.Resolve(mcfg)
	for i, cfg := range configs {
		require.NoError(t, errs[i])
		res := results[i]
		name := ComponentName(cfg.Name, ShaperName)
		require.Equal(t, float64(res.Final.Tokens), promtest.ToFloat64(r.ShaperTokens.WithLabelValues(name)))
		require.Equal(t, float64(res.Shaper.Dropped),
			promtest.ToFloat64(r.ShaperPackets.WithLabelValues(name, metrics.OutcomeDropped)))
		require.Equal(t, float64(res.Sent),
			promtest.ToFloat64(r.SourcePackets.WithLabelValues(ComponentName(cfg.Name, SourceName))))
	}
	require.Greater(t, results[0].Shaper.Dropped, results[1].Shaper.Dropped)
}
