package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/vnykmshr/goshaper/pkg/batch"
	"github.com/vnykmshr/goshaper/pkg/metrics"
	"github.com/vnykmshr/goshaper/pkg/report"
	"github.com/vnykmshr/goshaper/pkg/simulation"
)

// cli holds the parsed command line. A fresh one is built per invocation so
// tests can parse repeatedly.
type cli struct {
	app *kingpin.Application

	logLevel    *string
	redisAddr   *string
	redisPrefix *string

	run              *kingpin.CmdClause
	config           *string
	name             *string
	duration         *float64
	queueSize        *int
	tokenRate        *float64
	bucketSize       *int
	meanInterarrival *float64
	maxPackets       *uint64
	seed             *uint64
	probeSchedule    *string
	asJSON           *bool
	metricsAddr      *string
	redisTTL         *time.Duration

	validate     *kingpin.CmdClause
	validateFile *string

	batch        *kingpin.CmdClause
	batchFiles   *[]string
	batchWorkers *int
	batchTimeout *time.Duration
	batchJSON    *bool

	list *kingpin.CmdClause

	show     *kingpin.CmdClause
	showName *string
}

func newCLI() *cli {
	c := &cli{app: kingpin.New("shapersim", "Discrete-event token-bucket traffic shaper simulator.")}

	c.logLevel = c.app.Flag("log-level", "Log level (debug, info, warn, error).").Default("info").String()
	c.redisAddr = c.app.Flag("redis-addr", "Redis address for stored run summaries.").String()
	c.redisPrefix = c.app.Flag("redis-prefix", "Key prefix for stored run summaries.").Default(report.DefaultKeyPrefix).String()

	c.run = c.app.Command("run", "Run a simulation.")
	c.config = c.run.Flag("config", "YAML scenario file.").Short('c').ExistingFile()
	c.name = c.run.Flag("name", "Scenario name.").String()
	c.duration = c.run.Flag("duration", "Simulated horizon in seconds.").Float64()
	c.queueSize = c.run.Flag("queue-size", "Shaper queue capacity.").Int()
	c.tokenRate = c.run.Flag("token-rate", "Tokens added per second.").Float64()
	c.bucketSize = c.run.Flag("bucket-size", "Token bucket capacity.").Int()
	c.meanInterarrival = c.run.Flag("mean-interarrival", "Mean gap between packets in seconds.").Float64()
	c.maxPackets = c.run.Flag("max-packets", "Stop the source after this many packets.").Uint64()
	c.seed = c.run.Flag("seed", "Random seed for the traffic source (0 keeps the scenario seed).").Uint64()
	c.probeSchedule = c.run.Flag("probe", `Probe cron schedule, e.g. "every 10s", "hourly" or "*/5 * * * *" ("off" disables). A leading @ must be attached with =, as in --probe=@every 10s.`).String()
	c.asJSON = c.run.Flag("json", "Print the summary as JSON.").Bool()
	c.metricsAddr = c.run.Flag("metrics-addr", "Serve Prometheus metrics on this address after the run until interrupted.").String()
	c.redisTTL = c.run.Flag("redis-ttl", "Expire stored summaries after this long (0 keeps them).").Default("0s").Duration()

	c.validate = c.app.Command("validate", "Validate a YAML scenario file.")
	c.validateFile = c.validate.Arg("file", "Scenario file.").Required().ExistingFile()

	c.batch = c.app.Command("batch", "Run several scenario files concurrently.")
	c.batchFiles = c.batch.Arg("files", "Scenario files.").Required().ExistingFiles()
	c.batchWorkers = c.batch.Flag("workers", "Scenarios run at once.").Default("4").Int()
	c.batchTimeout = c.batch.Flag("timeout", "Wall-clock limit per scenario (0 = none).").Default("0s").Duration()
	c.batchJSON = c.batch.Flag("json", "Print summaries as JSON.").Bool()

	c.list = c.app.Command("list", "List stored run summaries.")

	c.show = c.app.Command("show", "Print a stored run summary.")
	c.showName = c.show.Arg("name", "Scenario name.").Required().String()

	return c
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	c := newCLI()
	cmd, err := c.app.Parse(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(*c.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	switch cmd {
	case c.run.FullCommand():
		return c.doRun(ctx, logger, out)
	case c.validate.FullCommand():
		return c.doValidate(out)
	case c.batch.FullCommand():
		return c.doBatch(ctx, logger, out)
	case c.list.FullCommand():
		return c.doList(ctx, out)
	case c.show.FullCommand():
		return c.doShow(ctx, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// scenario loads the configured file, or the defaults, and applies flag overrides.
func (c *cli) scenario() (simulation.Config, error) {
	cfg := simulation.DefaultConfig()
	if *c.config != "" {
		loaded, err := simulation.Load(*c.config)
		if err != nil {
			return simulation.Config{}, err
		}
		cfg = loaded
	}

	if *c.name != "" {
		cfg.Name = *c.name
	}
	if *c.duration != 0 {
		cfg.Duration = *c.duration
	}
	if *c.queueSize != 0 {
		cfg.Shaper.QueueSize = *c.queueSize
	}
	if *c.tokenRate != 0 {
		cfg.Shaper.TokenRate = *c.tokenRate
	}
	if *c.bucketSize != 0 {
		cfg.Shaper.BucketSize = *c.bucketSize
	}
	if *c.meanInterarrival != 0 {
		cfg.Source.MeanInterArrivalTime = *c.meanInterarrival
	}
	if *c.maxPackets != 0 {
		cfg.Source.MaxPackets = *c.maxPackets
	}
	if *c.seed != 0 {
		cfg.Seed = *c.seed
	}
	switch *c.probeSchedule {
	case "":
	case "off":
		cfg.Probe.Schedule = ""
	default:
		cfg.Probe.Schedule = probeSchedule(*c.probeSchedule)
	}

	return cfg, cfg.Validate()
}

// cronDescriptors are the cron descriptors that may be written without their
// leading @. kingpin reads a separate argument starting with @ as a file of
// arguments, so "--probe every 10s" is the form that survives the shell.
var cronDescriptors = map[string]bool{
	"every": true, "yearly": true, "annually": true, "monthly": true,
	"weekly": true, "daily": true, "midnight": true, "hourly": true,
}

// probeSchedule restores the @ on a bare descriptor such as "every 10s".
func probeSchedule(expr string) string {
	expr = strings.TrimSpace(expr)
	fields := strings.Fields(expr)
	if len(fields) > 0 && cronDescriptors[fields[0]] {
		return "@" + expr
	}
	return expr
}

func (c *cli) doRun(ctx context.Context, logger *zap.Logger, out io.Writer) error {
	cfg, err := c.scenario()
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	opts := simulation.Options{Logger: logger}
	if *c.metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Metrics = metrics.Config{Enabled: true, Registry: reg, Namespace: metrics.DefaultNamespace}
	}

	res, err := simulation.Run(ctx, cfg, opts)
	if err != nil {
		return err
	}
	summary := report.FromResult(res)

	if *c.redisAddr != "" {
		store, closeStore, err := c.redisStore(*c.redisTTL)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := store.Save(ctx, summary); err != nil {
			return err
		}
		logger.Info("summary stored", zap.String("name", summary.Name), zap.String("redis", *c.redisAddr))
	}

	if err := printSummary(out, summary, *c.asJSON); err != nil {
		return err
	}

	if reg != nil {
		return serveMetrics(ctx, logger, *c.metricsAddr, reg)
	}
	return nil
}

func (c *cli) doValidate(out io.Writer) error {
	cfg, err := simulation.Load(*c.validateFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (scenario %q)\n", *c.validateFile, cfg.Name)
	return nil
}

func (c *cli) doBatch(ctx context.Context, logger *zap.Logger, out io.Writer) error {
	scenarios := make([]simulation.Config, 0, len(*c.batchFiles))
	for _, path := range *c.batchFiles {
		cfg, err := simulation.Load(path)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		scenarios = append(scenarios, cfg)
	}

	outcomes, err := batch.Run(ctx, scenarios, batch.Config{
		Workers: *c.batchWorkers,
		Timeout: *c.batchTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	summaries := make([]*report.Summary, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			summaries = append(summaries, report.FromResult(o.Result))
		}
	}

	if *c.redisAddr != "" {
		store, closeStore, err := c.redisStore(0)
		if err != nil {
			return err
		}
		defer closeStore()
		for _, s := range summaries {
			if err := store.Save(ctx, s); err != nil {
				return err
			}
		}
	}

	if *c.batchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCENARIO\tSENT\tFORWARDED\tDROPPED\tDROP RATE\tMEAN DELAY\tELAPSED")
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Fprintf(w, "%s\terror: %v\n", o.Scenario.Name, o.Err)
				continue
			}
			r := o.Result
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%.3fs\t%v\n",
				r.Name, r.Sent, r.Shaper.Forwarded, r.Shaper.Dropped, 100*r.DropRate(), r.MeanDelay, o.Elapsed.Round(time.Millisecond))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if failed := batch.Failed(outcomes); len(failed) > 0 {
		return fmt.Errorf("%d of %d scenarios failed", len(failed), len(outcomes))
	}
	return nil
}

func (c *cli) doList(ctx context.Context, out io.Writer) error {
	store, closeStore, err := c.redisStore(0)
	if err != nil {
		return err
	}
	defer closeStore()

	names, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

func (c *cli) doShow(ctx context.Context, out io.Writer) error {
	store, closeStore, err := c.redisStore(0)
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := store.Load(ctx, *c.showName)
	if err != nil {
		return err
	}
	return printSummary(out, summary, false)
}

func (c *cli) redisStore(ttl time.Duration) (report.Store, func(), error) {
	if *c.redisAddr == "" {
		return nil, nil, errors.New("--redis-addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: *c.redisAddr})
	store, err := report.NewRedisStore(report.RedisConfig{
		Redis:     client,
		KeyPrefix: *c.redisPrefix,
		TTL:       ttl,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		client.Close()
	}, nil
}

func printSummary(out io.Writer, s *report.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "scenario\t%s\n", s.Name)
	fmt.Fprintf(w, "virtual time\t%.3fs\n", s.EndTime)
	fmt.Fprintf(w, "events\t%d\n", s.Events)
	fmt.Fprintf(w, "sent\t%d\n", s.Sent)
	fmt.Fprintf(w, "forwarded\t%d (direct %d, queued %d)\n", s.Shaper.Forwarded, s.Shaper.ForwardedDirect, s.Shaper.ForwardedQueued)
	fmt.Fprintf(w, "dropped\t%d (%.1f%%)\n", s.Shaper.Dropped, 100*s.DropRate)
	fmt.Fprintf(w, "released at teardown\t%d\n", s.Shaper.Released)
	fmt.Fprintf(w, "received\t%d\n", s.Received)
	fmt.Fprintf(w, "delay mean/max\t%.3fs / %.3fs\n", s.MeanDelay, s.MaxDelay)
	fmt.Fprintf(w, "refill ticks\t%d (%d tokens discarded)\n", s.Shaper.RefillTicks, s.Shaper.TokensDiscarded)
	fmt.Fprintf(w, "final state\ttokens=%d queue=%d\n", s.Final.Tokens, s.Final.QueueLen)
	for _, snap := range s.Snapshots {
		fmt.Fprintf(w, "  t=%.1f\ttokens=%d queue=%d forwarded=%d dropped=%d\n",
			float64(snap.At), snap.State.Tokens, snap.State.QueueLen, snap.Stats.Forwarded, snap.Stats.Dropped)
	}
	return w.Flush()
}

// serveMetrics exposes reg on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, logger *zap.Logger, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
