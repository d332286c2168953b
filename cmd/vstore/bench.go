package main

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/vstore/internal/config"
	"github.com/vango-dev/vstore/internal/errors"
	"github.com/vango-dev/vstore/pkg/dispatch"
	"github.com/vango-dev/vstore/pkg/observable"
	"github.com/vango-dev/vstore/pkg/store"
)

// benchValue is the value the benchmark store holds. Every commit stamps a
// new Seq, so subscribers can check they see commits in order.
type benchValue struct {
	Seq   uint64
	Chain int
	Slots [config.MaxScopes]int64
}

type benchCounters struct {
	updates         atomic.Uint64
	deliveries      atomic.Uint64
	scopeChanges    atomic.Uint64
	orderViolations atomic.Uint64
}

// overrideKeys maps bench flags onto configuration keys.
var overrideKeys = map[string]string{
	"writers":      "writers",
	"subscribers":  "subscribers",
	"scopes":       "scopes",
	"duration":     "duration",
	"rate":         "rate",
	"recursion":    "recursion",
	"strategy":     "strategy",
	"redirect":     "redirect",
	"max-procs":    "max_procs",
	"mem-limit":    "mem_limit",
	"json":         "output",
	"trace":        "trace",
	"metrics":      "metrics.enabled",
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func benchCmd() *cobra.Command {
	var (
		configPath  string
		profile     string
		printConfig string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load the store with concurrent writers and subscribers",
		Long: `Run a timed benchmark against a root store and its scopes.

Writers commit through the root and through scoped stores. Subscribers
check that every delivery arrives in commit order; a subscriber may issue
follow-up commits from inside its callback to exercise nested delivery.

Settings come from a profile, then an optional config file (JSON, TOML
or YAML), then flags.

Examples:
  vstore bench --profile fast
  vstore bench --config bench.yaml --writers 8
  vstore bench --profile stress --metrics --trace
  vstore bench --profile fast --print-config yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveBenchConfig(cmd, configPath, profile)
			if err != nil {
				return err
			}
			if printConfig != "" {
				return cfg.Write(cmd.OutOrStdout(), config.Format(strings.ToLower(printConfig)))
			}
			return runBench(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Config file (.json, .toml, .yaml)")
	f.StringVarP(&profile, "profile", "p", config.DefaultProfile, "Profile: "+strings.Join(config.Profiles(), "|"))
	f.StringVar(&printConfig, "print-config", "", "Print the effective config as json|toml|yaml and exit")
	f.Int("writers", defaults.Writers, "Concurrent writer goroutines")
	f.Int("subscribers", defaults.Subscribers, "Subscribers on the root store")
	f.Int("scopes", defaults.Scopes, "Scoped stores, one subscriber each")
	f.String("duration", defaults.Duration.String(), "Run duration, e.g. 30s")
	f.Float64("rate", defaults.Rate, "Updates per second per writer (0 = unthrottled)")
	f.Int("recursion", defaults.Recursion, "Follow-up commits issued from a subscriber per update")
	f.String("strategy", defaults.Strategy, "Box strategy: spin|rwlock|serial|concurrent")
	f.Bool("redirect", defaults.Redirect, "Deliver to subscribers on a serial queue")
	f.Int("max-procs", defaults.MaxProcs, "GOMAXPROCS cap (0 to leave unchanged)")
	f.String("mem-limit", "", "GOMEMLIMIT, e.g. 2GiB")
	f.String("json", defaults.Output, "JSON report path ('-' for stdout, '' to skip)")
	f.Bool("trace", defaults.Trace, "Export commit spans to stderr")
	f.Bool("metrics", defaults.Metrics.Enabled, "Serve Prometheus metrics during the run")
	f.String("metrics-addr", defaults.Metrics.Addr, "Metrics listen address")
	f.String("log-level", defaults.Log.Level, "Log level: debug|info|warn|error")
	f.String("log-format", defaults.Log.Format, "Log format: text|json")

	return cmd
}

// resolveBenchConfig layers profile, file and changed flags.
func resolveBenchConfig(cmd *cobra.Command, configPath, profile string) (config.Bench, error) {
	var (
		cfg config.Bench
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return config.Bench{}, err
		}
		if cmd.Flags().Changed("profile") {
			warn(cmd.ErrOrStderr(), "--profile is ignored when --config is set")
		}
	} else {
		cfg, err = config.Profile(profile)
		if err != nil {
			return config.Bench{}, err
		}
	}

	overrides := make(map[string]any)
	for flag, key := range overrideKeys {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		setPath(overrides, key, cmd.Flags().Lookup(flag).Value.String())
	}
	if err := cfg.Apply(overrides); err != nil {
		return config.Bench{}, err
	}
	return cfg, cfg.Validate()
}

// setPath stores v under a dotted key, creating nested maps.
func setPath(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func runBench(ctx context.Context, cfg config.Bench, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := uuid.NewString()

	logger, err := newLogger(stderr, cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.With(slog.String("run", runID[:8]))

	if cfg.MaxProcs > 0 {
		prev := runtime.GOMAXPROCS(cfg.MaxProcs)
		defer runtime.GOMAXPROCS(prev)
	}
	if cfg.MemLimit > 0 {
		prev := debug.SetMemoryLimit(int64(cfg.MemLimit))
		defer debug.SetMemoryLimit(prev)
	}

	tracer, shutdownTracer, err := newTracer(stderr, cfg.Trace, runID)
	if err != nil {
		return errors.New("E402").WithDetail("tracer setup").Wrap(err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	reg := newRegistry()
	storeMetrics := store.NewMetrics(
		store.WithRegistry(reg),
		store.WithConstLabels(prometheus.Labels{"run": runID}),
	)

	if cfg.Metrics.Enabled {
		srv, err := serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Close(shutdownCtx); err != nil {
				logger.Warn("metrics shutdown", slog.Any("error", err))
			}
		}()
	}

	var delivery *dispatch.TaskQueue
	if cfg.Redirect {
		delivery = dispatch.NewSerial(dispatch.WithName("bench.delivery"))
		defer delivery.Close()
	}

	root := store.New(benchValue{},
		store.WithName("bench"),
		store.WithStrategy(cfg.BoxStrategy()),
		store.WithLogger(logger),
		store.WithMetrics(storeMetrics),
		store.WithTracer(tracer),
	)

	var (
		counters benchCounters
		subs     observable.Bag
	)
	defer subs.Dispose()

	for range cfg.Subscribers {
		var last uint64
		fn := func(_ context.Context, v benchValue) {
			counters.deliveries.Add(1)
			if v.Seq <= last {
				counters.orderViolations.Add(1)
			}
			last = v.Seq
		}
		if delivery != nil {
			subs.Add(root.SubscribeOn(delivery, true, fn))
		} else {
			subs.Add(root.Subscribe(true, fn))
		}
	}

	if cfg.Recursion > 0 {
		subs.Add(root.Subscribe(true, func(ctx context.Context, v benchValue) {
			if v.Chain < cfg.Recursion {
				root.Update(ctx, func(p *benchValue) {
					p.Seq++
					p.Chain = v.Chain + 1
				})
			}
		}))
	}

	scopes := make([]*store.Store[int64], cfg.Scopes)
	for i := range scopes {
		scopes[i] = store.Scope(root,
			func(v benchValue) int64 { return v.Slots[i] },
			func(v *benchValue, n int64) {
				v.Slots[i] = n
				v.Seq++
			},
		)
		subs.Add(store.SubscribeChange(scopes[i], func(_ context.Context, c observable.Change[int64]) {
			if c.Initial {
				return
			}
			counters.scopeChanges.Add(1)
			if c.New <= c.Old {
				counters.orderViolations.Add(1)
			}
		}))
	}

	logger.Info("bench started",
		slog.String("profile", cfg.Profile),
		slog.Int("writers", cfg.Writers),
		slog.Duration("duration", cfg.Duration),
	)

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	latencies := make([][]time.Duration, cfg.Writers)
	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	for w := range cfg.Writers {
		g.Go(func() error {
			return runWriter(gctx, w, cfg.Interval(), root, scopes, &counters, &latencies[w])
		})
	}
	if err := g.Wait(); err != nil {
		return errors.New("E402").Wrap(err)
	}
	if delivery != nil {
		delivery.Sync(func() {})
	}
	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	var all []time.Duration
	for _, l := range latencies {
		all = append(all, l...)
	}

	report := buildReport(cfg, runResult{
		id:            runID,
		elapsed:       elapsed,
		latencies:     all,
		counters:      &counters,
		reg:           reg,
		before:        before,
		after:         after,
		beforeMetrics: beforeMetrics,
		afterMetrics:  afterMetrics,
	})
	logger.Info("bench finished",
		slog.Uint64("commits", report.Throughput.CommitsTotal),
		slog.Uint64("order_violations", report.Delivery.OrderViolations),
	)

	writeSummary(stderr, report)
	if cfg.Output != "" {
		if err := writeJSON(stdout, cfg.Output, report); err != nil {
			return errors.New("E402").WithDetail("write report").Wrap(err)
		}
	}

	if n := report.Delivery.OrderViolations; n > 0 {
		return errors.New("E402").WithDetailf("%d deliveries arrived out of commit order", n)
	}
	return nil
}

// runWriter commits until ctx is done, alternating between the root and
// the scopes.
func runWriter(ctx context.Context, id int, interval time.Duration, root *store.Store[benchValue], scopes []*store.Store[int64], counters *benchCounters, latencies *[]time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; ; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		if len(scopes) > 0 && i%2 == 1 {
			scopes[(id+i)%len(scopes)].Update(ctx, func(n *int64) { *n++ })
		} else {
			root.Update(ctx, func(v *benchValue) {
				v.Seq++
				v.Chain = 0
			})
		}
		*latencies = append(*latencies, time.Since(start))
		counters.updates.Add(1)
	}
}
