package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/clarabennett2626/runpilot/internal/config"
	"github.com/clarabennett2626/runpilot/internal/filter"
	"github.com/clarabennett2626/runpilot/internal/loader"
	"github.com/clarabennett2626/runpilot/internal/logging"
	"github.com/clarabennett2626/runpilot/internal/metrics"
	"github.com/clarabennett2626/runpilot/internal/progress"
	"github.com/clarabennett2626/runpilot/internal/run"
	"github.com/clarabennett2626/runpilot/internal/source"
	"github.com/clarabennett2626/runpilot/internal/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 130 when a signal cancelled the command, as shells report
// for SIGINT, and 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

// app holds what every command shares: config, logger, metrics and I/O.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// stdinIsPipe reports whether patterns may be read from stdin.
	stdinIsPipe func() bool
	// terminal reports whether out is an interactive terminal.
	terminal func(out io.Writer) bool

	flags   flagValues
	cfg     *config.Config
	logger  log.Logger
	metrics *metrics.Metrics
	stopSrv func()
}

type flagValues struct {
	configPath   string
	logLevel     string
	logFormat    string
	verbose      bool
	fillNA       bool
	concurrency  int
	strategy     string
	progress     bool
	batchRecords int
	where        string
	metricsAddr  string
	poll         time.Duration
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:       stdin,
		stdout:      stdout,
		stderr:      stderr,
		stdinIsPipe: source.IsPipe,
		terminal: func(out io.Writer) bool {
			f, ok := out.(*os.File)
			return ok && tui.IsTerminal(f)
		},
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "runpilot",
		Short:         "Load and inspect experiment logs",
		Long:          "runpilot loads training runs written as CSV progress files or TensorBoard event files.",
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.stopSrv != nil {
				a.stopSrv()
			}
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/runpilot/config.toml)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: logfmt or json")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "report which files are read")
	pf.BoolVar(&a.flags.fillNA, "fillna", false, "replace missing cells with zero")
	pf.IntVarP(&a.flags.concurrency, "concurrency", "j", 0, "runs loaded in parallel (default number of CPUs)")
	pf.StringVar(&a.flags.strategy, "strategy", "", "load strategy: thread or process")
	pf.BoolVar(&a.flags.progress, "progress", true, "show a progress bar when stderr is a terminal")
	pf.IntVar(&a.flags.batchRecords, "batch-records", 0, "event records per read (0 = unbounded)")
	pf.StringVar(&a.flags.where, "where", "", "CEL expression selecting runs")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		a.loadCmd(),
		a.showCmd(),
		a.exportCmd(),
		a.watchCmd(),
		a.workerCmd(),
		a.versionCmd(),
	)
	return root
}

// setup resolves configuration as defaults < file < environment < flags
// and builds the logger and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	config.FromEnv(cfg)

	f := cmd.Flags()
	if f.Changed("log-level") {
		cfg.Log.Level = a.flags.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = a.flags.logFormat
	}
	if f.Changed("verbose") {
		cfg.Load.Verbose = a.flags.verbose
	}
	if f.Changed("fillna") {
		cfg.Load.FillNA = a.flags.fillNA
	}
	if f.Changed("concurrency") {
		cfg.Load.Concurrency = a.flags.concurrency
	}
	if f.Changed("strategy") {
		cfg.Load.Strategy = a.flags.strategy
	}
	if f.Changed("progress") {
		cfg.Load.Progress = a.flags.progress
	}
	if f.Changed("batch-records") {
		cfg.Load.BatchRecords = a.flags.batchRecords
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.flags.metricsAddr
	}
	a.cfg = cfg

	a.logger, err = logging.New(a.stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		a.metrics = metrics.NewMetrics(reg)
		a.stopSrv = serveMetrics(cfg.Metrics.Addr, reg, a.logger)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(logger).Log("msg", "metrics server failed", "addr", addr, "err", err)
		}
	}()
	level.Info(logger).Log("msg", "serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func (a *app) runOptions() run.Options {
	return run.Options{
		Logger:       a.logger,
		Verbose:      a.cfg.Load.Verbose,
		FillNA:       a.cfg.Load.FillNA,
		BatchRecords: a.cfg.Load.BatchRecords,
		Metrics:      a.metrics,
	}
}

func (a *app) loaderOptions() (loader.Options, error) {
	strategy, err := loader.ParseStrategy(a.cfg.Load.Strategy)
	if err != nil {
		return loader.Options{}, err
	}
	return loader.Options{
		Run:         a.runOptions(),
		Concurrency: a.cfg.Load.Concurrency,
		Strategy:    strategy,
		Metrics:     a.metrics,
		Logger:      a.logger,
	}, nil
}

// patterns returns the command arguments, or patterns read from stdin for
// "-" or when stdin is piped and no arguments were given.
func (a *app) patterns(args []string) ([]string, error) {
	if (len(args) == 1 && args[0] == "-") || (len(args) == 0 && a.stdinIsPipe()) {
		return source.ReadPatterns(a.stdin)
	}
	if len(args) == 0 {
		return nil, errors.New("no run paths or glob patterns given")
	}
	return args, nil
}

// loadRuns loads every run matching patterns and applies --where. It
// returns the runs and the number of sources that were tried.
func (a *app) loadRuns(ctx context.Context, patterns []string) (run.RunList, int, error) {
	opts, err := a.loaderOptions()
	if err != nil {
		return nil, 0, err
	}
	where, err := filter.Compile(a.flags.where)
	if err != nil {
		return nil, 0, err
	}

	counter := &progress.Counter{}
	sink := progress.Sink(counter)
	if a.cfg.Load.Progress && a.terminal(a.stderr) {
		sink = progress.Tee(counter, tui.NewProgressSink("Loading runs", a.stderr))
	}
	opts.Progress = sink
	runs, err := loader.GetRuns(ctx, patterns, opts)
	sink.Close()
	if err != nil {
		if !loader.IsFatal(err) {
			st := counter.State()
			return nil, 0, fmt.Errorf("load interrupted after %d of %d sources: %w", st.Completed, st.Total, err)
		}
		return nil, 0, fmt.Errorf("load aborted: %w", err)
	}
	return where.Apply(runs), int(counter.State().Total), nil
}

func (a *app) renderer(out io.Writer) *tui.Renderer {
	cfg := tui.DefaultConfig()
	if a.cfg.Display.Theme == "light" {
		cfg.Theme = tui.ThemeLight
	}
	if a.cfg.Display.Precision > 0 {
		cfg.Precision = a.cfg.Display.Precision
	}
	if a.cfg.Display.Wrap {
		cfg.WrapMode = tui.WrapWrap
	}
	if !a.terminal(out) {
		cfg.Plain = true
		cfg.WrapMode = tui.WrapWrap
	}
	return tui.NewRenderer(cfg)
}

func printLines(w io.Writer, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
