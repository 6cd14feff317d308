package loader

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/clarabennett2626/runpilot/internal/reader"
	"github.com/clarabennett2626/runpilot/internal/run"
)

// Strategy selects where runs are loaded.
type Strategy int

const (
	// StrategyThread loads runs on goroutines in this process.
	StrategyThread Strategy = iota
	// StrategyProcess loads each run in a worker subprocess.
	StrategyProcess
)

func (s Strategy) String() string {
	switch s {
	case StrategyProcess:
		return "process"
	default:
		return "thread"
	}
}

// ParseStrategy parses "thread" or "process".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "thread", "":
		return StrategyThread, nil
	case "process":
		return StrategyProcess, nil
	}
	return 0, fmt.Errorf("unknown strategy %q (want thread or process)", s)
}

// Executor loads one run. It follows run.LoadOne: a nil run with a nil
// error means the source was skipped.
type Executor interface {
	Load(source string) (*run.Run, error)
}

// ExecutorBuilder creates an executor for the given run options.
type ExecutorBuilder func(opts run.Options) (Executor, error)

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(source string) (*run.Run, error)

func (f ExecutorFunc) Load(source string) (*run.Run, error) { return f(source) }

// NewThreadExecutor loads runs in-process.
func NewThreadExecutor(opts run.Options) Executor {
	return ExecutorFunc(func(source string) (*run.Run, error) {
		return run.LoadOne(source, opts)
	})
}

// ProcessExecutor loads each run by starting `<Path> <Args...> <source>`
// and decoding the worker result from its stdout. The post-process hook
// runs in this process.
type ProcessExecutor struct {
	Path string
	Args []string
	// Env is appended to the current environment of the worker.
	Env  []string
	opts run.Options
}

// NewProcessExecutor re-executes the current binary as `worker`.
func NewProcessExecutor(opts run.Options) (*ProcessExecutor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating worker binary: %w", err)
	}
	return &ProcessExecutor{Path: exe, Args: []string{"worker"}, opts: opts}, nil
}

// ProcessExecutorBuilder returns a builder for workers started as
// `path args... <flags> <source>`.
func ProcessExecutorBuilder(path string, args []string, env []string) ExecutorBuilder {
	return func(opts run.Options) (Executor, error) {
		return &ProcessExecutor{Path: path, Args: args, Env: env, opts: opts}, nil
	}
}

func (p *ProcessExecutor) Load(source string) (*run.Run, error) {
	start := time.Now()
	r, err := p.fetch(source)
	if err != nil {
		run.Skip(source, err, p.opts)
		return nil, nil
	}
	p.opts.Metrics.RunLoaded(time.Since(start))
	return run.PostProcess(r, p.opts.PostProcess)
}

func (p *ProcessExecutor) fetch(source string) (*run.Run, error) {
	args := append([]string{}, p.Args...)
	args = append(args, WorkerArgs(p.opts)...)
	args = append(args, "--", source)

	cmd := exec.Command(p.Path, args...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("worker for %s failed: %w: %s", source, err, lastLine(stderr.String()))
	}

	var res workerResult
	if err := gob.NewDecoder(&stdout).Decode(&res); err != nil {
		return nil, fmt.Errorf("decoding worker result for %s: %w", source, err)
	}
	if res.Err != "" {
		return nil, res.err()
	}
	return res.Run, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

type errKind int

const (
	errRead errKind = iota
	errNoReader
	errEmpty
)

// workerResult is what a worker writes to stdout.
type workerResult struct {
	Run  *run.Run
	Kind errKind
	Err  string
}

func (w workerResult) err() error {
	switch w.Kind {
	case errNoReader:
		return fmt.Errorf("%w: %s", reader.ErrNoReaderFound, w.Err)
	case errEmpty:
		return fmt.Errorf("%w: %s", reader.ErrEmptyData, w.Err)
	default:
		return errors.New(w.Err)
	}
}

func kindOf(err error) errKind {
	switch {
	case errors.Is(err, reader.ErrNoReaderFound):
		return errNoReader
	case errors.Is(err, reader.ErrEmptyData):
		return errEmpty
	default:
		return errRead
	}
}

// WorkerArgs returns the worker flags that carry opts.
func WorkerArgs(opts run.Options) []string {
	var args []string
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	if opts.FillNA {
		args = append(args, "--fillna")
	}
	if opts.BatchRecords > 0 {
		args = append(args, "--batch-records", strconv.Itoa(opts.BatchRecords))
	}
	return args
}
