// Package loader discovers runs from glob patterns and loads them on a
// bounded worker pool, in-process or in worker subprocesses.
package loader

import (
	"context"
	"errors"
	"iter"
	"runtime"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/clarabennett2626/runpilot/internal/metrics"
	"github.com/clarabennett2626/runpilot/internal/progress"
	"github.com/clarabennett2626/runpilot/internal/run"
	"github.com/clarabennett2626/runpilot/internal/source"
)

// Options configures a batch load.
type Options struct {
	Run run.Options
	// Concurrency bounds the number of runs loading at once. Defaults to
	// runtime.NumCPU().
	Concurrency int
	Strategy    Strategy
	// Executor overrides the executor chosen by Strategy.
	Executor ExecutorBuilder
	// Progress receives one IncrementTotal per pattern and one Advance per
	// unit. The caller closes it.
	Progress progress.Sink
	Metrics  *metrics.Metrics
	Logger   log.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU()
	}
	if o.Progress == nil {
		o.Progress = progress.Noop()
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.Run.Logger == nil {
		o.Run.Logger = o.Logger
	}
	if o.Run.Metrics == nil {
		o.Run.Metrics = o.Metrics
	}
	return o
}

func (o Options) executor() (Executor, error) {
	if o.Executor != nil {
		return o.Executor(o.Run)
	}
	switch o.Strategy {
	case StrategyProcess:
		return NewProcessExecutor(o.Run)
	default:
		return NewThreadExecutor(o.Run), nil
	}
}

// update is one progress event. The drain goroutine is the only caller
// of the sink.
type update struct {
	total  int
	done   bool
	failed bool
}

// GetRuns expands each pattern in order and loads every match on a worker
// pool. Runs come back in discovery order regardless of which finished
// first. Sources that cannot be loaded are logged and left out; the only
// error returned is a post-process failure, which stops unstarted units,
// or the error of ctx.
func GetRuns(ctx context.Context, patterns []string, opts Options) (run.RunList, error) {
	opts = opts.withDefaults()
	exec, err := opts.executor()
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	updates := make(chan update)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range updates {
			if u.total > 0 {
				opts.Progress.IncrementTotal(u.total)
			}
			if u.done {
				opts.Progress.Advance(1)
			}
			if u.failed {
				opts.Progress.MarkError()
			}
		}
	}()

	// One slot slice per pattern; each unit writes only its own slot.
	var slots [][]*run.Run
submit:
	for _, pattern := range patterns {
		matches := expand(pattern, opts.Logger)
		if len(matches) == 0 {
			continue
		}
		updates <- update{total: len(matches)}
		out := make([]*run.Run, len(matches))
		slots = append(slots, out)
		for i, path := range matches {
			if gctx.Err() != nil {
				break submit
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				r, err := exec.Load(path)
				updates <- update{done: true, failed: err != nil || r == nil}
				if err != nil {
					return err
				}
				out[i] = r
				return nil
			})
		}
	}
	err = g.Wait()
	close(updates)
	<-drained
	if err != nil {
		return nil, err
	}

	var runs run.RunList
	for _, out := range slots {
		for _, r := range out {
			if r != nil {
				runs = append(runs, r)
			}
		}
	}
	if len(runs) == 0 {
		warnNoMatch(patterns, opts.Logger)
	}
	return runs, ctx.Err()
}

// GetRunsSerial loads runs one at a time on the calling goroutine.
func GetRunsSerial(ctx context.Context, patterns []string, opts Options) (run.RunList, error) {
	var runs run.RunList
	for r, err := range IterRunsSerial(ctx, patterns, opts) {
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// IterRunsSerial yields runs as they load, in discovery order. Skipped
// sources are not yielded. A post-process failure or ctx error is yielded
// once and ends the sequence.
func IterRunsSerial(ctx context.Context, patterns []string, opts Options) iter.Seq2[*run.Run, error] {
	opts = opts.withDefaults()
	return func(yield func(*run.Run, error) bool) {
		loaded := 0
		for _, pattern := range patterns {
			matches := expand(pattern, opts.Logger)
			opts.Progress.IncrementTotal(len(matches))
			for _, path := range matches {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				r, err := run.LoadOne(path, opts.Run)
				opts.Progress.Advance(1)
				if err != nil {
					opts.Progress.MarkError()
					yield(nil, err)
					return
				}
				if r == nil {
					opts.Progress.MarkError()
					continue
				}
				loaded++
				if !yield(r, nil) {
					return
				}
			}
		}
		if loaded == 0 {
			warnNoMatch(patterns, opts.Logger)
		}
	}
}

func expand(pattern string, logger log.Logger) []string {
	matches, err := source.Expand(pattern)
	if err != nil {
		level.Warn(logger).Log("msg", "invalid glob pattern", "pattern", pattern, "err", err)
		return nil
	}
	if len(matches) == 0 {
		level.Warn(logger).Log("msg", "glob pattern did not match any files", "pattern", pattern)
	}
	return matches
}

func warnNoMatch(patterns []string, logger log.Logger) {
	for _, p := range patterns {
		level.Warn(logger).Log("msg", "no match found for pattern", "pattern", p)
	}
}

// IsFatal reports whether err from GetRuns aborted the batch rather than
// coming from ctx.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
