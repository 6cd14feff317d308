package loader

import (
	"context"
	"sync"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/clarabennett2626/runpilot/internal/reader"
	"github.com/clarabennett2626/runpilot/internal/run"
)

// Loader keeps a reader and context per run so repeated loads only read
// data appended since the previous one. It always loads in-process.
type Loader struct {
	opts Options

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	path string
	r    reader.Reader
	c    reader.Context
	last *run.Run
}

// NewLoader returns an empty loader.
func NewLoader(opts Options) *Loader {
	return &Loader{opts: opts.withDefaults(), entries: make(map[string]*entry)}
}

// Add tracks paths, keeping first-seen order. Known paths are ignored.
func (l *Loader) Add(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		if _, ok := l.entries[p]; ok {
			continue
		}
		l.entries[p] = &entry{path: p}
		l.order = append(l.order, p)
	}
}

// Paths returns the tracked paths in order.
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Reload reads new data for every tracked run in parallel and returns the
// runs that have data, in tracking order. Sources that fail to read keep
// their previous state and are retried on the next call.
func (l *Loader) Reload(ctx context.Context) (run.RunList, error) {
	return l.reload(ctx, l.Paths())
}

// ReloadPaths is Reload restricted to paths, which are added first. The
// returned list still holds every tracked run.
func (l *Loader) ReloadPaths(ctx context.Context, paths []string) (run.RunList, error) {
	l.Add(paths...)
	return l.reload(ctx, paths)
}

func (l *Loader) reload(ctx context.Context, paths []string) (run.RunList, error) {
	l.mu.Lock()
	work := make([]*entry, 0, len(paths))
	for _, p := range paths {
		if e, ok := l.entries[p]; ok {
			work = append(work, e)
		}
	}
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for _, e := range work {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return l.refresh(e)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return l.Runs(), ctx.Err()
}

// refresh advances one entry. Only post-process failures are returned.
func (l *Loader) refresh(e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ropts := l.opts.Run
	logger := ropts.Logger
	if e.r == nil {
		r, err := reader.Resolve(e.path, ropts.ReaderOptions())
		if err != nil {
			level.Debug(logger).Log("msg", "run not readable yet", "path", e.path, "err", err)
			return nil
		}
		e.r, e.c = r, r.NewContext()
	}

	c := e.c
	for {
		var err error
		c, err = e.r.Read(c)
		if err != nil {
			level.Warn(logger).Log("msg", "reload failed", "path", e.path, "err", err)
			return nil
		}
		if !c.Pending() {
			break
		}
	}
	t, err := e.r.Result(c)
	if err != nil {
		level.Warn(logger).Log("msg", "reload failed", "path", e.path, "err", err)
		return nil
	}

	e.c = c

	r, err := run.FromTable(e.path, e.r.Name(), t)
	if err == nil {
		r, err = run.PostProcess(r, ropts.PostProcess)
	}
	if run.IsDataError(err) {
		level.Debug(logger).Log("msg", "run has no data yet", "path", e.path, "err", err)
		return nil
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	e.last = r
	l.mu.Unlock()
	return nil
}

// Runs returns the latest loaded runs in tracking order without reading.
func (l *Loader) Runs() run.RunList {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out run.RunList
	for _, p := range l.order {
		if e := l.entries[p]; e.last != nil {
			out = append(out, e.last)
		}
	}
	return out
}

// Close drops every tracked run.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = nil
	l.entries = make(map[string]*entry)
}
