package source

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig holds configuration for a Watcher.
type WatchConfig struct {
	// Patterns is a list of run paths or glob patterns.
	Patterns []string
	// Debounce coalesces bursts of file events into one change
	// notification. Defaults to 200ms.
	Debounce time.Duration
	// Poll is the interval at which patterns are expanded again to find
	// new runs and catch missed events. Defaults to 1s.
	Poll time.Duration
}

// Watcher reports runs whose log files changed. A run is either a
// directory, in which case any file event inside it counts, or a single
// log file.
type Watcher struct {
	config  WatchConfig
	changes chan []string
	errs    chan error
	cancel  context.CancelFunc
	stopped chan struct{}

	mu sync.Mutex
	// targets maps a watched directory to the runs it holds.
	targets map[string][]string
	known   map[string]struct{}
}

// NewWatcher creates a watcher from the given config.
func NewWatcher(cfg WatchConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	return &Watcher{
		config:  cfg,
		changes: make(chan []string, 16),
		errs:    make(chan error, 32),
		stopped: make(chan struct{}),
		targets: make(map[string][]string),
		known:   make(map[string]struct{}),
	}
}

// Changes emits the sorted runs that changed since the last emission,
// including runs that newly match a pattern.
func (w *Watcher) Changes() <-chan []string { return w.changes }

// Errors emits non-fatal watch errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Runs returns every run currently watched, sorted.
func (w *Watcher) Runs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.known))
	for r := range w.known {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Start expands the patterns and begins watching. It returns once the
// watch is set up; notifications arrive on Changes until ctx is cancelled
// or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if _, err := w.refresh(fw); err != nil {
		fw.Close()
		return err
	}
	if len(w.Runs()) == 0 {
		fw.Close()
		return fmt.Errorf("no runs matched patterns: %v", w.config.Patterns)
	}

	go w.loop(ctx, fw)
	return nil
}

// Stop cancels watching and waits for the watch goroutine to finish.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.stopped
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.stopped)
	defer close(w.changes)
	defer fw.Close()

	dirty := map[string]struct{}{}
	debounce := time.NewTimer(w.config.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	// Poll ticker as fallback for missed events.
	ticker := time.NewTicker(w.config.Poll)
	defer ticker.Stop()

	mark := func(runs []string) {
		if len(runs) == 0 {
			return
		}
		if len(dirty) == 0 {
			debounce.Reset(w.config.Debounce)
		}
		for _, r := range runs {
			dirty[r] = struct{}{}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			mark(w.match(event.Name))

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.sendError(err)

		case <-ticker.C:
			added, err := w.refresh(fw)
			if err != nil {
				w.sendError(err)
			}
			mark(added)

		case <-debounce.C:
			runs := make([]string, 0, len(dirty))
			for r := range dirty {
				runs = append(runs, r)
			}
			sort.Strings(runs)
			clear(dirty)
			select {
			case w.changes <- runs:
			case <-ctx.Done():
				return
			}
		}
	}
}

// refresh expands the patterns again and watches runs not seen before.
// It returns the new runs.
func (w *Watcher) refresh(fw *fsnotify.Watcher) ([]string, error) {
	var added []string
	for _, pattern := range w.config.Patterns {
		matches, err := Expand(pattern)
		if err != nil {
			return added, err
		}
		for _, m := range matches {
			if w.track(fw, m) {
				added = append(added, m)
			}
		}
	}
	return added, nil
}

func (w *Watcher) track(fw *fsnotify.Watcher, run string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.known[run]; ok {
		return false
	}

	dir := run
	if !isDir(run) {
		dir = filepath.Dir(run)
	}
	if _, watching := w.targets[dir]; !watching {
		if err := fw.Add(dir); err != nil {
			w.sendError(fmt.Errorf("watching directory %s: %w", dir, err))
			return false
		}
	}
	w.targets[dir] = append(w.targets[dir], run)
	w.known[run] = struct{}{}
	return true
}

// match returns the runs affected by an event on name.
func (w *Watcher) match(name string) []string {
	name = filepath.Clean(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	var runs []string
	for _, run := range w.targets[filepath.Dir(name)] {
		if run == filepath.Dir(name) || run == name {
			runs = append(runs, run)
		}
	}
	return runs
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
