// Package progress defines how the run loader reports progress.
package progress

import "sync/atomic"

// Sink receives progress updates. The loader calls every method from one
// goroutine, so implementations need not be safe for concurrent use
// unless they are shared.
type Sink interface {
	// IncrementTotal grows the expected unit count. Totals only grow;
	// completed work is never reset.
	IncrementTotal(n int)
	// Advance marks n units as finished.
	Advance(n int)
	// MarkError switches the display to an error state.
	MarkError()
	// Close finishes the display.
	Close()
}

type noop struct{}

func (noop) IncrementTotal(int) {}
func (noop) Advance(int)        {}
func (noop) MarkError()         {}
func (noop) Close()             {}

// Noop returns a Sink that discards every update.
func Noop() Sink {
	return noop{}
}

// Counter is a Sink that records progress in atomics.
type Counter struct {
	total     atomic.Int64
	completed atomic.Int64
	errors    atomic.Int64
	closed    atomic.Bool
}

func (c *Counter) IncrementTotal(n int) { c.total.Add(int64(n)) }
func (c *Counter) Advance(n int)        { c.completed.Add(int64(n)) }
func (c *Counter) MarkError()           { c.errors.Add(1) }
func (c *Counter) Close()               { c.closed.Store(true) }

// State is a snapshot of a Counter.
type State struct {
	Total     int
	Completed int
	Errors    int
	Closed    bool
}

// Fraction returns completed/total, or 0 when nothing is expected yet.
func (s State) Fraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// State returns the current counters.
func (c *Counter) State() State {
	return State{
		Total:     int(c.total.Load()),
		Completed: int(c.completed.Load()),
		Errors:    int(c.errors.Load()),
		Closed:    c.closed.Load(),
	}
}

// Tee returns a Sink forwarding every update to each of sinks.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) IncrementTotal(n int) {
	for _, s := range t {
		s.IncrementTotal(n)
	}
}

func (t tee) Advance(n int) {
	for _, s := range t {
		s.Advance(n)
	}
}

func (t tee) MarkError() {
	for _, s := range t {
		s.MarkError()
	}
}

func (t tee) Close() {
	for _, s := range t {
		s.Close()
	}
}
