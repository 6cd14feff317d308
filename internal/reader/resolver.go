package reader

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log/level"
)

// Constructor builds a reader for a source, or fails with
// ErrSourceNotFound when the source is not in its format.
type Constructor func(source string, opts Options) (Reader, error)

type registration struct {
	name string
	ctor Constructor
}

var (
	registryMu sync.RWMutex
	registry   = []registration{
		{name: "csv", ctor: NewCSVReader},
		{name: "tfevents", ctor: NewEventReader},
	}
)

// Register appends a reader constructor to the end of the resolution
// order. Built-in readers always take priority.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, registration{name: name, ctor: ctor})
}

// Readers returns the registered reader names in resolution order.
func Readers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, len(registry))
	for i, r := range registry {
		names[i] = r.name
	}
	return names
}

// Resolve returns the first reader, in registration order, that accepts
// source. A directory holding both a CSV log and event files therefore
// resolves to the CSV reader.
func Resolve(source string, opts Options) (Reader, error) {
	registryMu.RLock()
	candidates := make([]registration, len(registry))
	copy(candidates, registry)
	registryMu.RUnlock()

	for _, c := range candidates {
		r, err := c.ctor(source, opts)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrSourceNotFound) && opts.Verbose {
			level.Warn(opts.logger()).Log("msg", "reader rejected source", "reader", c.name, "path", source, "err", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoReaderFound, source)
}
