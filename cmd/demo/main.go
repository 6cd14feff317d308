// Demo tool that writes synthetic training runs for trying out runpilot.
// Used for generating README GIF demos of `runpilot load` and `watch`.
package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/clarabennett2626/runpilot/internal/tfevents"
)

func main() {
	var (
		runs     = pflag.IntP("runs", "r", 4, "number of runs")
		steps    = pflag.IntP("steps", "s", 50, "steps per run")
		live     = pflag.Bool("live", false, "keep appending to event runs")
		interval = pflag.Duration("interval", 500*time.Millisecond, "time between live steps")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: demo [flags] <dir>\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(1)
	}
	dir := pflag.Arg(0)

	var writers []*eventRun
	for i := range *runs {
		path := filepath.Join(dir, fmt.Sprintf("run-%02d", i))
		if err := os.MkdirAll(path, 0o755); err != nil {
			fail(err)
		}
		lr := 0.05 + 0.05*float64(i)
		if i%2 == 1 {
			if err := writeCSV(path, lr, *steps); err != nil {
				fail(err)
			}
			fmt.Printf("📄 %s (progress.csv, %d steps)\n", path, *steps)
			continue
		}
		w, err := newEventRun(path, lr)
		if err != nil {
			fail(err)
		}
		for range *steps {
			if err := w.step(); err != nil {
				fail(err)
			}
		}
		writers = append(writers, w)
		fmt.Printf("📈 %s (tfevents, %d steps)\n", path, *steps)
	}

	if !*live {
		for _, w := range writers {
			w.f.Close()
		}
		return
	}
	fmt.Printf("\nAppending a step to %d event runs every %s, ctrl+c to stop.\n", len(writers), *interval)
	for range time.Tick(*interval) {
		for _, w := range writers {
			if err := w.step(); err != nil {
				fail(err)
			}
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loss is a noisy exponential decay.
func loss(lr float64, step int) float64 {
	return 2.5*math.Exp(-lr*float64(step)) + 0.05*rand.Float64()
}

func writeCSV(dir string, lr float64, steps int) error {
	var b strings.Builder
	b.WriteString("step,loss,accuracy,phase\n")
	for s := range steps {
		l := loss(lr, s)
		phase := "train"
		if s%10 == 9 {
			phase = "eval"
		}
		fmt.Fprintf(&b, "%d,%.5f,%.4f,%s\n", s, l, 1-l/2.6, phase)
	}
	return os.WriteFile(filepath.Join(dir, "progress.csv"), []byte(b.String()), 0o644)
}

type eventRun struct {
	f    *os.File
	w    *tfevents.Writer
	lr   float64
	next int
}

func newEventRun(dir string, lr float64) (*eventRun, error) {
	name := fmt.Sprintf("events.out.tfevents.%d.demo", time.Now().Unix())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	w := tfevents.NewWriter(f)
	if err := w.WriteEvent(&tfevents.Event{FileVersion: "brain.Event:2"}); err != nil {
		f.Close()
		return nil, err
	}
	return &eventRun{f: f, w: w, lr: lr}, nil
}

// step writes one step: a summary scalar plus a tensor scalar for the
// learning rate, like the two ways trainers log scalars.
func (e *eventRun) step() error {
	s := e.next
	e.next++
	l := loss(e.lr, s)
	if err := e.w.WriteEvent(tfevents.ScalarEvent(int64(s), map[string]float32{
		"loss":     float32(l),
		"accuracy": float32(1 - l/2.6),
	})); err != nil {
		return err
	}
	return e.w.WriteEvent(tfevents.TensorScalarEvent(int64(s), map[string]float64{"lr": e.lr}))
}
