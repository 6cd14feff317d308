package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/clarabennett2626/runpilot/internal/export"
	"github.com/clarabennett2626/runpilot/internal/loader"
	"github.com/clarabennett2626/runpilot/internal/run"
	"github.com/clarabennett2626/runpilot/internal/source"
	"github.com/clarabennett2626/runpilot/internal/tui"
)

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [patterns...]",
		Short: "Load runs and print a summary",
		Long: `Load every run matching the given paths or glob patterns and print one
line per run. Use "-" to read patterns from stdin, one per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns, err := a.patterns(args)
			if err != nil {
				return err
			}
			runs, total, err := a.loadRuns(cmd.Context(), patterns)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) > 0 {
				printLines(out, a.renderer(out).RenderRuns(runs))
			}
			fmt.Fprintln(cmd.ErrOrStderr(), tui.Summary(len(runs), total))
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	var (
		asJSON bool
		tail   int
		pager  bool
	)
	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Print the table of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := run.Read(args[0], a.runOptions())
			if err != nil {
				return err
			}
			t := r.Table
			if tail > 0 {
				t = t.Tail(tail)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return tui.WriteJSON(out, t, a.terminal(out))
			}
			lines := a.renderer(out).RenderTable(t)
			if pager && a.terminal(out) {
				p := tea.NewProgram(tui.NewModelWithContent(r.Path, lines), tea.WithAltScreen())
				_, err := p.Run()
				return err
			}
			printLines(out, lines)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rows as JSON")
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "only the last N rows")
	cmd.Flags().BoolVar(&pager, "pager", true, "page output on a terminal")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var (
		outPath string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "export [patterns...]",
		Short: "Write runs in long format as Parquet or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := exportFormat(format, outPath)
			if err != nil {
				return err
			}
			patterns, err := a.patterns(args)
			if err != nil {
				return err
			}
			runs, _, err := a.loadRuns(cmd.Context(), patterns)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return errors.New("no runs loaded")
			}

			var n int
			if outPath == "" || outPath == "-" {
				n, err = export.Write(cmd.OutOrStdout(), runs, f)
			} else {
				var file *os.File
				if file, err = os.Create(outPath); err != nil {
					return err
				}
				n, err = exportTo(file, runs, f)
			}
			if err != nil {
				return err
			}
			level.Info(a.logger).Log("msg", "exported runs", "runs", len(runs), "rows", n, "format", f, "out", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVarP(&format, "format", "f", "", "parquet or csv (default from the output extension, else csv)")
	return cmd
}

// exportTo writes runs to dst and closes it. A close error is returned
// if the write succeeded.
func exportTo(dst io.WriteCloser, runs run.RunList, f export.Format) (n int, err error) {
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
	}()
	return export.Write(dst, runs, f)
}

func exportFormat(format, outPath string) (export.Format, error) {
	if format != "" {
		return export.ParseFormat(format)
	}
	if strings.EqualFold(filepath.Ext(outPath), ".parquet") {
		return export.FormatParquet, nil
	}
	return export.FormatCSV, nil
}

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [patterns...]",
		Short: "Reload runs as their logs grow",
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns, err := a.patterns(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			opts, err := a.loaderOptions()
			if err != nil {
				return err
			}

			w := source.NewWatcher(source.WatchConfig{
				Patterns: patterns,
				Debounce: a.cfg.Watch.Debounce.Duration,
				Poll:     a.cfg.Watch.Poll.Duration,
			})
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			l := loader.NewLoader(opts)
			defer l.Close()

			out := cmd.OutOrStdout()
			r := a.renderer(out)
			render := func(paths []string) ([]string, error) {
				runs, err := l.ReloadPaths(ctx, paths)
				if err != nil {
					return nil, err
				}
				return r.RenderRuns(runs), nil
			}

			lines, err := render(w.Runs())
			if err != nil {
				return err
			}
			if !a.terminal(out) {
				printLines(out, lines)
				return a.watchPlain(cmd, w, render)
			}
			return a.watchPager(cmd, w, lines, render)
		},
	}
	cmd.Flags().DurationVar(&a.flags.poll, "interval", 0, "how often patterns are expanded again (default from config)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("interval") {
			a.cfg.Watch.Poll.Duration = a.flags.poll
		}
	}
	return cmd
}

type renderFunc func(paths []string) ([]string, error)

// watchPlain prints the summary again after every change until the
// context ends.
func (a *app) watchPlain(cmd *cobra.Command, w *source.Watcher, render renderFunc) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.Errors():
			level.Warn(a.logger).Log("msg", "watch error", "err", err)
		case changed, ok := <-w.Changes():
			if !ok {
				return nil
			}
			lines, err := render(changed)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			printLines(out, lines)
		}
	}
}

// watchPager shows the summary in the pager and replaces it on change.
func (a *app) watchPager(cmd *cobra.Command, w *source.Watcher, lines []string, render renderFunc) error {
	ctx := cmd.Context()
	content := make(chan []string)
	errs := make(chan error)
	p := tea.NewProgram(tui.NewModelWithContent(strings.Join(w.Runs(), ", "), lines), tea.WithAltScreen())
	tui.ListenForContent(content, errs, p)

	// The pager owns the terminal, so watch errors are shown in it rather
	// than logged.
	quit := make(chan struct{})
	go func() {
		defer close(content)
		defer close(errs)
		if forwardChanges(ctx, quit, w.Changes(), w.Errors(), render, content, errs) {
			p.Quit()
		}
	}()
	_, err := p.Run()
	close(quit)
	return err
}

// forwardChanges renders each batch of changed paths into content and
// relays watcher errors to errs until quit is closed, the watcher stops or
// a render fails. It reports whether ctx ended the loop.
func forwardChanges(ctx context.Context, quit <-chan struct{}, changes <-chan []string, watchErrs <-chan error,
	render renderFunc, content chan<- []string, errs chan<- error) bool {
	for {
		select {
		case <-quit:
			return false
		case <-ctx.Done():
			return true
		case err := <-watchErrs:
			select {
			case errs <- err:
			case <-quit:
				return false
			case <-ctx.Done():
				return true
			}
		case changed, ok := <-changes:
			if !ok {
				return false
			}
			lines, err := render(changed)
			if err != nil {
				select {
				case errs <- err:
				case <-quit:
				case <-ctx.Done():
					return true
				}
				return false
			}
			select {
			case content <- lines:
			case <-quit:
				return false
			case <-ctx.Done():
				return true
			}
		}
	}
}

func (a *app) workerCmd() *cobra.Command {
	var opts run.Options
	cmd := &cobra.Command{
		Use:    "worker [flags] -- <path>",
		Short:  "Load one run and write it to stdout (used by --strategy process)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		// Workers take their options from flags only.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Logger = level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(cmd.ErrOrStderr())), level.AllowWarn())
			return loader.ServeWorker(cmd.OutOrStdout(), args[0], opts)
		},
	}
	loader.BindWorkerFlags(cmd.Flags(), &opts)
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "runpilot %s (%s) built %s\n", version, commit, date)
		},
	}
}
