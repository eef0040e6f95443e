package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/daemon"
	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/marker"
	"github.com/Aman-CERP/classidx/internal/output"
	"github.com/Aman-CERP/classidx/internal/pass"
	"github.com/Aman-CERP/classidx/internal/ui"
	"github.com/Aman-CERP/classidx/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	var stopRunning bool

	cmd := &cobra.Command{
		Use:   "watch <name> <dir>",
		Short: "Keep an index up to date with a directory",
		Long: `Run a pass over <dir>, then watch it and run an incremental pass for every
debounced batch of file changes until interrupted.

Each batch is its own session: the index is closed cleanly between batches,
so a crash while watching only costs a rebuild on the next run.

One watcher runs per index; its PID is kept in the index directory.
Use --stop to terminate it.`,
		Example: `  classidx watch signatures ./classes
  classidx watch --stop signatures`,
		Args: func(cmd *cobra.Command, args []string) error {
			if stopRunning {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dir, err := a.indexDir(name)
			if err != nil {
				return err
			}
			pidFile := daemon.ForIndex(dir)
			if stopRunning {
				return stopWatcher(cmd, pidFile, name)
			}

			root := args[1]
			if missing := marker.Missing(dir); len(missing) > 0 {
				return cierrors.MissingMarkerError(name, dir, missing)
			}
			if info, err := os.Stat(root); err != nil || !info.IsDir() {
				return fmt.Errorf("source directory %s does not exist", root)
			}
			debounce, err := a.cfg.DebounceWindow()
			if err != nil {
				return err
			}

			if err := pidFile.Acquire(); err != nil {
				return fmt.Errorf("index %s is already watched: %w", name, err)
			}
			defer func() { _ = pidFile.Remove() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := watcher.New(watcher.Options{
				DebounceWindow: debounce,
				Extensions:     a.cfg.Watch.Extensions,
			})
			if err != nil {
				return err
			}
			defer func() { _ = w.Stop() }()

			// Watch before the first pass so no change slips in between.
			watchErr := make(chan error, 1)
			go func() { watchErr <- w.Start(ctx, root) }()

			out := output.New(cmd.OutOrStdout())
			runner := pass.NewRunner[[]byte](pass.Config{
				Renderer:  ui.NewPlainRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithIndexName(name))),
				Logger:    a.logger,
				BatchSize: a.cfg.Index.BatchSize,
			})

			src, err := a.fileSource(ctx, root, nil, nil)
			if err != nil {
				return err
			}
			if _, err := runner.Run(ctx, a.opener(name), src); err != nil {
				return err
			}
			out.Statusf("", "Watching %s (Ctrl+C to stop)", root)

			err = a.watchLoop(ctx, w, runner, name, root)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			_ = w.Stop()
			if startErr := <-watchErr; err == nil && startErr != nil && !errors.Is(startErr, context.Canceled) {
				err = startErr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&stopRunning, "stop", false, "Stop the watcher of the index")

	return cmd
}

// stopWatcher asks the running watcher of an index to exit.
func stopWatcher(cmd *cobra.Command, pidFile *daemon.PIDFile, name string) error {
	out := output.New(cmd.OutOrStdout())
	pid, ok := pidFile.Running()
	if !ok {
		out.Statusf("", "No watcher running for %s", name)
		return nil
	}
	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	out.Successf("Stopped watcher of %s (pid %d)", name, pid)
	return nil
}

// watchLoop runs one pass per batch until ctx ends or the watcher stops.
// A failed pass is reported and watching continues: the index is left
// CORRUPTED and the next pass rebuilds it.
func (a *app) watchLoop(ctx context.Context, w *watcher.Watcher, runner *pass.Runner[[]byte], name, root string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			a.logger.Warn("watch_error", slog.String("error", err.Error()))

		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			src := batchSource(root, batch)
			src.Match = pass.ExtMatcher(a.cfg.Watch.Extensions)
			if _, err := runner.Run(ctx, a.opener(name), src); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("watch_pass_failed", slog.String("index", name), slog.String("error", err.Error()))
			}
		}
	}
}

// batchSource turns a debounced batch into a pass source.
func batchSource(root string, batch []watcher.FileEvent) pass.FileSource {
	src := pass.FileSource{Root: root}
	for _, ev := range batch {
		switch ev.Operation {
		case watcher.OpDelete:
			src.RemovedIDs = append(src.RemovedIDs, ev.Path)
		default:
			src.ChangedIDs = append(src.ChangedIDs, ev.Path)
		}
	}
	return src
}
