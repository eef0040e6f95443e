package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/index"
	"github.com/Aman-CERP/classidx/internal/pass"
	"github.com/Aman-CERP/classidx/internal/ui"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		full    bool
		plain   bool
		removed []string
	)

	cmd := &cobra.Command{
		Use:   "index <name> <dir> [files...]",
		Short: "Run a compilation pass over a directory",
		Long: `Run one compilation pass: open the index, feed it source items, close it.

Source item ids are file paths relative to <dir>. If the index must be
rebuilt (new, crashed, or recovered from a damaged store) every matching file
under <dir> is fed. Otherwise only the given files are fed, or every matching
file when none are given, and --removed ids are dropped first.`,
		Example: `  # Incremental pass after two files changed and one was deleted
  classidx index signatures ./classes a/B.properties a/C.properties --removed a/D.properties

  # Discard the index and rebuild it
  classidx index signatures ./classes --full`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, root := args[0], args[1]
			dir, err := a.indexDir(name)
			if err != nil {
				return err
			}
			if info, err := os.Stat(root); err != nil || !info.IsDir() {
				return fmt.Errorf("source directory %s does not exist", root)
			}

			if full {
				if err := index.Reset(dir, a.indexOptions(name)); err != nil {
					return err
				}
			}

			src, err := a.fileSource(cmd.Context(), root, args[2:], removed)
			if err != nil {
				return err
			}

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(plain || a.debug),
				ui.WithNoColor(ui.DetectNoColor()),
				ui.WithIndexName(name)))

			runner := pass.NewRunner[[]byte](pass.Config{
				Renderer:  renderer,
				Logger:    a.logger,
				BatchSize: a.cfg.Index.BatchSize,
			})
			result, err := runner.Run(cmd.Context(), a.opener(name), src)
			if err != nil {
				return err
			}
			a.logger.Debug("index_command_done",
				slog.Int("updated", result.Updated),
				slog.Bool("full", result.Full))
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Discard the index and rebuild it from every file")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress output (no TUI)")
	cmd.Flags().StringSliceVar(&removed, "removed", nil, "Source ids deleted since the last pass")

	return cmd
}

// fileSource builds the pass source for files under root. Explicit files may
// be given relative to root or as paths that lie inside it.
func (a *app) fileSource(ctx context.Context, root string, files, removed []string) (pass.FileSource, error) {
	src := pass.FileSource{
		Root:       root,
		RemovedIDs: removed,
		Match:      pass.ExtMatcher(a.cfg.Watch.Extensions),
	}
	if len(files) == 0 {
		ids, err := src.Walk(ctx)
		src.ChangedIDs = ids
		return src, err
	}

	for _, f := range files {
		id, err := sourceID(root, f)
		if err != nil {
			return src, err
		}
		src.ChangedIDs = append(src.ChangedIDs, id)
	}
	return src, nil
}

// sourceID turns a file argument into an id relative to root.
func sourceID(root, file string) (string, error) {
	if !filepath.IsAbs(file) {
		if _, err := os.Stat(filepath.Join(root, file)); err == nil {
			return filepath.ToSlash(filepath.Clean(file)), nil
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absFile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside %s", file, root)
	}
	return filepath.ToSlash(rel), nil
}
