package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/daemon"
	"github.com/Aman-CERP/classidx/internal/index"
	"github.com/Aman-CERP/classidx/internal/kvstore"
	"github.com/Aman-CERP/classidx/internal/marker"
	"github.com/Aman-CERP/classidx/internal/output"
	"github.com/Aman-CERP/classidx/internal/ui"
)

func newStatusCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show index state and contents",
		Long: `Display the markers and store contents of an index, or of every index in
the data directory when no name is given:
  - State (EXIST after a clean close, CORRUPTED otherwise)
  - Format version
  - Number of keys and contributing sources
  - Store size on disk

status only reads; it never changes the state of an index.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				var err error
				if names, err = index.List(a.dataDir); err != nil {
					return err
				}
				if len(names) == 0 && !jsonOutput {
					out := output.New(cmd.OutOrStdout())
					out.Warningf("No indexes in %s", a.dataDir)
					out.Status("", "Run 'classidx init <name>' to create one")
					return nil
				}
			}

			infos := make([]ui.StatusInfo, 0, len(names))
			for _, name := range names {
				dir, err := a.indexDir(name)
				if err != nil {
					return err
				}
				infos = append(infos, collectStatus(cmd.Context(), name, dir))
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
			if jsonOutput {
				if len(args) == 1 {
					return renderer.RenderJSON(infos[0])
				}
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			for i, info := range infos {
				if i > 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout())
				}
				if err := renderer.Render(info); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// collectStatus reads the markers and store of dir without taking the writer
// lock. Problems are reported in the returned info, not as errors.
func collectStatus(ctx context.Context, name, dir string) ui.StatusInfo {
	info := ui.StatusInfo{Name: name, Dir: dir}

	if missing := marker.Missing(dir); len(missing) > 0 {
		info.Missing = missing
		return info
	}
	info.Initialized = true

	state, err := marker.Load(dir)
	if err != nil {
		info.StoreError = err.Error()
	}
	info.State = state.String()

	if v, err := marker.ReadVersion(dir); err == nil {
		info.Version = v
	}

	// The state marker is rewritten on every clean close.
	if state == marker.StateExist {
		if fi, err := os.Stat(filepath.Join(dir, marker.StateFile)); err == nil {
			info.LastClosed = fi.ModTime()
		}
	}

	if pid, ok := daemon.ForIndex(dir).Running(); ok {
		info.WatcherPID = pid
	}

	sum, err := kvstore.Inspect(ctx, dir)
	info.StoreSize = sum.Size
	if err != nil {
		info.StoreError = err.Error()
		return info
	}
	info.Keys = sum.Keys
	info.Sources = sum.Sources
	return info
}
