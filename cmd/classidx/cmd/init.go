package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/marker"
	"github.com/Aman-CERP/classidx/internal/output"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init <name>",
		Short: "Create an index directory",
		Long: `Create the directory of an index and its version and state markers.

A new index starts in the CORRUPTED state: the first pass rebuilds it from
every source item. Running init on an existing index keeps its markers.`,
		Example: `  classidx init signatures`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dir, err := a.indexDir(name)
			if err != nil {
				return err
			}
			existed := marker.Initialized(dir)
			if err := marker.Init(dir); err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if existed {
				out.Successf("Index %s already initialized", name)
			} else {
				out.Successf("Initialized index %s", name)
			}
			out.Status("", dir)
			return nil
		},
	}
}
