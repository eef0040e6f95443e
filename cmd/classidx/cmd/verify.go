package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/marker"
	"github.com/Aman-CERP/classidx/internal/output"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <name>",
		Short: "Check an index for problems",
		Long: `Check the markers and the store of an index without modifying it.

verify fails when a marker is missing, the format version is not the one this
build writes, the index was not closed cleanly, or the store fails its
integrity check. A CORRUPTED index is rebuilt by the next pass.`,
		Example: `  classidx verify signatures`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dir, err := a.indexDir(name)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			info := collectStatus(cmd.Context(), name, dir)
			problems := 0

			if !info.Initialized {
				out.Errorf("Missing markers: %v", info.Missing)
				out.Status("", fmt.Sprintf("Run 'classidx init %s'", name))
				return fmt.Errorf("index %s failed verification", name)
			}
			out.Success("Markers present")

			if info.Version == marker.FormatVersion {
				out.Successf("Format version %d", info.Version)
			} else {
				problems++
				out.Errorf("Format version %d, expected %d", info.Version, marker.FormatVersion)
			}

			if info.State == marker.StateExist.String() {
				out.Success("Closed cleanly")
			} else {
				problems++
				out.Warningf("State %s: the next pass rebuilds the index", info.State)
			}

			if info.StoreError != "" {
				problems++
				out.Errorf("Store: %s", info.StoreError)
			} else {
				out.Successf("Store intact (%d keys from %d sources)", info.Keys, info.Sources)
			}

			if problems > 0 {
				return fmt.Errorf("index %s failed verification with %d problem(s)", name, problems)
			}
			return nil
		},
	}
}
