package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the release and index format",
		Long: `Print the classidx release, the on-disk index format it reads and
writes, and how the binary was built. Indexes written with a different format
are rebuilt by the next pass.`,
		Args: cobra.NoArgs,
		// Printing a version needs neither configuration nor a logger.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case shortOutput:
				_, err := fmt.Fprintln(out, version.Short())
				return err
			case jsonOutput:
				return writeJSON(out, version.GetInfo())
			default:
				_, err := fmt.Fprintln(out, version.String())
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print build info as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "print only release and index format")
	return cmd
}
