package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/preflight"
)

// doctorOutput is the JSON form of a doctor run.
type doctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd(a *app) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics against the data directory to ensure indexes can be written.

Checks:
  - Write and rename permission in the data directory
  - Disk space (64MB minimum)
  - File descriptor limits (1024 recommended for watch)
  - A SQLite store round trip

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.`,
		Example: `  classidx doctor
  classidx doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checker := preflight.New(
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
			)
			results := checker.RunAll(cmd.Context(), a.dataDir)

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), doctorOutput{
					Status: checker.SummaryStatus(results),
					Checks: results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errors.New("system check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
