package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/output"
)

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name> <source>...",
		Short: "Drop the contributions of source items",
		Long: `Remove source items from an index. Each source is dropped from the
contributor set of every key it produced; keys left without a contributor are
deleted.

An index that must be rebuilt is left untouched: run a full pass instead.`,
		Example: `  classidx remove signatures com/example/Widget.properties`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			w, err := a.openIndex(cmd.Context(), name)
			if err != nil {
				return err
			}

			if w.IsEmpty() {
				// Closing would mark an unbuilt index as valid.
				if err := w.Abort(); err != nil {
					a.logger.Warn("abort_failed", slog.String("error", err.Error()))
				}
				return fmt.Errorf("index %s must be rebuilt before sources can be removed; run 'classidx index %s <dir>'", name, name)
			}

			out := output.New(cmd.OutOrStdout())
			for _, source := range args[1:] {
				dropped, err := w.RemoveSource(cmd.Context(), source)
				if err != nil {
					_ = w.Close()
					return err
				}
				out.Successf("Removed %s (%d keys dropped)", source, dropped)
			}
			return w.Close()
		},
	}
}
