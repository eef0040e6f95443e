package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/kvstore"
	"github.com/Aman-CERP/classidx/internal/marker"
	"github.com/Aman-CERP/classidx/internal/output"
)

// openForRead opens the store of an index for queries. It bypasses the
// writer so the state marker is left alone: a CORRUPTED index stays
// CORRUPTED and is only flagged to the user.
func (a *app) openForRead(out *output.Writer, name string) (*kvstore.Store, error) {
	dir, err := a.indexDir(name)
	if err != nil {
		return nil, err
	}
	if missing := marker.Missing(dir); len(missing) > 0 {
		return nil, cierrors.MissingMarkerError(name, dir, missing)
	}
	if !kvstore.Exists(dir) {
		return nil, cierrors.New(cierrors.ErrCodeStoreOpen,
			fmt.Sprintf("index %s has not been built yet", name), nil).
			WithIndex(name, dir).
			WithSuggestion(fmt.Sprintf("run 'classidx index %s <dir>'", name))
	}

	if state, _ := marker.Load(dir); state != marker.StateExist {
		out.Warningf("Index %s is %s; results may be incomplete until the next pass", name, state)
	}

	store, err := kvstore.Open(dir, a.indexOptions(name).Store)
	if err != nil {
		return nil, cierrors.StoreOpenError(name, dir, err)
	}
	return store, nil
}

type getResult struct {
	Key          string   `json:"key"`
	Value        string   `json:"value"`
	Contributors []string `json:"contributors"`
}

func newGetCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <name> <key>",
		Short: "Look up a key",
		Long: `Print the value stored for a key and the source items that contributed it.

The lookup reads the store directly and does not change the index state.`,
		Example: `  classidx get signatures com.example.Widget`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, key := args[0], args[1]
			out := output.New(cmd.ErrOrStderr())
			store, err := a.openForRead(out, name)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, ok, err := store.Get(cmd.Context(), []byte(key))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %q not found in index %s", key, name)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), getResult{
					Key:          key,
					Value:        string(rec.Value),
					Contributors: rec.Contributors,
				})
			}
			res := output.New(cmd.OutOrStdout())
			res.KV("Key", key, 14)
			res.KV("Value", string(rec.Value), 14)
			res.KV("Contributors", len(rec.Contributors), 14)
			res.List(rec.Contributors)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newKeysCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "keys <name> <source>",
		Short: "List the keys a source item contributed",
		Example: `  classidx keys signatures com/example/Widget.properties`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, source := args[0], args[1]
			out := output.New(cmd.ErrOrStderr())
			store, err := a.openForRead(out, name)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			raw, err := store.KeysBySource(cmd.Context(), source)
			if err != nil {
				return err
			}
			keys := make([]string, len(raw))
			for i, k := range raw {
				keys[i] = string(k)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), keys)
			}
			for _, k := range keys {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
