package preflight

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/Aman-CERP/classidx/internal/kvstore"
)

// CheckStore writes and reads back one key through a scratch store under
// dataDir, then removes it.
func (c *Checker) CheckStore(ctx context.Context, dataDir string) CheckResult {
	result := CheckResult{
		Name:     "store",
		Required: true,
	}

	dir, err := os.MkdirTemp(dataDir, ".preflight-store-")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create scratch directory: %v", err)
		return result
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if err := roundTrip(ctx, dir); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = "SQLite write, read and close succeeded"
	return result
}

func roundTrip(ctx context.Context, dir string) error {
	store, err := kvstore.Open(dir, kvstore.DefaultOptions())
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() { _ = store.Close() }()

	key, value := []byte("preflight"), []byte("ok")
	if err := store.Put(ctx, key, value, "preflight"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	rec, ok, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !ok || !bytes.Equal(rec.Value, value) {
		return fmt.Errorf("read back %q, want %q", rec.Value, value)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
