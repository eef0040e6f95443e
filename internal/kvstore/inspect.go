package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
)

// Summary describes a store on disk without opening it for writing.
type Summary struct {
	Keys    int
	Sources int
	// Size is the total size of the store's files, WAL included.
	Size int64
}

// Inspect validates the store in dir and counts its contents without writing.
// A database failing validation yields an ERR_206_FILE_CORRUPT error; a missing
// database yields a zero Summary with Size 0.
func Inspect(ctx context.Context, dir string) (Summary, error) {
	var sum Summary

	size, err := filesSize(dir, BaseName)
	if err != nil {
		return sum, err
	}
	sum.Size = size
	if !Exists(dir) {
		return sum, nil
	}

	path := Path(dir)
	// No pragmas and no schema setup: only reads are issued.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return sum, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.validate(); err != nil {
		return sum, cierrors.New(cierrors.ErrCodeFileCorrupt,
			fmt.Sprintf("store %s is corrupt", path), err)
	}

	if sum.Keys, err = s.Count(ctx); err != nil {
		return sum, err
	}
	if sum.Sources, err = s.SourceCount(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

func filesSize(dir, base string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base) {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
