package pass

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/Aman-CERP/classidx/internal/index"
)

// FileSource feeds files under Root to a pass. Item ids are slash-separated
// paths relative to Root; item values are the file contents.
type FileSource struct {
	// Root is the directory the ids are relative to.
	Root string

	// ChangedIDs lists the ids written since the last pass.
	ChangedIDs []string

	// RemovedIDs lists the ids deleted since the last pass.
	RemovedIDs []string

	// Match selects files during a full walk. Nil matches every file.
	Match func(id string) bool
}

// All walks Root and returns every matching file, sorted by id.
func (s FileSource) All(ctx context.Context) ([]index.Item[[]byte], error) {
	ids, err := s.Walk(ctx)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, ids)
}

// Walk returns the ids of every matching file under Root, sorted.
func (s FileSource) Walk(ctx context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		if s.Match == nil || s.Match(id) {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.Root, err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Changed reads the files named by ChangedIDs. A file that has disappeared
// since it was reported is skipped; the next pass sees it as removed.
func (s FileSource) Changed(ctx context.Context) ([]index.Item[[]byte], error) {
	return s.read(ctx, s.ChangedIDs)
}

// Removed returns RemovedIDs.
func (s FileSource) Removed(context.Context) ([]string, error) {
	return s.RemovedIDs, nil
}

func (s FileSource) read(ctx context.Context, ids []string) ([]index.Item[[]byte], error) {
	items := make([]index.Item[[]byte], 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(id)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", id, err)
		}
		items = append(items, index.Item[[]byte]{ID: id, Value: data})
	}
	return items, nil
}

// ExtMatcher returns a Match func accepting the given extensions.
// No extensions accepts every file.
func ExtMatcher(exts []string) func(id string) bool {
	if len(exts) == 0 {
		return nil
	}
	return func(id string) bool {
		return slices.Contains(exts, path.Ext(id))
	}
}
