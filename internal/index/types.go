// Package index implements the persistent class-file index: a key -> value
// store built during a compilation pass, with an on-disk durability marker
// that tells the next pass whether it can trust the index or must rebuild it.
//
// Lifecycle of one pass:
//
//	w, err := index.Open(ctx, dir, keys, values, extractor, opts) // state := CORRUPTED
//	if w.IsEmpty() { /* feed every source item */ }
//	w.Update(ctx, id, item)                                       // any number of times
//	w.Close()                                                     // state := EXIST
//
// A pass that never reaches Close leaves the marker CORRUPTED, and the next
// Open reports IsEmpty() == true.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/kvstore"
)

const (
	// LockFile guards a directory against a second concurrent writer.
	LockFile = ".lock"

	// DefaultOpenAttempts is one attempt plus one attempt after recovery.
	DefaultOpenAttempts = 2

	// DefaultCacheSize is the number of decoded lookups kept in memory.
	DefaultCacheSize = 1024

	indexesDir = "index"
)

// Extractor derives the key/value pairs a source item contributes.
// Implementations must not touch the index; Update may call them concurrently.
type Extractor[T any, K comparable, V any] interface {
	Extract(item T) (map[K]V, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc[T any, K comparable, V any] func(item T) (map[K]V, error)

// Extract calls f(item).
func (f ExtractorFunc[T, K, V]) Extract(item T) (map[K]V, error) {
	return f(item)
}

// Item is one identified source item for UpdateBatch.
type Item[T any] struct {
	ID    string
	Value T
}

// Entry is the decoded state of one key.
type Entry[V any] struct {
	Value        V
	Contributors []string
}

// Stats describes an open index.
type Stats struct {
	Name      string `json:"name"`
	Dir       string `json:"dir"`
	Keys      int    `json:"keys"`
	Sources   int    `json:"sources"`
	Empty     bool   `json:"empty"`
	Recovered bool   `json:"recovered"`
}

// Backend is the durable store an index writes through.
// *kvstore.Store is the production implementation.
type Backend interface {
	ReplaceSource(ctx context.Context, source string, pairs []kvstore.Pair) ([][]byte, error)
	Clear(ctx context.Context) error
	Get(ctx context.Context, key []byte) (kvstore.Record, bool, error)
	KeysBySource(ctx context.Context, source string) ([][]byte, error)
	RemoveSource(ctx context.Context, source string) ([][]byte, error)
	Count(ctx context.Context) (int, error)
	SourceCount(ctx context.Context) (int, error)
	Close() error
}

// Opener opens the backend rooted at dir.
type Opener func(dir string) (Backend, error)

// Options configures Open. The zero value is usable.
type Options struct {
	// Name is the index canonical name used in errors and logs.
	// Defaults to the base name of the directory.
	Name string

	// OpenAttempts bounds how often the store is opened; every failed attempt
	// but the last deletes the store files first. Defaults to 2.
	OpenAttempts int

	// CacheSize is the number of decoded lookups to cache. Defaults to 1024.
	CacheSize int

	// Workers bounds concurrent extraction in UpdateBatch. Defaults to GOMAXPROCS.
	Workers int

	// Store tunes the default SQLite backend.
	Store kvstore.Options

	// Opener replaces the default SQLite backend.
	Opener Opener

	// StoreBaseName is the file prefix removed during recovery.
	// Defaults to kvstore.BaseName.
	StoreBaseName string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults(dir string) Options {
	if o.Name == "" {
		o.Name = filepath.Base(dir)
	}
	if o.OpenAttempts <= 0 {
		o.OpenAttempts = DefaultOpenAttempts
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Opener == nil {
		storeOpts := o.Store
		o.Opener = func(dir string) (Backend, error) {
			return kvstore.Open(dir, storeOpts)
		}
	}
	if o.StoreBaseName == "" {
		o.StoreBaseName = kvstore.BaseName
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName checks that name is usable as an index directory name.
func ValidateName(name string) error {
	if !validName.MatchString(name) || len(name) > 128 {
		return cierrors.New(cierrors.ErrCodeInvalidName,
			fmt.Sprintf("invalid index name %q", name), nil).
			WithSuggestion("use letters, digits, '.', '_' and '-', starting with a letter or digit")
	}
	return nil
}

// DirFor resolves an index name to its directory under dataRoot.
func DirFor(dataRoot, name string) string {
	return filepath.Join(dataRoot, indexesDir, name)
}
