// Package watcher turns file system activity under a source tree into
// debounced batches of create, modify and delete events.
//
// fsnotify reports individual writes; the Debouncer coalesces them per path
// so that one save, or one build writing hundreds of class files, becomes a
// single batch and a single compilation pass.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, "/path/to/classes") }()
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        // event.Path is slash-separated and relative to the root
//	    }
//	}
package watcher
