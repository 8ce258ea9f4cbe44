// Package watcher provides continuous indexing: it watches the filesystem,
// debounces rapid edits, and feeds changed documents to the indexer.
package watcher

import "time"

// Operation is the kind of filesystem change observed.
type Operation int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing file changed.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a single observed filesystem change.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is how long to wait after the last event on a path
	// before emitting it. Rapid successive edits to the same file coalesce
	// into one re-index.
	DebounceWindow time.Duration

	// QueueSize bounds the buffered event batches between the watcher and
	// the indexing consumer.
	QueueSize int
}

// DefaultOptions returns the standard watcher tuning.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: time.Second,
		QueueSize:      256,
	}
}

// WithDefaults fills zero fields with package defaults.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = def.DebounceWindow
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	return o
}
