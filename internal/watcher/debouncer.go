package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid events for the same path so one editor save does
// not trigger several re-indexes. Within the window, operations merge:
//   - CREATE then MODIFY stays CREATE (the file is still new)
//   - CREATE then DELETE cancels out (the file never really existed)
//   - MODIFY then DELETE becomes DELETE
//   - DELETE then CREATE becomes MODIFY (the file was replaced)
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer emitting coalesced batches on its output
// channel after each quiet window. queueSize bounds the output buffer.
func NewDebouncer(window time.Duration, queueSize int) *Debouncer {
	if queueSize <= 0 {
		queueSize = DefaultOptions().QueueSize
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, queueSize),
	}
}

// Add records an event, merging it with any pending event for the same path,
// and restarts the flush timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(existing.firstOp, existing.event, event)
		if !keep {
			delete(d.pending, event.Path)
		} else {
			existing.event = merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges a new event into the pending one. keep=false means the
// two events cancelled out.
func coalesce(firstOp Operation, pending, incoming FileEvent) (merged FileEvent, keep bool) {
	switch {
	case firstOp == OpCreate && incoming.Operation == OpModify:
		return pending, true
	case firstOp == OpCreate && incoming.Operation == OpDelete:
		return FileEvent{}, false
	case firstOp == OpDelete && incoming.Operation == OpCreate:
		incoming.Operation = OpModify
		return incoming, true
	default:
		return incoming, true
	}
}

// flush emits all pending events as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		batch = append(batch, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- batch:
	default:
		slog.Warn("debounce queue full, dropping batch",
			slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of coalesced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call more
// than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
