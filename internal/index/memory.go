package index

import (
	"log/slog"
	"runtime"
	"strconv"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

// MemoryReader reports the current heap size in megabytes. Injectable so
// backpressure behavior can be tested without allocating real memory.
type MemoryReader func() float64

// RuntimeMemoryReader reads the live heap size from the Go runtime.
func RuntimeMemoryReader() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / (1024 * 1024)
}

// exhaustionLimit is how many consecutive batches may exceed the hard memory
// limit after cleanup before the run is aborted.
const exhaustionLimit = 3

// memoryManager applies backpressure between batches: a periodic forced GC
// every gcFrequency batches, a cleanup GC whenever the heap crosses the
// threshold fraction of the limit, and a fatal error when cleanup stops
// helping.
type memoryManager struct {
	read      MemoryReader
	maxMB     float64
	threshold float64
	gcFreq    int
	progress  *Progress
	overLimit int // consecutive batches still over maxMB after cleanup
}

func newMemoryManager(read MemoryReader, maxMB, threshold float64, gcFreq int, progress *Progress) *memoryManager {
	if read == nil {
		read = RuntimeMemoryReader
	}
	return &memoryManager{
		read:      read,
		maxMB:     maxMB,
		threshold: threshold,
		gcFreq:    gcFreq,
		progress:  progress,
	}
}

// afterBatch runs the backpressure checks once a batch has been stored.
// batchNum is 1-based.
func (m *memoryManager) afterBatch(batchNum int) error {
	if m.gcFreq > 0 && batchNum%m.gcFreq == 0 {
		runtime.GC()
		m.progress.ForcedGC()
	}

	current := m.read()
	m.progress.UpdateMemory(current)

	if current > m.threshold*m.maxMB {
		slog.Debug("memory threshold crossed, forcing cleanup",
			slog.Float64("current_mb", current),
			slog.Float64("limit_mb", m.maxMB))
		runtime.GC()
		m.progress.MemoryCleanup()

		current = m.read()
		m.progress.UpdateMemory(current)
	}

	if current > m.maxMB {
		m.overLimit++
		if m.overLimit >= exhaustionLimit {
			return ragerr.ResourceExhaustionError(
				"memory limit exceeded despite repeated cleanup").
				WithDetail("current_mb", formatMB(current)).
				WithDetail("limit_mb", formatMB(m.maxMB))
		}
	} else {
		m.overLimit = 0
	}

	return nil
}

func formatMB(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
