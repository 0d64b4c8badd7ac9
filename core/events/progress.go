package events

import (
	"math"

	"conductor/core/logger"

	"go.uber.org/zap"
)

// Ticks describes how far a long running job has come.
type Ticks struct {
	Count uint64  `json:"count"`
	State *string `json:"state,omitempty"`
	Total *uint64 `json:"total,omitempty"`
}

// Done reports whether the count reached a known total.
func (t Ticks) Done() bool {
	return t.Total != nil && t.Count == *t.Total
}

// ProgressKind tags an IndexingProgress update.
type ProgressKind int

const (
	// GotItem reflects a result of the job, not its progress.
	GotItem ProgressKind = iota
	// Progress carries processed against total ticks.
	Progress
	Stopped
	Finished
)

// IndexingProgress is one update sent by a long running job.
type IndexingProgress[T any] struct {
	Kind  ProgressKind
	Item  T
	Ticks Ticks
}

// ProgressReporter accumulates consumed bytes against a known total and
// reports a Progress update each time the rounded percentage changes.
type ProgressReporter[T any] struct {
	updates    chan<- IndexingProgress[T]
	processed  uint64
	percentage uint64
	total      uint64
}

// NewProgressReporter returns a reporter writing to updates.
func NewProgressReporter[T any](total uint64, updates chan<- IndexingProgress[T]) *ProgressReporter[T] {
	return &ProgressReporter[T]{updates: updates, total: total}
}

// MakeProgress records consumed bytes. A zero total never reports.
func (r *ProgressReporter[T]) MakeProgress(consumed uint64) {
	r.processed += consumed
	if r.total == 0 {
		return
	}
	pct := uint64(math.Round(float64(r.processed) / float64(r.total) * 100))
	if pct == r.percentage {
		return
	}
	r.percentage = pct
	total := r.total
	update := IndexingProgress[T]{Kind: Progress, Ticks: Ticks{Count: r.processed, Total: &total}}
	select {
	case r.updates <- update:
	default:
		logger.Logger.Warn("could not send progress update",
			zap.Uint64("processed", r.processed),
			zap.Uint64("total", r.total))
	}
}

// Processed returns the bytes consumed so far.
func (r *ProgressReporter[T]) Processed() uint64 {
	return r.processed
}
