package tracker

import (
	"time"

	"github.com/google/uuid"
)

// OperationStat describes one operation registered with the tracker.
// Started is in microseconds since the Unix epoch; Duration is in
// microseconds and stays 0 until the operation is removed.
type OperationStat struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Duration uint64 `json:"duration"`
	Started  uint64 `json:"started"`
}

func newStat(id uuid.UUID, name string, now time.Time) *OperationStat {
	return &OperationStat{
		UUID:    id.String(),
		Name:    name,
		Started: micros(now),
	}
}

func (s *OperationStat) done(now time.Time) {
	if ts := micros(now); ts > s.Started {
		s.Duration = ts - s.Started
	}
}

func micros(t time.Time) uint64 {
	if us := t.UnixMicro(); us > 0 {
		return uint64(us)
	}
	return 0
}
