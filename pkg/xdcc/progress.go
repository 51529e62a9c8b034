package xdcc

import "github.com/google/uuid"

// ProgressSink receives per-transfer progress from workers and the control
// loop. Implementations must be safe for concurrent use.
type ProgressSink interface {
	Start(id uuid.UUID, name string, total, offset int64)
	Update(id uuid.UUID, received int64)
	Finish(id uuid.UUID, status Status, err error)
}

// NopProgress discards all reports.
type NopProgress struct{}

func (NopProgress) Start(uuid.UUID, string, int64, int64) {}
func (NopProgress) Update(uuid.UUID, int64)               {}
func (NopProgress) Finish(uuid.UUID, Status, error)       {}
