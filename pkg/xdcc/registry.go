package xdcc

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jgoldverg/xdccget/pkg/metrics"
)

type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusSkipped
	StatusFailed
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the transfer is finished one way or another.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

func (s Status) metricLabel() string {
	switch s {
	case StatusCompleted:
		return metrics.OutcomeCompleted
	case StatusSkipped:
		return metrics.OutcomeSkipped
	case StatusInterrupted:
		return metrics.OutcomeInterrupted
	default:
		return metrics.OutcomeFailed
	}
}

var (
	// ErrTransferNotFound signals that the requested transfer ID is unknown.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrTransferAlreadyFinished is returned when finishing a terminal transfer twice.
	ErrTransferAlreadyFinished = errors.New("transfer already finished")
)

// TransferSnapshot is an immutable view of one transfer for reports.
type TransferSnapshot struct {
	ID          uuid.UUID
	Filename    string
	Size        int64
	Offset      int64
	Received    int64
	Status      Status
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// registry tracks every transfer the session has seen. It is owned by the
// control loop and never touched by workers, so it needs no locking.
type registry struct {
	order     []uuid.UUID
	transfers map[uuid.UUID]*TransferSnapshot
	collector *metrics.TransferCollector
}

func newRegistry(collector *metrics.TransferCollector) *registry {
	return &registry{
		transfers: make(map[uuid.UUID]*TransferSnapshot),
		collector: collector,
	}
}

func (r *registry) create(filename string, size, offset int64) uuid.UUID {
	id := uuid.New()
	r.transfers[id] = &TransferSnapshot{
		ID:        id,
		Filename:  filename,
		Size:      size,
		Offset:    offset,
		Received:  offset,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	r.order = append(r.order, id)
	return id
}

func (r *registry) start(id uuid.UUID, offset int64) error {
	t, ok := r.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if t.Status.Terminal() {
		return ErrTransferAlreadyFinished
	}
	t.Status = StatusRunning
	t.Offset = offset
	t.Received = offset
	t.StartedAt = time.Now()
	return nil
}

func (r *registry) finish(id uuid.UUID, status Status, received int64, err error) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %v", status)
	}
	t, ok := r.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if t.Status.Terminal() {
		return ErrTransferAlreadyFinished
	}
	t.Status = status
	if received > t.Received {
		t.Received = received
	}
	if err != nil {
		t.Error = err.Error()
	}
	t.CompletedAt = time.Now()
	r.collector.ObserveOutcome(status.metricLabel())
	return nil
}

func (r *registry) get(id uuid.UUID) (TransferSnapshot, bool) {
	t, ok := r.transfers[id]
	if !ok {
		return TransferSnapshot{}, false
	}
	return *t, true
}

func (r *registry) count(status Status) int {
	n := 0
	for _, t := range r.transfers {
		if t.Status == status {
			n++
		}
	}
	return n
}

func (r *registry) snapshots() []TransferSnapshot {
	out := make([]TransferSnapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.transfers[id])
	}
	return out
}

// Report summarises a finished session.
type Report struct {
	State     State
	Requested int
	Transfers []TransferSnapshot
}

func (r *Report) Count(status Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, t := range r.Transfers {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Failed reports the number of transfers that ended in error.
func (r *Report) Failed() int {
	return r.Count(StatusFailed)
}
