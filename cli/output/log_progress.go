package output

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jgoldverg/xdccget/internal"
	"github.com/jgoldverg/xdccget/pkg/xdcc"
)

const logProgressSteps = 4

// LogProgress reports transfers through the logger when no terminal is
// attached or the terminal is too narrow for bars.
type LogProgress struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*logTransfer
}

type logTransfer struct {
	name  string
	total int64
	step  int
}

func NewLogProgress() *LogProgress {
	return &LogProgress{transfers: make(map[uuid.UUID]*logTransfer)}
}

func (l *LogProgress) Start(id uuid.UUID, name string, total, offset int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := &logTransfer{name: name, total: total}
	t.step = t.stepFor(offset)
	l.transfers[id] = t

	msg := "downloading"
	if offset > 0 {
		msg = "resuming"
	}
	internal.Info(msg, internal.Fields{
		internal.FieldFile:   name,
		internal.FieldSize:   humanizeSize(uint64(max(total, 0))),
		internal.FieldOffset: offset,
	})
}

func (l *LogProgress) Update(id uuid.UUID, received int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transfers[id]
	if !ok {
		return
	}
	step := t.stepFor(received)
	if step <= t.step || step >= logProgressSteps {
		return
	}
	t.step = step
	internal.Info("progress", internal.Fields{
		internal.FieldFile: t.name,
		internal.FieldMsg:  formatPercent(float64(received) / float64(t.total)),
	})
}

func (l *LogProgress) Finish(id uuid.UUID, status xdcc.Status, err error) {
	l.mu.Lock()
	t, ok := l.transfers[id]
	delete(l.transfers, id)
	l.mu.Unlock()
	if !ok {
		return
	}

	fields := internal.Fields{
		internal.FieldFile:  t.name,
		internal.FieldState: status.String(),
	}
	if err != nil {
		fields[internal.FieldError] = err.Error()
		internal.Warn("transfer ended", fields)
		return
	}
	internal.Info("transfer ended", fields)
}

func (t *logTransfer) stepFor(received int64) int {
	if t.total <= 0 {
		return logProgressSteps
	}
	return int(received * logProgressSteps / t.total)
}
