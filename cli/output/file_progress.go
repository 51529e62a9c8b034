package output

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jgoldverg/xdccget/pkg/xdcc"
	"github.com/pterm/pterm"
)

const (
	labelWidthPercent = 50 // the file name may take half the terminal
	labelFullTrim     = 55 // above this keep head and tail of the name
	labelTailTrim     = 35 // above this keep only the tail, below it no bars
)

// TrimLabel fits name into half of a terminal that is width columns wide.
// ok is false when the terminal is too narrow for progress bars at all.
func TrimLabel(name string, width int) (label string, ok bool) {
	if width <= 0 {
		return name, false
	}
	acceptable := width * labelWidthPercent / 100
	runes := []rune(name)
	if len(runes) <= acceptable {
		return name, true
	}
	half := acceptable / 2
	head := string(runes[:half])
	tail := string(runes[len(runes)-half:])
	switch {
	case acceptable > labelFullTrim:
		return head + "..." + tail, true
	case acceptable > labelTailTrim:
		return "..." + tail, true
	default:
		return name, false
	}
}

// FileProgressManager renders one bar per transfer inside a single pterm
// multi printer area. It is safe for concurrent use by transfer workers.
// Names too long for the terminal are reported through a LogProgress instead.
type FileProgressManager struct {
	width    int
	multi    *pterm.MultiPrinter
	bars     map[uuid.UUID]*fileBar
	fallback *LogProgress
	started  bool
	mu       sync.Mutex
}

type fileBar struct {
	bar     *pterm.ProgressbarPrinter
	label   string
	shift   uint // bytes are reported as value>>shift so totals fit in an int
	current int
}

func NewFileProgressManager(width int) *FileProgressManager {
	mp := pterm.DefaultMultiPrinter
	return &FileProgressManager{
		width:    width,
		multi:    &mp,
		bars:     make(map[uuid.UUID]*fileBar),
		fallback: NewLogProgress(),
	}
}

// Open activates the shared area for all progress bars.
func (m *FileProgressManager) Open() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if _, err := m.multi.Start(); err != nil {
		return err
	}
	m.started = true
	return nil
}

// Close tears down the multi printer area.
func (m *FileProgressManager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	multi := m.multi
	started := m.started
	m.started = false
	m.bars = make(map[uuid.UUID]*fileBar)
	m.mu.Unlock()

	if started {
		_, _ = multi.Stop()
	}
}

// NewSection provides a writer slot inside the shared area (log lines, stats).
func (m *FileProgressManager) NewSection() io.Writer {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	return m.multi.NewWriter()
}

func (m *FileProgressManager) Start(id uuid.UUID, name string, total, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bars[id]; ok {
		return
	}
	label, fits := TrimLabel(name, m.width)
	if !m.started || !fits {
		m.fallback.Start(id, name, total, offset)
		return
	}

	action := "Downloading"
	if offset > 0 {
		action = "Resuming"
	}
	shift := scaleShift(total)
	bar, err := pterm.DefaultProgressbar.
		WithWriter(m.multi.NewWriter()).
		WithTitle(fmt.Sprintf("%s %s", action, label)).
		WithTotal(max(int(total>>shift), 1)).
		WithShowElapsedTime(true).
		WithShowCount(false).
		WithRemoveWhenDone(false).
		Start()
	if err != nil {
		m.fallback.Start(id, name, total, offset)
		return
	}
	fb := &fileBar{bar: bar, label: label, shift: shift}
	fb.advance(offset)
	m.bars[id] = fb
}

func (m *FileProgressManager) Update(id uuid.UUID, received int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fb, ok := m.bars[id]; ok {
		fb.advance(received)
		return
	}
	m.fallback.Update(id, received)
}

func (m *FileProgressManager) Finish(id uuid.UUID, status xdcc.Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb, ok := m.bars[id]
	if !ok {
		m.fallback.Finish(id, status, err)
		return
	}
	delete(m.bars, id)

	title := fmt.Sprintf("%s %s", statusMark(status), fb.label)
	if err != nil {
		title = fmt.Sprintf("%s (%v)", title, err)
	}
	fb.bar.UpdateTitle(title)
	_, _ = fb.bar.Stop()
}

func (fb *fileBar) advance(received int64) {
	target := int(received >> fb.shift)
	if delta := target - fb.current; delta > 0 {
		fb.bar.Add(delta)
		fb.current = target
	}
}

func scaleShift(total int64) uint {
	var shift uint
	for total>>shift > math.MaxInt32 {
		shift += 10
	}
	return shift
}

func statusMark(s xdcc.Status) string {
	switch s {
	case xdcc.StatusCompleted:
		return "✓ Done"
	case xdcc.StatusSkipped:
		return "= Skipped"
	case xdcc.StatusInterrupted:
		return "✗ Interrupted"
	default:
		return "✗ " + strings.ToUpper(s.String()[:1]) + s.String()[1:]
	}
}
