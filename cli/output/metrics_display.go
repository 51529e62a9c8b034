package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jgoldverg/xdccget/pkg/metrics"
	"github.com/pterm/pterm"
)

const statsRefresh = 500 * time.Millisecond

// MetricsDisplay redraws the collector's counters while downloads run and
// prints them once more on Stop.
type MetricsDisplay struct {
	title     string
	collector *metrics.TransferCollector
	writer    io.Writer

	stopOnce sync.Once
	quit     chan struct{}
	finished chan struct{}
}

func NewMetricsDisplay(title string, collector *metrics.TransferCollector) *MetricsDisplay {
	if title == "" {
		title = "XDCC Transfers"
	}
	return &MetricsDisplay{title: title, collector: collector}
}

// WithWriter draws into w, usually a section of the progress area, instead of
// a dedicated pterm area.
func (d *MetricsDisplay) WithWriter(w io.Writer) *MetricsDisplay {
	d.writer = w
	return d
}

// Start redraws the table until ctx ends or Stop is called.
func (d *MetricsDisplay) Start(ctx context.Context) error {
	if d.collector == nil || d.quit != nil {
		return nil
	}
	draw := func(content string) { _, _ = fmt.Fprintf(d.writer, "%s\r", content) }
	var area *pterm.AreaPrinter
	if d.writer == nil {
		var err error
		if area, err = pterm.DefaultArea.WithRemoveWhenDone(true).Start(); err != nil {
			return err
		}
		draw = func(content string) { area.Update(content) }
	}

	d.quit = make(chan struct{})
	d.finished = make(chan struct{})
	go func() {
		defer close(d.finished)
		if area != nil {
			defer func() { _ = area.Stop() }()
		}
		tick := time.NewTicker(statsRefresh)
		defer tick.Stop()
		for {
			draw(d.board(d.collector.Snapshot()))
			select {
			case <-ctx.Done():
				return
			case <-d.quit:
				return
			case <-tick.C:
			}
		}
	}()
	return nil
}

// Stop ends the live board and prints the final counters when anything was
// transferred.
func (d *MetricsDisplay) Stop() {
	if d == nil || d.collector == nil {
		return
	}
	d.stopOnce.Do(func() {
		if d.quit != nil {
			close(d.quit)
			<-d.finished
		}
		snap := d.collector.Snapshot()
		if snap.BytesReceived == 0 && snap.ResumeRequests == 0 {
			return
		}
		out := d.writer
		if out == nil {
			out = os.Stdout
		}
		_, _ = fmt.Fprintf(out, "%s\n%s\n", d.tableString(snap), statsFooter(snap))
	})
}

func (d *MetricsDisplay) board(snap metrics.TransferSnapshot) string {
	header := pterm.DefaultSection.Sprint(d.title)
	return fmt.Sprintf("%s\n%s\n%s", header, d.tableString(snap), statsFooter(snap))
}

func (d *MetricsDisplay) tableString(snap metrics.TransferSnapshot) string {
	data := pterm.TableData{
		{"Metric", "Value"},
		{"Network Throughput", formatMbps(snap.ThroughputMbps)},
		{"Disk Write", formatMbps(snap.DiskWriteBps * 8 / 1e6)},
		{"Bytes Received", humanizeSize(snap.BytesReceived)},
		{"Disk Write Bytes", humanizeSize(snap.DiskWriteBytes)},
		{"Resume Requests", fmt.Sprint(snap.ResumeRequests)},
		{"Active Transfers", fmt.Sprint(snap.ActiveWorkers)},
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return ""
	}
	return table
}

func statsFooter(snap metrics.TransferSnapshot) string {
	return fmt.Sprintf("Elapsed: %s    Active transfers: %d", formatDuration(snap.Elapsed), snap.ActiveWorkers)
}
