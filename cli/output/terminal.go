package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jgoldverg/xdccget/pkg/xdcc"
	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// TerminalWidth returns the column count of stdout, or false when stdout is
// not a terminal.
func TerminalWidth() (int, bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, false
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 0, false
	}
	return w, true
}

func humanizeSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatMbps(mbps float64) string {
	if mbps <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f Mb/s", mbps)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func formatPercent(ratio float64) string {
	if ratio <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// ReportTable builds the rows of the end-of-session summary.
func ReportTable(report *xdcc.Report) pterm.TableData {
	rows := pterm.TableData{{"File", "Status", "Size", "Received", "Took", "Error"}}
	if report == nil {
		return rows
	}
	for _, t := range report.Transfers {
		took := "--"
		if !t.StartedAt.IsZero() && !t.CompletedAt.IsZero() {
			took = formatDuration(t.CompletedAt.Sub(t.StartedAt).Truncate(time.Millisecond))
		}
		rows = append(rows, []string{
			t.Filename,
			t.Status.String(),
			humanizeSize(uint64(max(t.Size, 0))),
			humanizeSize(uint64(max(t.Received, 0))),
			took,
			t.Error,
		})
	}
	return rows
}

// PrintReport renders the summary table to w.
func PrintReport(w io.Writer, report *xdcc.Report) error {
	if report == nil || len(report.Transfers) == 0 {
		_, err := fmt.Fprintln(w, "no transfers recorded")
		return err
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(ReportTable(report)).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n%d requested, %d completed, %d skipped, %d failed, %d interrupted\n",
		table,
		report.Requested,
		report.Count(xdcc.StatusCompleted),
		report.Count(xdcc.StatusSkipped),
		report.Failed(),
		report.Count(xdcc.StatusInterrupted))
	return err
}
