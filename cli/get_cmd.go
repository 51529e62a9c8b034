package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jgoldverg/xdccget/cli/output"
	"github.com/jgoldverg/xdccget/internal"
	"github.com/jgoldverg/xdccget/pkg/metrics"
	"github.com/jgoldverg/xdccget/pkg/xdcc"
	"github.com/spf13/cobra"
)

// ErrTransfersFailed is returned when every session ran but some packs did
// not arrive.
var ErrTransfersFailed = errors.New("one or more transfers failed")

type GetCommandOpts struct {
	Server      string
	Channel     string
	Nickname    string
	Bot         string
	Packs       []string
	Dir         string
	PlanFile    string
	MetricsAddr string
	NoProgress  bool
	Stats       bool
}

type downloadJob struct {
	name string
	cfg  xdcc.Config
}

func GetCommand() *cobra.Command {
	var opts GetCommandOpts
	cmd := &cobra.Command{
		Use:   "get [pack...]",
		Short: "Download packs from an XDCC bot",
		Long:  "Log into the configured IRC server, join the channel and request each pack from the bot. Partial files in the download directory are resumed, complete ones are skipped.",
		Example: `  xdccget get --bot Archive 12 45
  xdccget get --bot Archive --packs 50-52 --dir ~/anime
  xdccget get --plan season.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtimeOpts := opts
			runtimeOpts.Packs = append(append([]string(nil), opts.Packs...), args...)
			return runGetCommand(cmd, &runtimeOpts)
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "", "IRC server as host:port (defaults to the config value)")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "Channel to join, with or without #")
	cmd.Flags().StringVar(&opts.Nickname, "nick", "", "Nickname to register with")
	cmd.Flags().StringVar(&opts.Bot, "bot", "", "XDCC bot to request packs from")
	cmd.Flags().StringSliceVar(&opts.Packs, "packs", nil, "Pack numbers, e.g. 12,45,50-52")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "Download directory")
	cmd.Flags().StringVar(&opts.PlanFile, "plan", "", "Plan file (YAML/JSON) listing several bots and packs")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while downloading")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "Log progress instead of drawing bars")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "Show live transfer statistics")
	return cmd
}

func runGetCommand(cmd *cobra.Command, opts *GetCommandOpts) error {
	app := GetAppConfig(cmd)
	if app == nil {
		return fmt.Errorf("app config unavailable")
	}
	jobs, err := buildJobs(app, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewTransferCollector("")
	metricsAddr := strings.TrimSpace(opts.MetricsAddr)
	if metricsAddr == "" {
		metricsAddr = strings.TrimSpace(app.MetricsAddr)
	}
	if metricsAddr != "" {
		srv, err := serveMetrics(metricsAddr, collector)
		if err != nil {
			return err
		}
		defer srv.shutdown()
	}

	progress, progressArea, closeProgress := newProgressSink(opts.NoProgress)
	var display *output.MetricsDisplay
	if opts.Stats {
		display = output.NewMetricsDisplay("", collector)
		if progressArea != nil {
			display.WithWriter(progressArea.NewSection())
		}
		if err := display.Start(ctx); err != nil {
			internal.Warn("cannot start statistics display", internal.Fields{internal.FieldError: err.Error()})
			display = nil
		}
	}

	reports := make([]*xdcc.Report, 0, len(jobs))
	var runErr error
	for _, job := range jobs {
		if ctx.Err() != nil {
			runErr = xdcc.ErrUserCancelled
			break
		}
		report, err := runJob(ctx, job, progress, collector)
		if report != nil {
			reports = append(reports, report)
		}
		if errors.Is(err, xdcc.ErrUserCancelled) {
			runErr = err
			break
		}
		if err != nil {
			internal.Error("download job failed", internal.Fields{
				internal.FieldBot:   job.cfg.Bot,
				internal.FieldMsg:   job.name,
				internal.FieldError: err.Error(),
			})
			if runErr == nil {
				runErr = fmt.Errorf("%s: %w", job.name, err)
			}
		}
	}

	if display != nil {
		display.Stop()
	}
	closeProgress()

	failed := 0
	out := cmd.OutOrStdout()
	for _, report := range reports {
		if err := output.PrintReport(out, report); err != nil {
			return err
		}
		failed += report.Failed()
	}

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrTransfersFailed, failed, countRequested(reports))
	}
	output.NewPrinter(out).Success("all packs accounted for", map[string]any{"jobs": len(jobs)})
	return nil
}

func runJob(ctx context.Context, job downloadJob, progress xdcc.ProgressSink, collector *metrics.TransferCollector) (*xdcc.Report, error) {
	if err := os.MkdirAll(job.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	session, err := xdcc.NewSession(job.cfg,
		xdcc.WithProgress(progress),
		xdcc.WithMetrics(collector),
	)
	if err != nil {
		return nil, err
	}
	internal.Info("starting download job", internal.Fields{
		internal.FieldServer: job.cfg.Server,
		internal.FieldBot:    job.cfg.Bot,
		internal.FieldPack:   fmt.Sprint(job.cfg.Packages),
	})
	return session.Run(ctx)
}

// buildJobs layers the app config, then the command flags, then the plan file
// document and job entries, most specific last.
func buildJobs(app *internal.AppConfig, opts *GetCommandOpts) ([]downloadJob, error) {
	base := sessionConfigFrom(app)
	overlay(&base, opts.Server, opts.Channel, opts.Nickname, opts.Dir)

	var jobs []downloadJob
	if opts.PlanFile != "" {
		doc, err := loadPlanDocument(opts.PlanFile)
		if err != nil {
			return nil, err
		}
		planBase := base
		overlay(&planBase, doc.Server, doc.Channel, doc.Nickname, doc.Dir)
		for i, pj := range doc.Jobs {
			cfg := planBase
			overlay(&cfg, pj.Server, pj.Channel, pj.Nickname, pj.Dir)
			cfg.Bot = strings.TrimSpace(pj.Bot)
			packs, err := ParsePackList(pj.Packs)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pj.label(i), err)
			}
			cfg.Packages = packs
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", pj.label(i), err)
			}
			jobs = append(jobs, downloadJob{name: pj.label(i), cfg: cfg})
		}
	}

	if strings.TrimSpace(opts.Bot) != "" || len(opts.Packs) > 0 || len(jobs) == 0 {
		cfg := base
		cfg.Bot = strings.TrimSpace(opts.Bot)
		packs, err := ParsePackList(opts.Packs)
		if err != nil {
			return nil, err
		}
		cfg.Packages = packs
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		jobs = append(jobs, downloadJob{name: cfg.Bot, cfg: cfg})
	}
	return jobs, nil
}

func overlay(cfg *xdcc.Config, server, channel, nick, dir string) {
	if v := strings.TrimSpace(server); v != "" {
		cfg.Server = v
	}
	if v := strings.TrimSpace(channel); v != "" {
		cfg.Channel = v
	}
	if v := strings.TrimSpace(nick); v != "" {
		cfg.Nickname = v
	}
	if v := strings.TrimSpace(dir); v != "" {
		cfg.Dir = internal.ExpandPath(v)
	}
}

func sessionConfigFrom(app *internal.AppConfig) xdcc.Config {
	return xdcc.Config{
		Server:            app.Server,
		Channel:           app.Channel,
		Nickname:          app.Nickname,
		Dir:               app.DownloadDir,
		ConnectTimeout:    time.Duration(app.ConnectTimeoutSec) * time.Second,
		ControlPoll:       time.Duration(app.ControlReadPollMs) * time.Millisecond,
		DataPoll:          time.Duration(app.DataReadPollMs) * time.Millisecond,
		WriteTimeout:      time.Duration(app.WriteTimeoutSec) * time.Second,
		InactivityTimeout: time.Duration(app.InactivityTimeoutSec) * time.Second,
		LoginTimeout:      time.Duration(app.LoginTimeoutSec) * time.Second,
		QueueRetry:        time.Duration(app.QueueRetrySec) * time.Second,
		MaxLineBytes:      app.MaxLineBytes,
		MaxRequestRetries: app.MaxRequestRetries,
		RecvBufferBytes:   app.RecvBufferBytes,
	}
}

// newProgressSink draws bars on a terminal and logs otherwise. The returned
// manager is nil when bars are not in use.
func newProgressSink(disabled bool) (xdcc.ProgressSink, *output.FileProgressManager, func()) {
	width, tty := output.TerminalWidth()
	if disabled || !tty {
		return output.NewLogProgress(), nil, func() {}
	}
	m := output.NewFileProgressManager(width)
	if err := m.Open(); err != nil {
		internal.Warn("progress bars unavailable", internal.Fields{internal.FieldError: err.Error()})
		return output.NewLogProgress(), nil, func() {}
	}
	internal.SetLogOutput(m.NewSection())
	return m, m, func() {
		m.Close()
		internal.SetLogOutput(os.Stdout)
	}
}

func countRequested(reports []*xdcc.Report) int {
	n := 0
	for _, r := range reports {
		n += r.Requested
	}
	return n
}
