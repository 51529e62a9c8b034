package cli

import (
	"fmt"
	"strings"

	"github.com/jgoldverg/xdccget/internal"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update xdccget configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(configSetCommand())
	cmd.AddCommand(configShowCommand())
	return cmd
}

type configSetOpts struct {
	server            string
	channel           string
	nickname          string
	downloadDir       string
	logLevel          string
	metricsAddr       string
	inactivitySec     int
	loginSec          int
	queueRetrySec     int
	maxRequestRetries int
	recvBufferBytes   int
}

func configSetCommand() *cobra.Command {
	var opts configSetOpts
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the saved defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateAppConfig(cmd, cmd.Flags(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "Default IRC server (host:port)")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "Default channel")
	cmd.Flags().StringVar(&opts.nickname, "nick", "", "Default nickname")
	cmd.Flags().StringVar(&opts.downloadDir, "download-dir", "", "Default download directory")
	cmd.Flags().StringVar(&opts.logLevel, "level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Always serve Prometheus metrics on this address")
	cmd.Flags().IntVar(&opts.inactivitySec, "inactivity-timeout", 0, "Seconds without server traffic before giving up")
	cmd.Flags().IntVar(&opts.loginSec, "login-timeout", 0, "Seconds to wait for the welcome sequence")
	cmd.Flags().IntVar(&opts.queueRetrySec, "queue-retry", 0, "Seconds to wait before re-requesting after a full bot queue")
	cmd.Flags().IntVar(&opts.maxRequestRetries, "max-request-retries", 0, "Re-requests allowed per pack after duplicate notices")
	cmd.Flags().IntVar(&opts.recvBufferBytes, "recv-buffer", 0, "Data socket receive buffer in bytes (0 keeps the OS default)")
	return cmd
}

func updateAppConfig(cmd *cobra.Command, flagSet *pflag.FlagSet, opts configSetOpts) error {
	if flagSet.NFlag() == 0 {
		return fmt.Errorf("config set: provide at least one setting to change")
	}
	cfg := GetAppConfig(cmd)
	if cfg == nil {
		return fmt.Errorf("app config unavailable")
	}

	if flagSet.Changed("server") {
		if strings.TrimSpace(opts.server) == "" {
			return fmt.Errorf("server must not be empty")
		}
		cfg.Server = strings.TrimSpace(opts.server)
	}
	if flagSet.Changed("channel") {
		cfg.Channel = strings.TrimPrefix(strings.TrimSpace(opts.channel), "#")
	}
	if flagSet.Changed("nick") {
		cfg.Nickname = strings.TrimSpace(opts.nickname)
	}
	if flagSet.Changed("download-dir") {
		cfg.DownloadDir = internal.ExpandPath(strings.TrimSpace(opts.downloadDir))
	}
	if flagSet.Changed("level") {
		if err := internal.ConfigureLogger(opts.logLevel); err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(opts.logLevel))
	}
	if flagSet.Changed("metrics-addr") {
		cfg.MetricsAddr = strings.TrimSpace(opts.metricsAddr)
	}
	positive := []struct {
		flag   string
		value  int
		target *int
	}{
		{"inactivity-timeout", opts.inactivitySec, &cfg.InactivityTimeoutSec},
		{"login-timeout", opts.loginSec, &cfg.LoginTimeoutSec},
		{"queue-retry", opts.queueRetrySec, &cfg.QueueRetrySec},
		{"max-request-retries", opts.maxRequestRetries, &cfg.MaxRequestRetries},
	}
	for _, p := range positive {
		if !flagSet.Changed(p.flag) {
			continue
		}
		if p.value <= 0 {
			return fmt.Errorf("--%s must be > 0", p.flag)
		}
		*p.target = p.value
	}
	if flagSet.Changed("recv-buffer") {
		if opts.recvBufferBytes < 0 {
			return fmt.Errorf("--recv-buffer must be >= 0")
		}
		cfg.RecvBufferBytes = opts.recvBufferBytes
	}

	path := getAppConfigPath(cmd)
	saved, err := cfg.Save(path)
	if err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	internal.Info("configuration updated", internal.Fields{
		internal.ConfigPath: saved,
	})
	return nil
}

func configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetAppConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("app config unavailable")
			}
			data := pterm.TableData{
				{"Setting", "Value"},
				{"config file", getAppConfigPath(cmd)},
				{"server", cfg.Server},
				{"channel", "#" + cfg.Channel},
				{"nickname", cfg.Nickname},
				{"download_dir", cfg.DownloadDir},
				{"log_level", cfg.LogLevel},
				{"inactivity_timeout_sec", fmt.Sprint(cfg.InactivityTimeoutSec)},
				{"login_timeout_sec", fmt.Sprint(cfg.LoginTimeoutSec)},
				{"queue_retry_sec", fmt.Sprint(cfg.QueueRetrySec)},
				{"max_request_retries", fmt.Sprint(cfg.MaxRequestRetries)},
				{"recv_buffer_bytes", fmt.Sprint(cfg.RecvBufferBytes)},
				{"metrics_addr", cfg.MetricsAddr},
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), table)
			return err
		},
	}
}
