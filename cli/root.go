package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jgoldverg/xdccget/internal"
	"github.com/spf13/cobra"
)

type ctxKey string

const appCtxKey ctxKey = "appData"
const appConfigPathKey ctxKey = "appConfigPath"

func NewRootCommand() *cobra.Command {
	var appConfigPath string
	var logLevelFlag string

	rootCmd := &cobra.Command{
		Use:           "xdccget",
		Short:         "xdccget downloads packs from XDCC bots over IRC",
		Long:          `xdccget logs into an IRC server, asks an XDCC bot for one or more packs and receives them over DCC, resuming partial files where the bot allows it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadAppConfig(appConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load app config: %w", err)
			}

			if strings.TrimSpace(logLevelFlag) != "" {
				cfg.LogLevel = logLevelFlag
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in app config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			cfgPath := appConfigPath
			if strings.TrimSpace(cfgPath) == "" {
				cfgPath = internal.DefaultConfigPath()
			}
			internal.Debug("using config file", internal.Fields{
				internal.ConfigPath: cfgPath,
			})

			ctx := context.WithValue(cmd.Context(), appCtxKey, cfg)
			ctx = context.WithValue(ctx, appConfigPathKey, cfgPath)
			cmd.SetContext(ctx)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&appConfigPath, "config", "", "Path to app config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(GetCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

// GetAppConfig returns the config loaded by the root command.
func GetAppConfig(cmd *cobra.Command) *internal.AppConfig {
	if v := cmd.Context().Value(appCtxKey); v != nil {
		if data, ok := v.(*internal.AppConfig); ok {
			return data
		}
	}
	return nil
}

func getAppConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(appConfigPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}
