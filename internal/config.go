package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".xdccget"
	configFileName = "config"
	configEnv      = "XDCCGET"
)

type AppConfig struct {
	Server               string `mapstructure:"server"`
	Channel              string `mapstructure:"channel"`
	Nickname             string `mapstructure:"nickname"`
	DownloadDir          string `mapstructure:"download_dir"`
	LogLevel             string `mapstructure:"log_level"`
	ConnectTimeoutSec    int    `mapstructure:"connect_timeout_sec"`
	ControlReadPollMs    int    `mapstructure:"control_read_poll_ms"`
	DataReadPollMs       int    `mapstructure:"data_read_poll_ms"`
	WriteTimeoutSec      int    `mapstructure:"write_timeout_sec"`
	InactivityTimeoutSec int    `mapstructure:"inactivity_timeout_sec"`
	LoginTimeoutSec      int    `mapstructure:"login_timeout_sec"`
	MaxLineBytes         int    `mapstructure:"max_line_bytes"`
	QueueRetrySec        int    `mapstructure:"queue_retry_sec"`
	MaxRequestRetries    int    `mapstructure:"max_request_retries"`
	RecvBufferBytes      int    `mapstructure:"recv_buffer_bytes"`
	MetricsAddr          string `mapstructure:"metrics_addr"`
}

func LoadAppConfig(configPath string) (*AppConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, configDirName), configFileName, "toml", configEnv)
	if err != nil {
		return nil, err
	}
	setDefaults(v, home)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DownloadDir = ExpandPath(cfg.DownloadDir)

	// Create-on-first-run ONLY:
	// If Viper didn't read any file, pick a path and write it if missing.
	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = DefaultConfigPath()
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default app config: %w", err)
			}
			Debug("client config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("server", "irc.rizon.net:6667")
	v.SetDefault("channel", "nibl")
	v.SetDefault("nickname", "xdccgetter")
	v.SetDefault("download_dir", filepath.Join(home, "Downloads", "xdcc"))
	v.SetDefault("log_level", "info")
	v.SetDefault("connect_timeout_sec", 30)
	v.SetDefault("control_read_poll_ms", 1000)
	v.SetDefault("data_read_poll_ms", 500)
	v.SetDefault("write_timeout_sec", 30)
	v.SetDefault("inactivity_timeout_sec", 60)
	v.SetDefault("login_timeout_sec", 120)
	v.SetDefault("max_line_bytes", 4096)
	v.SetDefault("queue_retry_sec", 30)
	v.SetDefault("max_request_retries", 3)
	v.SetDefault("recv_buffer_bytes", 0)
	v.SetDefault("metrics_addr", "")
}

// DefaultConfigPath is where the config lives when --config is not given.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configFileName + ".toml"
	}
	return filepath.Join(home, configDirName, configFileName+".toml")
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !(configPath != "" && errors.Is(err, os.ErrNotExist)) {
			Error("config file could not be read", Fields{
				ConfigPath: configPath,
				FieldError: err.Error(),
			})
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func (cfg *AppConfig) Save(path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("server", cfg.Server)
	v.Set("channel", cfg.Channel)
	v.Set("nickname", cfg.Nickname)
	v.Set("download_dir", cfg.DownloadDir)
	v.Set("log_level", cfg.LogLevel)
	v.Set("connect_timeout_sec", cfg.ConnectTimeoutSec)
	v.Set("control_read_poll_ms", cfg.ControlReadPollMs)
	v.Set("data_read_poll_ms", cfg.DataReadPollMs)
	v.Set("write_timeout_sec", cfg.WriteTimeoutSec)
	v.Set("inactivity_timeout_sec", cfg.InactivityTimeoutSec)
	v.Set("login_timeout_sec", cfg.LoginTimeoutSec)
	v.Set("max_line_bytes", cfg.MaxLineBytes)
	v.Set("queue_retry_sec", cfg.QueueRetrySec)
	v.Set("max_request_retries", cfg.MaxRequestRetries)
	v.Set("recv_buffer_bytes", cfg.RecvBufferBytes)
	v.Set("metrics_addr", cfg.MetricsAddr)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write app config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

// ExpandPath resolves environment variables and a leading ~.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
