package xdcc

import (
	"fmt"
	"strings"
	"time"

	"github.com/jgoldverg/xdccget/pkg/ircwire"
)

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultControlPoll       = time.Second
	defaultDataPoll          = 500 * time.Millisecond
	defaultWriteTimeout      = 30 * time.Second
	defaultInactivityTimeout = 60 * time.Second
	defaultLoginTimeout      = 120 * time.Second
	defaultQueueRetry        = 30 * time.Second
	defaultMaxRequestRetries = 3
)

// Config describes one session: where to log in, which bot to ask and which
// packs to fetch. len(Packages) is the number of outcomes the session waits for.
type Config struct {
	Server   string
	Channel  string
	Nickname string
	Bot      string
	Packages []int
	Dir      string

	ConnectTimeout    time.Duration
	ControlPoll       time.Duration
	DataPoll          time.Duration
	WriteTimeout      time.Duration
	InactivityTimeout time.Duration
	LoginTimeout      time.Duration
	QueueRetry        time.Duration
	MaxLineBytes      int
	MaxRequestRetries int
	RecvBufferBytes   int
}

func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Server) == "":
		return fmt.Errorf("%w: server address is required", ErrInvalidConfig)
	case strings.TrimSpace(strings.TrimPrefix(c.Channel, "#")) == "":
		return fmt.Errorf("%w: channel is required", ErrInvalidConfig)
	case strings.TrimSpace(c.Nickname) == "":
		return fmt.Errorf("%w: nickname is required", ErrInvalidConfig)
	case strings.TrimSpace(c.Bot) == "":
		return fmt.Errorf("%w: bot is required", ErrInvalidConfig)
	case len(c.Packages) == 0:
		return fmt.Errorf("%w: at least one package number is required", ErrInvalidConfig)
	}
	for _, p := range c.Packages {
		if p <= 0 {
			return fmt.Errorf("%w: package number %d must be positive", ErrInvalidConfig, p)
		}
	}
	return nil
}

// withDefaults fills every unset tunable.
func (c Config) withDefaults() Config {
	c.Channel = strings.TrimPrefix(strings.TrimSpace(c.Channel), "#")
	if c.Dir == "" {
		c.Dir = "."
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ControlPoll <= 0 {
		c.ControlPoll = defaultControlPoll
	}
	if c.DataPoll <= 0 {
		c.DataPoll = defaultDataPoll
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = defaultInactivityTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = defaultLoginTimeout
	}
	if c.QueueRetry <= 0 {
		c.QueueRetry = defaultQueueRetry
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = ircwire.DefaultMaxLineBytes
	}
	if c.MaxRequestRetries <= 0 {
		c.MaxRequestRetries = defaultMaxRequestRetries
	}
	c.Packages = append([]int(nil), c.Packages...)
	return c
}
