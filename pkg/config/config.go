// Package config loads tasklive settings from YAML files and TASKLIVE_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/astromechza/tasklive/pkg/api"
	"github.com/astromechza/tasklive/pkg/notify"
	"github.com/astromechza/tasklive/pkg/server"
	"github.com/astromechza/tasklive/pkg/stream"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Client    ClientConfig    `yaml:"client" mapstructure:"client"`
	Reconnect ReconnectConfig `yaml:"reconnect" mapstructure:"reconnect"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Addr      string        `yaml:"addr" mapstructure:"addr"`
	Database  string        `yaml:"database" mapstructure:"database"`
	Keepalive time.Duration `yaml:"keepalive" mapstructure:"keepalive"`
}

type ClientConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	Transport      string        `yaml:"transport" mapstructure:"transport"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// ReconnectConfig shapes the delay between push reconnect attempts.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter       float64       `yaml:"jitter" mapstructure:"jitter"`
}

// NotifyConfig controls the background notifications sent by serve. Email is
// only sent when smtp.host is set.
type NotifyConfig struct {
	MaxAttempts int        `yaml:"max_attempts" mapstructure:"max_attempts"`
	QueueSize   int        `yaml:"queue_size" mapstructure:"queue_size"`
	SMTP        SMTPConfig `yaml:"smtp" mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      "localhost:8080",
			Database:  "tasklive.sqlite3",
			Keepalive: server.DefaultKeepalive,
		},
		Client: ClientConfig{
			BaseURL:        "http://localhost:8080",
			Transport:      TransportSSE,
			RequestTimeout: api.DefaultTimeout,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: stream.DefaultInitialDelay,
			MaxDelay:     stream.DefaultMaxDelay,
			Multiplier:   stream.DefaultMultiplier,
			Jitter:       stream.DefaultJitter,
		},
		Notify: NotifyConfig{
			MaxAttempts: notify.DefaultMaxAttempts,
			QueueSize:   notify.DefaultQueueSize,
			SMTP:        SMTPConfig{Port: 587},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.Database == "" {
		return fmt.Errorf("server.database is required")
	}
	if c.Server.Keepalive <= 0 {
		return fmt.Errorf("server.keepalive must be positive")
	}
	if u, err := url.Parse(c.Client.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client.base_url %q must be an absolute url", c.Client.BaseURL)
	}
	switch c.Client.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("client.transport must be %q or %q, got %q", TransportSSE, TransportWebSocket, c.Client.Transport)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.request_timeout must be positive")
	}
	if err := c.Reconnect.Validate(); err != nil {
		return err
	}
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (r ReconnectConfig) Validate() error {
	if r.InitialDelay <= 0 {
		return fmt.Errorf("reconnect.initial_delay must be positive")
	}
	if r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("reconnect.max_delay must not be less than reconnect.initial_delay")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be between 0 and 1")
	}
	return nil
}

// Backoff builds the reconnect policy for a push channel.
func (r ReconnectConfig) Backoff() backoff.BackOff {
	return stream.NewBackoff(r.InitialDelay, r.MaxDelay, r.Multiplier, r.Jitter)
}

func (n NotifyConfig) Validate() error {
	if n.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts must be at least 1")
	}
	if n.QueueSize < 1 {
		return fmt.Errorf("notify.queue_size must be at least 1")
	}
	if n.SMTP.Host == "" {
		return nil
	}
	if n.SMTP.Port < 1 || n.SMTP.Port > 65535 {
		return fmt.Errorf("notify.smtp.port %d is out of range", n.SMTP.Port)
	}
	if n.SMTP.From == "" {
		return fmt.Errorf("notify.smtp.from is required when notify.smtp.host is set")
	}
	return nil
}

// Queue starts the notification worker with a log sender and, when configured, an email sender.
func (n NotifyConfig) Queue(logger *slog.Logger) *notify.Queue {
	senders := []notify.Sender{&notify.LogSender{Logger: logger}}
	if n.SMTP.Host != "" {
		senders = append(senders, &notify.SMTPSender{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			From:     n.SMTP.From,
		})
	}
	return notify.NewQueue(notify.Options{Logger: logger, QueueSize: n.QueueSize, MaxAttempts: n.MaxAttempts}, senders...)
}
