package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "TASKLIVE"

// Load reads the configuration. An explicit path must exist; otherwise the
// global file and then ./tasklive.yaml are merged over the defaults when present.
// Environment variables such as TASKLIVE_CLIENT_TRANSPORT win over both.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			v.SetConfigFile(p)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", p, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SearchPaths lists the files Load looks at when no path is given, lowest precedence first.
func SearchPaths() []string {
	var out []string
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, GlobalConfigPath(home))
	}
	if cwd, err := os.Getwd(); err == nil {
		out = append(out, filepath.Join(cwd, "tasklive.yaml"))
	}
	return out
}

func GlobalConfigPath(home string) string {
	return filepath.Join(home, ".config", "tasklive", "config.yaml")
}

// every key needs a default for AutomaticEnv to see it during Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.database", cfg.Server.Database)
	v.SetDefault("server.keepalive", cfg.Server.Keepalive)
	v.SetDefault("client.base_url", cfg.Client.BaseURL)
	v.SetDefault("client.transport", cfg.Client.Transport)
	v.SetDefault("client.request_timeout", cfg.Client.RequestTimeout)
	v.SetDefault("reconnect.initial_delay", cfg.Reconnect.InitialDelay)
	v.SetDefault("reconnect.max_delay", cfg.Reconnect.MaxDelay)
	v.SetDefault("reconnect.multiplier", cfg.Reconnect.Multiplier)
	v.SetDefault("reconnect.jitter", cfg.Reconnect.Jitter)
	v.SetDefault("notify.max_attempts", cfg.Notify.MaxAttempts)
	v.SetDefault("notify.queue_size", cfg.Notify.QueueSize)
	v.SetDefault("notify.smtp.host", cfg.Notify.SMTP.Host)
	v.SetDefault("notify.smtp.port", cfg.Notify.SMTP.Port)
	v.SetDefault("notify.smtp.username", cfg.Notify.SMTP.Username)
	v.SetDefault("notify.smtp.password", cfg.Notify.SMTP.Password)
	v.SetDefault("notify.smtp.from", cfg.Notify.SMTP.From)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
