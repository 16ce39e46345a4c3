package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/astromechza/tasklive/pkg/api"
	"github.com/astromechza/tasklive/pkg/config"
	"github.com/astromechza/tasklive/pkg/stream"
)

type app struct {
	configPath string
	baseURL    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tasklive",
		Short: "A task list that stays in sync with its server",
		Long: `tasklive serves a task list over REST with a live push stream, and follows
it from the terminal, reconnecting and catching up whenever the stream drops.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a config file")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "task server url, overrides client.base_url")

	root.AddCommand(a.serveCmd())
	root.AddCommand(a.watchCmd())
	root.AddCommand(a.listCmd())
	root.AddCommand(a.addCmd())
	root.AddCommand(a.doneCmd())
	root.AddCommand(a.editCmd())
	root.AddCommand(a.rmCmd())
	root.AddCommand(a.configCmd())
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Client.BaseURL = a.baseURL
	}
	logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) client() (*api.Client, error) {
	c, err := api.New(a.cfg.Client.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	c.Timeout = a.cfg.Client.RequestTimeout
	return c, nil
}

func (a *app) dialer(c *api.Client) stream.Dialer {
	if a.cfg.Client.Transport == config.TransportWebSocket {
		return &stream.WebSocketDialer{URL: c.WebSocketURL()}
	}
	return &stream.SSEDialer{URL: c.StreamURL()}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}
