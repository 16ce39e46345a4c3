package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/astromechza/tasklive/pkg/live"
	"github.com/astromechza/tasklive/pkg/output"
	"github.com/astromechza/tasklive/pkg/viz"
)

func (a *app) watchCmd() *cobra.Command {
	var graph bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the task list as it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			session, err := live.Start(cmd.Context(), live.Options{
				Backend:  client,
				Dialer:   a.dialer(client),
				Renderer: output.NewTerminalRenderer(cmd.OutOrStdout()),
				Logger:   a.logger,
				Backoff:  a.cfg.Reconnect.Backoff(),
			})
			if err != nil {
				return err
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(exit)
			select {
			case sig := <-exit:
				slog.Info("Signal caught", "sig", sig)
			case <-cmd.Context().Done():
			}
			session.Close()

			if graph {
				if svgPath, err := viz.RenderToTemp(session.Transitions()); err != nil {
					slog.Error("failed to render", "err", err)
				} else {
					slog.Info("rendered", "path", "file://"+svgPath)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&graph, "graph", false, "render the connection history to an svg file on exit")
	return cmd
}
