package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/tasklive/pkg/server"
	"github.com/astromechza/tasklive/pkg/store"
)

func (a *app) serveCmd() *cobra.Command {
	var addr, database string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("database") {
				a.cfg.Server.Database = database
			}
			return a.serve()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "the address to listen on, overrides server.addr")
	cmd.Flags().StringVar(&database, "database", "", "the sqlite file, overrides server.database")
	return cmd
}

func (a *app) serve() error {
	slog.Info("Opening database", "path", a.cfg.Server.Database)
	st, err := store.Open(a.cfg.Server.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	queue := a.cfg.Notify.Queue(a.logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := queue.Close(ctx); err != nil {
			slog.Warn("abandoned pending notifications", "err", err)
		}
	}()

	srv := server.New(st, server.Options{Logger: a.logger, Keepalive: a.cfg.Server.Keepalive, Notifier: queue})
	httpServer := &http.Server{Addr: a.cfg.Server.Addr, Handler: srv}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", a.cfg.Server.Addr)
		listenErr <- httpServer.ListenAndServe()
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exit)

	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case err := <-listenErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	}

	// open streams would otherwise hold Shutdown until the timeout
	srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	return nil
}
