// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/luxfi/vastinspect/pkg/api"
	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/log"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection API with player and creative sockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "Listen address")
	cmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins")
	cmd.Flags().Bool("release", false, "Run gin in release mode")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("server.cors_origins", cmd.Flags().Lookup("cors-origins"))
	_ = a.v.BindPFlag("server.release", cmd.Flags().Lookup("release"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	tr, err := a.transport()
	if err != nil {
		return err
	}
	server := api.NewServer(api.Config{
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Release:     a.cfg.Server.Release,
		Environment: a.environment(),
		SettleDelay: a.cfg.Session.SettleDelay,
		NewLedger:   func() *ledger.Ledger { return a.newLedger(false) },
		Tick:        a.cfg.Simulate.Tick,
		Speed:       a.cfg.Simulate.Speed,
	}, tr, a.log, a.metrics)
	defer server.Close()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	a.log.Info("inspection API started", log.String("addr", srv.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info("server exiting")
	return nil
}
