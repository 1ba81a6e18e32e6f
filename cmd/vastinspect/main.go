// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luxfi/vastinspect/pkg/config"
	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/metric"
	"github.com/luxfi/vastinspect/pkg/transport"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// app is the state shared by every subcommand
type app struct {
	v       *viper.Viper
	cfg     config.Config
	log     log.Logger
	metrics *metric.Metrics
	env     macro.Context
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "vastinspect",
		Short:         "Inspect VAST ad documents and audit their tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Duration("firing-timeout", 0, "Per-URL tracking dispatch timeout")
	root.PersistentFlags().Int("firing-concurrency", 0, "Concurrent tracking dispatches")
	root.PersistentFlags().String("page-url", "", "Page URL reported to macros and creatives")
	root.PersistentFlags().String("user-agent", "", "User agent reported to macros and creatives")
	root.PersistentFlags().String("bid-request", "", "OpenRTB bid request JSON file seeding environment macros")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = a.v.BindPFlag("firing.timeout", root.PersistentFlags().Lookup("firing-timeout"))
	_ = a.v.BindPFlag("firing.concurrency", root.PersistentFlags().Lookup("firing-concurrency"))
	_ = a.v.BindPFlag("player.page_url", root.PersistentFlags().Lookup("page-url"))
	_ = a.v.BindPFlag("player.user_agent", root.PersistentFlags().Lookup("user-agent"))
	_ = a.v.BindPFlag("player.bid_request", root.PersistentFlags().Lookup("bid-request"))

	root.AddCommand(newExtractCommand(a))
	root.AddCommand(newSimulateCommand(a))
	root.AddCommand(newServeCommand(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if cfg.Server.Release {
		a.log = log.New(cfg.Log.Level)
	} else {
		a.log = log.NewDevelopment(cfg.Log.Level)
	}
	a.metrics = metric.NewMetrics()
	a.env, err = a.loadEnvironment()
	return err
}

func (a *app) transport() (*transport.Transport, error) {
	return transport.New(transport.Config{
		CacheSize: a.cfg.Transport.CacheSize,
		Timeout:   a.cfg.Transport.Timeout,
		UserAgent: a.cfg.Firing.UserAgent,
		Logger:    a.log,
		Metrics:   a.metrics,
	})
}

// newLedger builds a ledger from config. A dry run never touches the network.
func (a *app) newLedger(dryRun bool) *ledger.Ledger {
	var d ledger.Dispatcher = ledger.NewHTTPDispatcher(a.cfg.Firing.Timeout, a.cfg.Firing.UserAgent)
	if dryRun {
		d = ledger.NopDispatcher{}
	}
	return ledger.New(
		ledger.WithDispatcher(d),
		ledger.WithTimeout(a.cfg.Firing.Timeout),
		ledger.WithConcurrency(a.cfg.Firing.Concurrency),
		ledger.WithLogger(a.log),
		ledger.WithMetrics(a.metrics),
	)
}

func (a *app) environment() macro.Context {
	return a.env
}

// loadEnvironment seeds macros from the bid request file, if any. Page URL
// and user agent set in config win; the player size falls back to config.
func (a *app) loadEnvironment() (macro.Context, error) {
	var env macro.Context
	if path := a.cfg.Player.BidRequest; path != "" {
		req, err := readBidRequest(path)
		if err != nil {
			return env, err
		}
		env = macro.ContextFromBidRequest(req)
	}
	if a.cfg.Player.PageURL != "" {
		env.PageURL = a.cfg.Player.PageURL
	}
	if a.cfg.Player.UserAgent != "" {
		env.UserAgent = a.cfg.Player.UserAgent
	}
	if env.PlayerWidth <= 0 || env.PlayerHeight <= 0 {
		env.PlayerWidth, env.PlayerHeight = a.cfg.Player.Width, a.cfg.Player.Height
	}
	return env, nil
}

func readBidRequest(path string) (*openrtb2.BidRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bid request: %w", err)
	}
	var req openrtb2.BidRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode bid request %s: %w", path, err)
	}
	return &req, nil
}
