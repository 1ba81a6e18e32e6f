// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/luxfi/vastinspect/pkg/inspector"
	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/lifecycle"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/player"
	"github.com/luxfi/vastinspect/pkg/vast"
)

type simulateOptions struct {
	dryRun    bool
	asJSON    bool
	skipAfter time.Duration
	muteAt    time.Duration
	clickAt   time.Duration
}

func newSimulateCommand(a *app) *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate <url|file|->",
		Short: "Play a document against a simulated player and audit every firing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.simulate(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Record firings without network requests")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the final run snapshot as JSON")
	cmd.Flags().DurationVar(&opts.skipAfter, "skip-after", 0, "Skip the ad once this much media time has played")
	cmd.Flags().DurationVar(&opts.muteAt, "mute-at", 0, "Mute at this media time")
	cmd.Flags().DurationVar(&opts.clickAt, "click-at", 0, "Click the ad at this media time")
	cmd.Flags().Duration("tick", 0, "Telemetry interval")
	cmd.Flags().Float64("speed", 0, "Playback speed multiplier")
	_ = a.v.BindPFlag("simulate.tick", cmd.Flags().Lookup("tick"))
	_ = a.v.BindPFlag("simulate.speed", cmd.Flags().Lookup("speed"))
	return cmd
}

func (a *app) simulate(cmd *cobra.Command, src string, opts simulateOptions) error {
	raw, err := a.readSource(cmd, src)
	if err != nil {
		return err
	}
	doc, cat, err := vast.ParseAndExtract(raw)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if unknown := cat.UnknownMacros(); len(unknown) > 0 && !opts.asJSON {
		fmt.Fprintf(out, "%s %v\n", yellow("unknown macros left as is:"), unknown)
	}

	surface := player.NewSimulated(
		player.WithTick(a.cfg.Simulate.Tick),
		player.WithSpeed(a.cfg.Simulate.Speed),
		player.WithSize(a.env.PlayerWidth, a.env.PlayerHeight),
		player.WithDuration(doc.LinearDuration()),
	)
	defer surface.Close()

	run := inspector.New(surface,
		inspector.WithLedgerFactory(func() *ledger.Ledger { return a.newLedger(opts.dryRun) }),
		inspector.WithEnvironment(a.environment()),
		inspector.WithLogger(a.log),
		inspector.WithMetrics(a.metrics),
	)
	defer run.Close()

	stream, release := run.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for n := range stream {
			if !opts.asJSON {
				printNotification(out, n)
			}
		}
	}()

	sel, err := run.LoadDocument(doc)
	if err != nil {
		release()
		<-printed
		return err
	}
	if sel.Interactive() {
		a.log.Warn("interactive creative has no page to run in; playing its video only")
	}
	if sel.Video == nil {
		release()
		<-printed
		return fmt.Errorf("nothing to play: %w", lifecycle.ErrNoPlayableMedia)
	}

	actions := scheduledActions(run, surface, opts)
	unsub := surface.Subscribe(func(ev lifecycle.SurfaceEvent) {
		if ev.Type == lifecycle.SurfaceTimeUpdate {
			actions.at(ev.Telemetry.Position)
		}
	})
	defer unsub()

	if err := run.Machine().Play(); err != nil {
		release()
		<-printed
		return err
	}
	waitForEnd(cmd, run, surface)

	run.Ledger().Wait()
	release()
	<-printed

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run.Snapshot())
	}
	printAudit(out, run.Ledger())
	return nil
}

// waitForEnd returns when playback ends, the machine leaves playback, or
// the command is interrupted
func waitForEnd(cmd *cobra.Command, run *inspector.Run, surface *player.Simulated) {
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-surface.Done():
			return
		case <-cmd.Context().Done():
			_ = surface.Pause()
			return
		case <-poll.C:
			switch run.Machine().State() {
			case lifecycle.StateEnded, lifecycle.StateErrored:
				return
			}
		}
	}
}

// actionPlan fires each scheduled interaction once when its time is reached
type actionPlan struct {
	steps []*step
}

type step struct {
	at   time.Duration
	do   func()
	done bool
}

func (p *actionPlan) at(pos time.Duration) {
	for _, s := range p.steps {
		if !s.done && pos >= s.at {
			s.done = true
			go s.do()
		}
	}
}

func scheduledActions(run *inspector.Run, surface *player.Simulated, opts simulateOptions) *actionPlan {
	m := run.Machine()
	p := &actionPlan{}
	if opts.muteAt > 0 {
		p.steps = append(p.steps, &step{at: opts.muteAt, do: func() { _ = surface.SetMuted(true) }})
	}
	if opts.clickAt > 0 {
		p.steps = append(p.steps, &step{at: opts.clickAt, do: func() { _, _ = m.Click() }})
	}
	if opts.skipAfter > 0 {
		p.steps = append(p.steps, &step{at: opts.skipAfter, do: func() { _ = m.Skip() }})
	}
	return p
}

func printNotification(w io.Writer, n lifecycle.Notification) {
	typ := n.Type
	switch {
	case typ == string(vast.CategoryError) || typ == "loadFailed":
		typ = red(typ)
	case strings.HasPrefix(typ, "state:"):
		typ = cyan(typ)
	default:
		typ = green(typ)
	}
	fmt.Fprintf(w, "%s %-24s %s\n", gray(macro.FormatPlayhead(n.Position)), typ, n.Message)
}

func printAudit(w io.Writer, l *ledger.Ledger) {
	records := l.Records()
	fmt.Fprintf(w, "\n%s\n", bold("Firings"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tEVENT\tSTATUS\tLATENCY\tURL")
	for _, r := range records {
		status := green(string(r.Status))
		if r.Status == ledger.StatusFailed {
			status = red(string(r.Status))
		} else if r.TimedOut {
			status = yellow("timeout")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Category, r.Event, status, r.Latency.Round(time.Millisecond), r.ResolvedURL)
	}
	_ = tw.Flush()

	c := l.Counters()
	fmt.Fprintf(w, "\n%d dispatched, %s, %s, %d duplicate(s)\n",
		c.Dispatched,
		green(fmt.Sprintf("%d succeeded", c.Succeeded)),
		red(fmt.Sprintf("%d failed", c.Failed)),
		c.Duplicates,
	)
}
