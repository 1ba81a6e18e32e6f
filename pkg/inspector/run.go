// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package inspector ties one media surface, one firing ledger, one lifecycle
// machine and at most one control-channel session into an inspection run.
package inspector

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/lifecycle"
	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/metric"
	"github.com/luxfi/vastinspect/pkg/simid"
	"github.com/luxfi/vastinspect/pkg/vast"
)

const (
	// historyLimit bounds the retained notification backlog
	historyLimit = 1024
	// subscriberBuffer is the per-subscriber queue; a full queue drops
	subscriberBuffer = 256
)

var (
	ErrNoPlayableAd = errors.New("document has no ad with a linear creative")
	ErrClosed       = errors.New("run closed")
)

// Run is one inspection session over one loaded ad
type Run struct {
	id         string
	surface    lifecycle.MediaSurface
	machine    *lifecycle.Machine
	newLedger  func() *ledger.Ledger
	env        macro.Context
	sessionOps []simid.Option
	log        log.Logger
	metrics    *metric.Metrics
	now        func() time.Time

	mu           sync.Mutex
	channel      simid.Channel
	session      *simid.Session
	unsubSurface func()
	doc          *vast.Document
	ad           *vast.Ad
	closed       bool

	streamMu sync.Mutex
	history  []lifecycle.Notification
	subs     map[int]chan lifecycle.Notification
	nextSub  int
}

// Option configures a Run
type Option func(*Run)

// WithLedgerFactory sets how each load's ledger is built. The default fires
// over HTTP with the ledger defaults.
func WithLedgerFactory(fn func() *ledger.Ledger) Option {
	return func(r *Run) { r.newLedger = fn }
}

// WithChannel attaches the creative control channel up front
func WithChannel(ch simid.Channel) Option {
	return func(r *Run) { r.channel = ch }
}

// WithSessionOptions are passed to every control session the run creates
func WithSessionOptions(opts ...simid.Option) Option {
	return func(r *Run) { r.sessionOps = append(r.sessionOps, opts...) }
}

func WithEnvironment(env macro.Context) Option { return func(r *Run) { r.env = env } }
func WithLogger(l log.Logger) Option           { return func(r *Run) { r.log = l } }
func WithMetrics(m *metric.Metrics) Option     { return func(r *Run) { r.metrics = m } }
func WithClock(now func() time.Time) Option    { return func(r *Run) { r.now = now } }

// New creates an idle run over surface
func New(surface lifecycle.MediaSurface, opts ...Option) *Run {
	r := &Run{
		id:      uuid.NewString(),
		surface: surface,
		now:     time.Now,
		subs:    make(map[int]chan lifecycle.Notification),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.NoOp()
	}
	if r.metrics == nil {
		r.metrics = metric.Nop()
	}
	r.log = r.log.With(log.String("run", r.id))
	if r.newLedger == nil {
		r.newLedger = func() *ledger.Ledger {
			return ledger.New(ledger.WithLogger(r.log), ledger.WithMetrics(r.metrics))
		}
	}
	r.machine = lifecycle.NewMachine(surface, r.newLedger(),
		lifecycle.WithLogger(r.log),
		lifecycle.WithMetrics(r.metrics),
		lifecycle.WithNotifier(r.publish),
		lifecycle.WithClock(r.now),
		lifecycle.WithEnvironment(r.env),
	)
	return r
}

// ID returns the run id
func (r *Run) ID() string {
	return r.id
}

// Machine returns the lifecycle machine
func (r *Run) Machine() *lifecycle.Machine {
	return r.machine
}

// Ledger returns the ledger for the current load
func (r *Run) Ledger() *ledger.Ledger {
	return r.machine.Ledger()
}

// Document returns the loaded document, if any
func (r *Run) Document() *vast.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// Ad returns the loaded ad, if any
func (r *Run) Ad() *vast.Ad {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ad
}

// Session returns the active control session, if any
func (r *Run) Session() *simid.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Snapshot is a point-in-time view of a run
type Snapshot struct {
	ID        string                `json:"id"`
	State     lifecycle.State       `json:"state"`
	Flags     lifecycle.Flags       `json:"flags"`
	AdID      string                `json:"adId,omitempty"`
	Selection *lifecycle.Selection  `json:"selection,omitempty"`
	Session   simid.State           `json:"session,omitempty"`
	Telemetry lifecycle.Telemetry   `json:"telemetry"`
	Counters  ledger.Counters       `json:"counters"`
	Records   []ledger.FiringRecord `json:"records"`
}

// Snapshot reads the run state. In-flight dispatches are not waited for.
func (r *Run) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        r.id,
		State:     r.machine.State(),
		Flags:     r.machine.Flags(),
		Telemetry: r.surface.Telemetry(),
	}
	l := r.machine.Ledger()
	snap.Counters = l.Counters()
	snap.Records = l.Records()

	r.mu.Lock()
	ad, s := r.ad, r.session
	r.mu.Unlock()
	if ad != nil {
		snap.AdID = ad.ID
		sel := r.machine.Selection()
		snap.Selection = &sel
	}
	if s != nil {
		snap.Session = s.State()
	}
	return snap
}

// LoadDocument loads the first ad of doc that carries a linear creative
func (r *Run) LoadDocument(doc *vast.Document) (lifecycle.Selection, error) {
	if doc == nil {
		return lifecycle.Selection{}, ErrNoPlayableAd
	}
	for i := range doc.Ads {
		ad := &doc.Ads[i]
		if _, ok := ad.FirstLinear(); !ok {
			continue
		}
		sel, err := r.LoadAd(ad)
		if err == nil {
			r.mu.Lock()
			r.doc = doc
			r.mu.Unlock()
		}
		return sel, err
	}
	return lifecycle.Selection{}, ErrNoPlayableAd
}

// LoadAd hands ad to the machine. An interactive selection starts a control
// session when a channel is attached.
func (r *Run) LoadAd(ad *vast.Ad) (lifecycle.Selection, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return lifecycle.Selection{}, ErrClosed
	}
	r.mu.Unlock()

	sel, err := r.machine.LoadAd(ad, vast.CatalogForAd(ad))
	if err != nil {
		return sel, fmt.Errorf("load ad %q: %w", adID(ad), err)
	}

	r.mu.Lock()
	r.ad = ad
	r.mu.Unlock()

	if sel.Interactive() {
		r.startSession()
	}
	return sel, nil
}

// AttachChannel sets the creative control channel. If an interactive ad is
// already loaded without a session, one starts now.
func (r *Run) AttachChannel(ch simid.Channel) {
	r.mu.Lock()
	r.channel = ch
	r.mu.Unlock()
	if r.machine.Selection().Interactive() {
		r.startSession()
	}
}

func (r *Run) startSession() {
	r.mu.Lock()
	if r.closed || r.session != nil || r.channel == nil || r.ad == nil {
		if r.channel == nil && r.session == nil {
			r.log.Info("interactive creative loaded without a control channel")
		}
		r.mu.Unlock()
		return
	}
	creative := simid.CreativeFromAd(r.ad, r.machine.Selection().Primary)
	opts := append([]simid.Option{
		simid.WithSkip(r.machine.Skip),
		simid.WithNotifier(r.note),
		simid.WithEnvironment(r.machine.MacroContext()),
		simid.WithLogger(r.log),
		simid.WithMetrics(r.metrics),
	}, r.sessionOps...)
	s := simid.NewSession(r.channel, r.surface, r.machine.Ledger(), creative, opts...)
	r.session = s
	r.mu.Unlock()

	unsub := r.surface.Subscribe(func(ev lifecycle.SurfaceEvent) {
		if err := s.SendVideoEvent(string(ev.Type)); err != nil && !errors.Is(err, simid.ErrSessionClosed) {
			r.log.Debug("video event not forwarded", log.Error(err))
		}
	})

	r.mu.Lock()
	if r.session != s {
		r.mu.Unlock()
		unsub()
		return
	}
	r.unsubSurface = unsub
	r.mu.Unlock()

	s.Start()
}

// Reset terminates the control session, clears the machine and gives it a
// fresh ledger. Dispatches still in flight for the old ledger are dropped.
func (r *Run) Reset() {
	r.mu.Lock()
	s, unsub := r.session, r.unsubSurface
	r.session, r.unsubSurface = nil, nil
	r.doc, r.ad = nil, nil
	closed := r.closed
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if s != nil {
		s.Terminate()
	}
	if closed {
		return
	}
	r.machine.Reset(r.newLedger())
}

// Close resets the run, closes its ledger and ends every subscription
func (r *Run) Close() {
	r.Reset()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.machine.Ledger().Close()

	r.streamMu.Lock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.streamMu.Unlock()
}

// Subscribe returns a stream of notifications from now on. The stream is
// closed by the release func or by Close.
func (r *Run) Subscribe() (<-chan lifecycle.Notification, func()) {
	ch := make(chan lifecycle.Notification, subscriberBuffer)
	r.streamMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.streamMu.Unlock()

	return ch, func() {
		r.streamMu.Lock()
		defer r.streamMu.Unlock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
	}
}

// History returns the retained notifications, oldest first
func (r *Run) History() []lifecycle.Notification {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	out := make([]lifecycle.Notification, len(r.history))
	copy(out, r.history)
	return out
}

// note adapts control session notes onto the notification stream
func (r *Run) note(typ, msg string) {
	r.publish(lifecycle.Notification{
		Type:      typ,
		Message:   msg,
		Timestamp: r.now(),
		Position:  r.surface.Telemetry().Position,
	})
}

// publish never blocks: it is called with the machine locked
func (r *Run) publish(n lifecycle.Notification) {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	r.history = append(r.history, n)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
	for _, ch := range r.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func adID(ad *vast.Ad) string {
	if ad == nil {
		return ""
	}
	return ad.ID
}
