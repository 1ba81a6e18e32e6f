// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/metric"
	"github.com/luxfi/vastinspect/pkg/vast"
)

// State of the playback lifecycle
type State string

const (
	StateIdle    State = "idle"
	StateLoaded  State = "loaded"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
	StateErrored State = "errored"
)

var (
	ErrNotIdle      = errors.New("ad already loaded")
	ErrNotLoaded    = errors.New("no ad loaded")
	ErrNotPlaying   = errors.New("ad is not playing")
	ErrNoLinear     = errors.New("ad has no linear creative")
	ErrNotSkippable = errors.New("skip offset not reached")
	ErrNoClick      = errors.New("no click-through declared")
)

// completionWindow is how close to the end a pause is taken as completion
const completionWindow = 250 * time.Millisecond

// Flags are the one-shot lifecycle guards
type Flags struct {
	Start         bool `json:"start"`
	FirstQuartile bool `json:"firstQuartile"`
	Midpoint      bool `json:"midpoint"`
	ThirdQuartile bool `json:"thirdQuartile"`
	Complete      bool `json:"complete"`
}

var quartiles = []struct {
	threshold float64
	event     string
}{
	{0.25, vast.EventFirstQuartile},
	{0.50, vast.EventMidpoint},
	{0.75, vast.EventThirdQuartile},
}

// Notification is one entry of the lifecycle stream shown to the user
type Notification struct {
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Position  time.Duration `json:"position"`
}

// Notifier receives notifications. It is called with the machine locked
// and must not call back into the machine.
type Notifier func(Notification)

// Machine decides when each tracking category fires, driven by media
// surface events
type Machine struct {
	surface MediaSurface
	env     macro.Context
	log     log.Logger
	metrics *metric.Metrics
	notify  Notifier
	now     func() time.Time
	engine  *macro.Engine

	mu          sync.Mutex
	ledger      *ledger.Ledger
	state       State
	flags       Flags
	quartile    int // thresholds passed so far
	progress    map[int]bool
	muted       bool
	fullscreen  bool
	ad          *vast.Ad
	creative    *vast.Creative
	catalog     *vast.Catalog
	selection   Selection
	unsubscribe func()
}

// Option configures a Machine
type Option func(*Machine)

func WithLogger(l log.Logger) Option           { return func(m *Machine) { m.log = l } }
func WithMetrics(mt *metric.Metrics) Option    { return func(m *Machine) { m.metrics = mt } }
func WithNotifier(n Notifier) Option           { return func(m *Machine) { m.notify = n } }
func WithClock(now func() time.Time) Option    { return func(m *Machine) { m.now = now } }
func WithEnvironment(env macro.Context) Option { return func(m *Machine) { m.env = env } }
func WithEngine(e *macro.Engine) Option        { return func(m *Machine) { m.engine = e } }

// NewMachine creates an idle machine firing through l
func NewMachine(surface MediaSurface, l *ledger.Ledger, opts ...Option) *Machine {
	m := &Machine{
		surface: surface,
		ledger:  l,
		state:   StateIdle,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = log.NoOp()
	}
	if m.metrics == nil {
		m.metrics = metric.Nop()
	}
	if m.notify == nil {
		m.notify = func(Notification) {}
	}
	if m.engine == nil {
		m.engine = macro.NewEngine()
	}
	return m
}

// LoadAd selects media for the ad's first linear creative, fires its
// impressions and points the surface at the selected video. Only that
// creative's tracking is fired during playback.
func (m *Machine) LoadAd(ad *vast.Ad, cat *vast.Catalog) (Selection, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return Selection{}, ErrNotIdle
	}
	if ad == nil {
		m.mu.Unlock()
		return Selection{}, ErrNoLinear
	}
	cr, ok := ad.FirstLinear()
	if !ok {
		m.rejectLocked("no_linear", ErrNoLinear)
		m.mu.Unlock()
		return Selection{}, ErrNoLinear
	}
	sel, err := SelectMedia(cr.Linear.MediaFiles, m.surface.CanPlay)
	if err != nil {
		m.rejectLocked("no_media", err)
		m.mu.Unlock()
		return Selection{}, err
	}
	if cat == nil {
		cat = vast.CatalogForAd(ad)
	}
	cat = cat.ForLinear(ad, cr)

	m.ad, m.creative, m.catalog, m.selection = ad, cr, cat, sel
	m.clearLocked()
	m.unsubscribe = m.surface.Subscribe(m.handle)
	m.transitionLocked(StateLoaded, fmt.Sprintf("ad %q loaded, primary %s", ad.ID, describe(sel.Primary)))
	m.fireLocked(vast.CategoryImpression, cat.Impressions)
	m.mu.Unlock()

	if sel.Video != nil {
		if err := m.surface.SetSource(sel.Video.URL); err != nil {
			m.log.Warn("media surface rejected source", log.String("url", sel.Video.URL), log.Error(err))
		}
	}
	return sel, nil
}

func (m *Machine) rejectLocked(reason string, err error) {
	m.metrics.LoadsFailed.WithLabelValues(reason).Inc()
	m.emitLocked("loadFailed", err.Error())
}

// Reset tears down the subscription, clears every flag and returns to Idle.
// The fresh ledger replaces the old one; the old one is closed.
func (m *Machine) Reset(fresh *ledger.Ledger) {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	old := m.ledger
	m.ledger = fresh
	m.ad, m.creative, m.catalog, m.selection = nil, nil, nil, Selection{}
	m.clearLocked()
	m.state = StateIdle
	m.emitLocked("reset", "run reset")
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if old != nil && old != fresh {
		old.Close()
	}
}

func (m *Machine) clearLocked() {
	m.flags = Flags{}
	m.quartile = 0
	m.progress = make(map[int]bool)
	m.muted = false
	m.fullscreen = false
}

// handle consumes one surface event
func (m *Machine) handle(ev SurfaceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.catalog == nil {
		return
	}

	tel := ev.Telemetry
	switch ev.Type {
	case SurfacePlaying:
		m.onPlaying(tel)
	case SurfacePaused:
		m.onPaused(tel)
	case SurfaceTimeUpdate:
		m.evaluate(tel)
	case SurfaceEnded:
		m.onEnded(tel)
	case SurfaceErrored:
		m.errorLocked(ev.Message)
	case SurfaceVolumeChange:
		m.onVolume(tel)
	case SurfaceLoaded:
		m.emitAtLocked("mediaLoaded", fmt.Sprintf("duration %s", m.duration(tel)), tel.Position)
	}
}

func (m *Machine) onPlaying(tel Telemetry) {
	if m.state != StateLoaded && m.state != StatePaused {
		return
	}
	m.transitionLocked(StatePlaying, "playing")
	if !m.flags.Start {
		m.flags.Start = true
		m.fireEventLocked(vast.EventStart, tel)
		return
	}
	m.fireEventLocked(vast.EventResume, tel)
}

func (m *Machine) onPaused(tel Telemetry) {
	if m.state != StatePlaying {
		return
	}
	if d := m.duration(tel); d > 0 && d-tel.Position <= completionWindow {
		return
	}
	m.transitionLocked(StatePaused, "paused")
	m.fireEventLocked(vast.EventPause, tel)
}

// evaluate fires the highest quartile reached above the last one fired,
// then any progress offsets reached. Skipped quartiles are never fired.
func (m *Machine) evaluate(tel Telemetry) {
	if (m.state != StatePlaying && m.state != StatePaused) || !m.flags.Start {
		return
	}
	d := m.duration(tel)
	if d <= 0 {
		return
	}

	progress := float64(tel.Position) / float64(d)
	highest := -1
	for i, q := range quartiles {
		if progress >= q.threshold {
			highest = i
		}
	}
	if highest >= m.quartile {
		m.quartile = highest + 1
		m.setQuartileFlag(quartiles[highest].event)
		m.fireEventLocked(quartiles[highest].event, tel)
	}

	for i, e := range m.catalog.Event(vast.EventProgress) {
		if m.progress[i] || !e.Offset.Reached(tel.Position, d) {
			continue
		}
		m.progress[i] = true
		m.ledger.Fire(e.URL, e.Category, e.Event, m.macroContext(tel))
		m.emitAtLocked(vast.EventProgress, "progress "+e.Offset.Raw, tel.Position)
	}
}

func (m *Machine) setQuartileFlag(event string) {
	switch event {
	case vast.EventFirstQuartile:
		m.flags.FirstQuartile = true
	case vast.EventMidpoint:
		m.flags.Midpoint = true
	case vast.EventThirdQuartile:
		m.flags.ThirdQuartile = true
	}
}

func (m *Machine) onEnded(tel Telemetry) {
	switch m.state {
	case StateLoaded, StatePlaying, StatePaused:
	default:
		return
	}
	m.transitionLocked(StateEnded, "ended")
	if !m.flags.Complete {
		m.flags.Complete = true
		m.fireEventLocked(vast.EventComplete, tel)
	}
}

func (m *Machine) onVolume(tel Telemetry) {
	muted := tel.Muted || tel.Volume <= 0
	if muted == m.muted {
		return
	}
	m.muted = muted
	if muted {
		m.fireEventLocked(vast.EventMute, tel)
		return
	}
	m.fireEventLocked(vast.EventUnmute, tel)
}

// Fail moves the machine to Errored and fires the error URLs
func (m *Machine) Fail(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorLocked(reason)
}

func (m *Machine) errorLocked(reason string) {
	if m.state == StateErrored {
		return
	}
	if reason == "" {
		reason = "media error"
	}
	m.transitionLocked(StateErrored, reason)
	if m.catalog != nil {
		m.fireLocked(vast.CategoryError, m.catalog.Errors)
	}
}

// Play asks the surface to play. The state changes when the surface
// reports it.
func (m *Machine) Play() error {
	if err := m.requireLoaded(); err != nil {
		return err
	}
	return m.surface.Play()
}

// Pause asks the surface to pause
func (m *Machine) Pause() error {
	if err := m.requireLoaded(); err != nil {
		return err
	}
	return m.surface.Pause()
}

// Skip fires skip and ends the ad without complete. Without a skipoffset
// the skip is always allowed.
func (m *Machine) Skip() error {
	m.mu.Lock()
	if m.state != StatePlaying && m.state != StatePaused {
		m.mu.Unlock()
		return fmt.Errorf("skip in state %s: %w", m.state, ErrNotPlaying)
	}
	tel := m.surface.Telemetry()
	if so := m.creative.Linear.SkipOffset; so != nil && !so.Reached(tel.Position, m.duration(tel)) {
		m.mu.Unlock()
		return ErrNotSkippable
	}
	m.fireEventLocked(vast.EventSkip, tel)
	m.transitionLocked(StateEnded, "skipped")
	m.mu.Unlock()

	return m.surface.Pause()
}

// Click fires linear click tracking and returns the resolved click-through
func (m *Machine) Click() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.catalog == nil || m.state == StateIdle {
		return "", ErrNotLoaded
	}
	tel := m.surface.Telemetry()
	mctx := m.macroContext(tel)
	n := m.ledger.FireAll(m.catalog.ClickTracking(vast.KindLinear), mctx)
	m.emitAtLocked("click", fmt.Sprintf("click, %d tracking url(s) fired", n), tel.Position)

	ct, ok := m.catalog.ClickThrough(vast.KindLinear)
	if !ok {
		return "", ErrNoClick
	}
	return m.engine.Substitute(ct.URL, mctx), nil
}

// SetFullscreen fires fullscreen or exitFullscreen when the mode flips
func (m *Machine) SetFullscreen(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.catalog == nil || m.state == StateIdle {
		return ErrNotLoaded
	}
	if on == m.fullscreen {
		return nil
	}
	m.fullscreen = on
	tel := m.surface.Telemetry()
	if on {
		m.fireEventLocked(vast.EventFullscreen, tel)
	} else {
		m.fireEventLocked(vast.EventExitFullscreen, tel)
	}
	return nil
}

func (m *Machine) requireLoaded() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.catalog == nil || m.state == StateIdle {
		return ErrNotLoaded
	}
	return nil
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Flags returns the one-shot guards
func (m *Machine) Flags() Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// Selection returns the current playback plan
func (m *Machine) Selection() Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection
}

// Ledger returns the ledger currently in use
func (m *Machine) Ledger() *ledger.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger
}

// MacroContext is the substitution context for the current telemetry
func (m *Machine) MacroContext() macro.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.macroContext(m.surface.Telemetry())
}

func (m *Machine) fireEventLocked(event string, tel Telemetry) {
	n := m.ledger.FireAll(m.catalog.Event(event), m.macroContext(tel))
	m.emitAtLocked(event, fmt.Sprintf("%s, %d url(s) fired", event, n), tel.Position)
}

func (m *Machine) fireLocked(category vast.Category, entries []vast.Entry) {
	tel := m.surface.Telemetry()
	n := m.ledger.FireAll(entries, m.macroContext(tel))
	m.emitAtLocked(string(category), fmt.Sprintf("%s, %d url(s) fired", category, n), tel.Position)
}

func (m *Machine) transitionLocked(to State, msg string) {
	m.log.Debug("lifecycle transition", log.String("from", string(m.state)), log.String("to", string(to)))
	m.state = to
	m.metrics.Transitions.WithLabelValues(string(to)).Inc()
	m.emitLocked("state:"+string(to), msg)
}

func (m *Machine) emitLocked(typ, msg string) {
	m.emitAtLocked(typ, msg, m.surface.Telemetry().Position)
}

func (m *Machine) emitAtLocked(typ, msg string, pos time.Duration) {
	m.notify(Notification{Type: typ, Message: msg, Timestamp: m.now(), Position: pos})
}

func (m *Machine) duration(tel Telemetry) time.Duration {
	if tel.Duration > 0 {
		return tel.Duration
	}
	if m.creative != nil && m.creative.Linear != nil {
		return m.creative.Linear.Duration
	}
	return 0
}

func (m *Machine) macroContext(tel Telemetry) macro.Context {
	ctx := m.env
	ctx.Position = tel.Position
	ctx.AssetURI = m.selection.Primary.URL
	if tel.Width > 0 && tel.Height > 0 {
		ctx.PlayerWidth, ctx.PlayerHeight = tel.Width, tel.Height
	}
	return ctx
}

func describe(mf vast.MediaFile) string {
	switch {
	case mf.Interactive:
		return fmt.Sprintf("interactive %s (%s)", mf.MIMEType, mf.APIFramework)
	case mf.RequiresExternalRuntime:
		return fmt.Sprintf("legacy runtime %s", mf.MIMEType)
	}
	return fmt.Sprintf("%s %dx%d", mf.MIMEType, mf.Width, mf.Height)
}
