// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simid

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/lifecycle"
	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/metric"
	"github.com/luxfi/vastinspect/pkg/vast"
)

const (
	// DefaultSettleDelay lets the creative's context finish loading before init
	DefaultSettleDelay = 250 * time.Millisecond

	protocolVersion = "1.1"
)

// ErrSessionClosed is returned when sending on a terminated session
var ErrSessionClosed = errors.New("session closed")

// State of a control session
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateActive        State = "active"
	StateTerminated    State = "terminated"
)

// Channel carries messages to and from the creative's context
type Channel interface {
	Send(msg Message) error
	// Subscribe registers fn for inbound messages and returns the release func
	Subscribe(fn func(Message)) (unsubscribe func())
}

// Media is the part of the media surface the creative may drive
type Media interface {
	Play() error
	Pause() error
	SetVolume(volume float64) error
	SetMuted(muted bool) error
	Telemetry() lifecycle.Telemetry
}

// Creative is what the session tells the creative about the ad
type Creative struct {
	URL          string
	AdID         string
	CreativeID   string
	AdParameters string
	ClickThrough string
}

// CreativeFromAd builds the description of ad's first linear creative
func CreativeFromAd(ad *vast.Ad, file vast.MediaFile) Creative {
	c := Creative{URL: file.URL, AdID: ad.ID}
	if cr, ok := ad.FirstLinear(); ok {
		c.CreativeID = cr.ID
		c.AdParameters = cr.Linear.AdParameters
		if cr.Linear.ClickThrough != nil {
			c.ClickThrough = cr.Linear.ClickThrough.URL
		}
	}
	return c
}

// Session is one control-channel session for one loaded interactive
// creative. It is never reused: a new load gets a new Session.
type Session struct {
	id       string
	channel  Channel
	media    Media
	ledger   *ledger.Ledger
	creative Creative

	env         macro.Context
	settleDelay time.Duration
	skip        func() error
	notify      func(typ, msg string)
	log         log.Logger
	metrics     *metric.Metrics

	mu          sync.Mutex
	state       State
	nextID      int64
	pending     map[int64]MessageType
	unsubscribe func()
	timer       *time.Timer
}

// Option configures a Session
type Option func(*Session)

// WithSettleDelay sets the delay between Start and Session.init
func WithSettleDelay(d time.Duration) Option {
	return func(s *Session) { s.settleDelay = d }
}

// WithSkip sets the action for skip requests. The default pauses the media.
func WithSkip(fn func() error) Option {
	return func(s *Session) { s.skip = fn }
}

// WithNotifier receives session lifecycle notes for presentation
func WithNotifier(fn func(typ, msg string)) Option {
	return func(s *Session) { s.notify = fn }
}

// WithEnvironment sets the page and player details reported in init and
// used for relayed firings
func WithEnvironment(env macro.Context) Option {
	return func(s *Session) { s.env = env }
}

func WithLogger(l log.Logger) Option       { return func(s *Session) { s.log = l } }
func WithMetrics(m *metric.Metrics) Option { return func(s *Session) { s.metrics = m } }

// NewSession allocates a session with a fresh id. Relayed tracking fires
// through l, which must be the ledger the lifecycle machine uses.
func NewSession(ch Channel, media Media, l *ledger.Ledger, creative Creative, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		channel:     ch,
		media:       media,
		ledger:      l,
		creative:    creative,
		settleDelay: DefaultSettleDelay,
		state:       StateUninitialized,
		pending:     make(map[int64]MessageType),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.NoOp()
	}
	if s.metrics == nil {
		s.metrics = metric.Nop()
	}
	if s.notify == nil {
		s.notify = func(string, string) {}
	}
	if s.skip == nil {
		s.skip = media.Pause
	}
	s.log = s.log.With(log.String("session", s.id))
	s.metrics.SessionsStarted.Inc()
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// State returns the session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start registers the inbound listener and schedules Session.init after
// the settle delay
func (s *Session) Start() {
	s.mu.Lock()
	if s.state != StateUninitialized || s.unsubscribe != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	unsub := s.channel.Subscribe(s.handle)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		unsub()
		return
	}
	s.unsubscribe = unsub
	s.timer = time.AfterFunc(s.settleDelay, s.sendInit)
}

func (s *Session) sendInit() {
	tel := s.media.Telemetry()
	w, h := s.env.PlayerWidth, s.env.PlayerHeight
	if tel.Width > 0 && tel.Height > 0 {
		w, h = tel.Width, tel.Height
	}
	args := InitArgs{
		EnvironmentData: EnvironmentData{
			VideoDimensions:         Dimensions{Width: w, Height: h},
			CreativeDimensions:      Dimensions{Width: w, Height: h},
			FullyFunctional:         true,
			Muted:                   tel.Muted,
			Volume:                  tel.Volume,
			Version:                 protocolVersion,
			SiteURL:                 s.env.PageURL,
			UserAgent:               s.env.UserAgent,
			VariableDurationAllowed: false,
			NavigationSupport:       "playerHandles",
			CloseButtonSupport:      "playerHandles",
		},
		CreativeData: CreativeData{
			AdParameters: s.creative.AdParameters,
			ClickThruURL: s.creative.ClickThrough,
			AdID:         s.creative.AdID,
			CreativeID:   s.creative.CreativeID,
		},
	}

	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return
	}
	s.state = StateInitializing
	msg, err := s.buildLocked(SessionInit, args)
	if err == nil {
		s.pending[msg.MessageID] = SessionInit
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("failed to encode init", log.Error(err))
		return
	}
	s.notify("simid", "session initializing")
	s.send(msg)
}

// Terminate releases the inbound listener. An active session tells the
// creative with Session.stop first.
func (s *Session) Terminate() {
	s.teardown(true)
}

func (s *Session) teardown(sendStop bool) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	wasActive := s.state == StateActive
	var stop Message
	var err error
	if sendStop && wasActive {
		stop, err = s.buildLocked(SessionStop, nil)
	}
	s.state = StateTerminated
	if s.timer != nil {
		s.timer.Stop()
	}
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.pending = make(map[int64]MessageType)
	s.mu.Unlock()

	if sendStop && wasActive && err == nil {
		s.send(stop)
	}
	if unsub != nil {
		unsub()
	}
	s.notify("simid", "session terminated")
}

// SendVideoEvent forwards a media surface event to an active creative
func (s *Session) SendVideoEvent(eventType string) error {
	state := s.mediaState(eventType)

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	msg, err := s.buildLocked(VideoEvent, state)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.channel.Send(msg)
}

func (s *Session) mediaState(eventType string) MediaState {
	tel := s.media.Telemetry()
	return MediaState{
		EventType:   eventType,
		CurrentSrc:  s.creative.URL,
		CurrentTime: tel.Position.Seconds(),
		Duration:    tel.Duration.Seconds(),
		Ended:       tel.Ended,
		Muted:       tel.Muted,
		Paused:      tel.Paused,
		Volume:      tel.Volume,
	}
}

// buildLocked stamps a new outgoing message
func (s *Session) buildLocked(typ MessageType, args any) (Message, error) {
	s.nextID++
	msg := Message{
		SessionID: s.id,
		MessageID: s.nextID,
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s args: %w", typ, err)
		}
		msg.Args = raw
	}
	return msg, nil
}

func (s *Session) send(msg Message) {
	if err := s.channel.Send(msg); err != nil {
		s.log.Warn("control message send failed", log.String("type", string(msg.Type)), log.Error(err))
	}
}

// respond answers a request with resolve, echoing its messageId
func (s *Session) respond(req Message, value any) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	msg, err := s.buildLocked(Resolve, ResolveArgs{MessageID: req.MessageID, Value: value})
	s.mu.Unlock()
	if err != nil {
		s.log.Error("failed to encode resolve", log.Error(err))
		return
	}
	s.send(msg)
}
