// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package player provides media surfaces for the lifecycle machine: a
// clock-driven simulation and a remote page reporting over websocket.
package player

import (
	"errors"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/luxfi/vastinspect/pkg/lifecycle"
)

var (
	ErrNoSource = errors.New("no source set")
	ErrClosed   = errors.New("player closed")
)

// DefaultMIMETypes are the containers a Simulated surface claims to decode
var DefaultMIMETypes = []string{"video/mp4", "video/webm"}

// Simulated is a media surface with no decoder. Position advances on a
// ticker, or only through Advance when the tick is zero.
type Simulated struct {
	tick     time.Duration
	speed    float64
	canPlay  map[string]bool
	duration time.Duration

	mu      sync.Mutex
	tel     lifecycle.Telemetry
	source  string
	subs    map[int]func(lifecycle.SurfaceEvent)
	nextSub int
	stop    chan struct{}
	ended   chan struct{}
	closed  bool
}

// SimOption configures a Simulated surface
type SimOption func(*Simulated)

// WithTick sets the telemetry interval. Zero means manual stepping.
func WithTick(d time.Duration) SimOption { return func(s *Simulated) { s.tick = d } }

// WithSpeed scales media time against wall time
func WithSpeed(f float64) SimOption { return func(s *Simulated) { s.speed = f } }

// WithDuration sets the media duration reported after SetSource
func WithDuration(d time.Duration) SimOption { return func(s *Simulated) { s.duration = d } }

// WithSize sets the reported player dimensions
func WithSize(w, h int) SimOption {
	return func(s *Simulated) { s.tel.Width, s.tel.Height = w, h }
}

// WithMIMETypes replaces the decodable container list
func WithMIMETypes(types ...string) SimOption {
	return func(s *Simulated) {
		s.canPlay = make(map[string]bool, len(types))
		for _, t := range types {
			s.canPlay[strings.ToLower(t)] = true
		}
	}
}

// NewSimulated creates a paused surface at full volume
func NewSimulated(opts ...SimOption) *Simulated {
	s := &Simulated{
		speed: 1,
		subs:  make(map[int]func(lifecycle.SurfaceEvent)),
		tel:   lifecycle.Telemetry{Volume: 1, Paused: true},
	}
	WithMIMETypes(DefaultMIMETypes...)(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.speed <= 0 {
		s.speed = 1
	}
	return s
}

// SetSource loads url and reports loaded
func (s *Simulated) SetSource(url string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.haltLocked()
	s.source = url
	s.tel.Position = 0
	s.tel.Duration = s.duration
	s.tel.Paused = true
	s.tel.Ended = false
	s.ended = make(chan struct{})
	tel := s.tel
	s.mu.Unlock()

	s.emit(lifecycle.SurfaceLoaded, tel, "")
	return nil
}

// Play starts playback and reports playing
func (s *Simulated) Play() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.source == "" {
		s.mu.Unlock()
		return ErrNoSource
	}
	if !s.tel.Paused || s.tel.Ended {
		s.mu.Unlock()
		return nil
	}
	s.tel.Paused = false
	if s.tick > 0 {
		s.stop = make(chan struct{})
		go s.run(s.stop, s.tick)
	}
	tel := s.tel
	s.mu.Unlock()

	s.emit(lifecycle.SurfacePlaying, tel, "")
	return nil
}

// Pause stops playback and reports paused
func (s *Simulated) Pause() error {
	s.mu.Lock()
	if s.tel.Paused {
		s.mu.Unlock()
		return nil
	}
	s.haltLocked()
	s.tel.Paused = true
	tel := s.tel
	s.mu.Unlock()

	s.emit(lifecycle.SurfacePaused, tel, "")
	return nil
}

// SetVolume reports volumechange
func (s *Simulated) SetVolume(volume float64) error {
	s.mu.Lock()
	s.tel.Volume = min(max(volume, 0), 1)
	tel := s.tel
	s.mu.Unlock()

	s.emit(lifecycle.SurfaceVolumeChange, tel, "")
	return nil
}

// SetMuted reports volumechange
func (s *Simulated) SetMuted(muted bool) error {
	s.mu.Lock()
	s.tel.Muted = muted
	tel := s.tel
	s.mu.Unlock()

	s.emit(lifecycle.SurfaceVolumeChange, tel, "")
	return nil
}

// Telemetry implements lifecycle.MediaSurface
func (s *Simulated) Telemetry() lifecycle.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tel
}

// CanPlay implements lifecycle.MediaSurface
func (s *Simulated) CanPlay(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return s.canPlay[mt]
}

// Subscribe implements lifecycle.MediaSurface
func (s *Simulated) Subscribe(fn func(lifecycle.SurfaceEvent)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Advance moves a playing surface forward by d of media time
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	if s.tel.Paused || s.tel.Ended {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.step(d)
}

// Seek jumps to pos and reports timeupdate. Nothing in between is reported.
func (s *Simulated) Seek(pos time.Duration) {
	s.mu.Lock()
	if s.source == "" {
		s.mu.Unlock()
		return
	}
	s.tel.Position = max(pos, 0)
	tel := s.tel
	s.mu.Unlock()

	s.emit(lifecycle.SurfaceTimeUpdate, tel, "")
}

// Fail reports a decode error and stops playback
func (s *Simulated) Fail(reason string) {
	s.mu.Lock()
	s.haltLocked()
	s.tel.Paused = true
	tel := s.tel
	done := s.ended
	s.ended = nil
	s.mu.Unlock()

	s.emit(lifecycle.SurfaceErrored, tel, reason)
	if done != nil {
		close(done)
	}
}

// Done is closed when the current source ends or fails
func (s *Simulated) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return s.ended
}

// Close stops the clock; later commands fail
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltLocked()
	s.closed = true
	return nil
}

func (s *Simulated) run(stop <-chan struct{}, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	step := time.Duration(float64(tick) * s.speed)
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.step(step)
		}
	}
}

// step advances the position and reports timeupdate, then ended once the
// duration is reached
func (s *Simulated) step(d time.Duration) {
	s.mu.Lock()
	if s.tel.Paused || s.tel.Ended {
		s.mu.Unlock()
		return
	}
	s.tel.Position += d
	finished := s.tel.Duration > 0 && s.tel.Position >= s.tel.Duration
	if finished {
		s.tel.Position = s.tel.Duration
	}
	tel := s.tel
	s.mu.Unlock()

	s.emit(lifecycle.SurfaceTimeUpdate, tel, "")
	if !finished {
		return
	}

	s.mu.Lock()
	if s.tel.Ended {
		s.mu.Unlock()
		return
	}
	s.haltLocked()
	s.tel.Ended = true
	s.tel.Paused = true
	tel = s.tel
	done := s.ended
	s.ended = nil
	s.mu.Unlock()

	s.emit(lifecycle.SurfaceEnded, tel, "")
	if done != nil {
		close(done)
	}
}

// haltLocked stops the ticker goroutine, if running
func (s *Simulated) haltLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// emit calls subscribers without holding the lock
func (s *Simulated) emit(typ lifecycle.SurfaceEventType, tel lifecycle.Telemetry, msg string) {
	s.mu.Lock()
	subs := make([]func(lifecycle.SurfaceEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	ev := lifecycle.SurfaceEvent{Type: typ, Telemetry: tel, Message: msg}
	for _, fn := range subs {
		fn(ev)
	}
}
