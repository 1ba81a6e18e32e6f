// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simid

import (
	"fmt"

	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/vast"
)

// handler processes one inbound request. It returns the resolve value.
type handler func(s *Session, msg Message) any

// handlers is the fixed request table. Every entry is answered with
// resolve; none of them can fail.
var handlers = map[MessageType]handler{
	SessionCreativeLoaded:       (*Session).onCreativeLoaded,
	CreativeReportTracking:      (*Session).onReportTracking,
	CreativeRequestChangeVolume: (*Session).onChangeVolume,
	CreativeRequestPause:        (*Session).onPause,
	CreativeRequestPlay:         (*Session).onPlay,
	CreativeRequestSkip:         (*Session).onSkip,
	CreativeGetMediaState:       (*Session).onGetMediaState,
	SessionStop:                 (*Session).onStop,
	SessionSkip:                 (*Session).onSkip,
	SessionFatal:                (*Session).onFatal,
}

// Session-ending requests, torn down after the resolve goes out
var terminal = map[MessageType]bool{
	SessionStop:  true,
	SessionSkip:  true,
	SessionFatal: true,
}

// handle is the inbound listener
func (s *Session) handle(msg Message) {
	if msg.SessionID != s.id {
		s.metrics.MessagesIgnored.WithLabelValues("session_mismatch").Inc()
		s.log.Debug("ignoring message for another session",
			log.String("foreign", msg.SessionID),
			log.String("type", string(msg.Type)),
		)
		return
	}
	if s.State() == StateTerminated {
		s.metrics.MessagesIgnored.WithLabelValues("terminated").Inc()
		return
	}

	switch msg.Type {
	case Resolve:
		s.metrics.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()
		s.onResolve(msg)
		return
	case Reject:
		s.metrics.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()
		s.onReject(msg)
		return
	}

	h, ok := handlers[msg.Type]
	if !ok {
		s.metrics.MessagesIgnored.WithLabelValues("unknown_type").Inc()
		s.log.Warn("ignoring unknown message type", log.String("type", string(msg.Type)))
		return
	}
	s.metrics.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()

	value := h(s, msg)
	s.respond(msg, value)
	if terminal[msg.Type] {
		s.teardown(false)
	}
}

func (s *Session) onResolve(msg Message) {
	var c correlation
	if err := msg.Decode(&c); err != nil {
		s.log.Debug("undecodable resolve", log.Error(err))
		return
	}

	s.mu.Lock()
	typ, ok := s.pending[c.MessageID]
	delete(s.pending, c.MessageID)
	if !ok || typ != SessionInit || s.state != StateInitializing {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	start, err := s.buildLocked(SessionStart, nil)
	if err == nil {
		s.pending[start.MessageID] = SessionStart
	}
	s.mu.Unlock()

	s.notify("simid", "session active")
	if err == nil {
		s.send(start)
	}
}

func (s *Session) onReject(msg Message) {
	var c correlation
	_ = msg.Decode(&c)

	s.mu.Lock()
	typ := s.pending[c.MessageID]
	delete(s.pending, c.MessageID)
	s.mu.Unlock()

	s.log.Warn("creative rejected request", log.String("request", string(typ)))
	if typ == SessionInit || typ == SessionStart {
		s.notify("simid", fmt.Sprintf("creative rejected %s", typ))
		s.teardown(false)
	}
}

func (s *Session) onCreativeLoaded(Message) any {
	s.notify("simid", "creative loaded")
	return nil
}

func (s *Session) onReportTracking(msg Message) any {
	var args ReportTrackingArgs
	if err := msg.Decode(&args); err != nil {
		s.log.Debug("undecodable reportTracking", log.Error(err))
		return nil
	}
	ctx := s.env
	tel := s.media.Telemetry()
	ctx.Position = tel.Position
	ctx.AssetURI = s.creative.URL
	n := s.ledger.FireURLs(args.TrackingURLs, vast.CategoryRelayed, "", ctx)
	s.notify(string(vast.CategoryRelayed), fmt.Sprintf("relayed, %d of %d url(s) fired", n, len(args.TrackingURLs)))
	return nil
}

func (s *Session) onChangeVolume(msg Message) any {
	var args ChangeVolumeArgs
	if err := msg.Decode(&args); err != nil {
		s.log.Debug("undecodable requestChangeVolume", log.Error(err))
		return nil
	}
	s.command("setVolume", s.media.SetVolume(args.Volume))
	s.command("setMuted", s.media.SetMuted(args.Muted))
	return nil
}

func (s *Session) onPause(Message) any {
	s.command("pause", s.media.Pause())
	return nil
}

func (s *Session) onPlay(Message) any {
	s.command("play", s.media.Play())
	return nil
}

func (s *Session) onSkip(Message) any {
	s.command("skip", s.skip())
	return nil
}

func (s *Session) onGetMediaState(Message) any {
	return s.mediaState("")
}

func (s *Session) onStop(Message) any {
	s.notify("simid", "creative requested stop")
	return nil
}

func (s *Session) onFatal(msg Message) any {
	var args FatalArgs
	_ = msg.Decode(&args)
	s.log.Error("creative reported fatal error",
		log.Int("code", args.ErrorCode),
		log.String("message", args.ErrorMessage),
	)
	s.notify("simid", fmt.Sprintf("creative fatal %d: %s", args.ErrorCode, args.ErrorMessage))
	return nil
}

func (s *Session) command(name string, err error) {
	if err != nil {
		s.log.Warn("media command failed", log.String("command", name), log.Error(err))
	}
}
