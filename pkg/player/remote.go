// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package player

import (
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/luxfi/vastinspect/pkg/lifecycle"
	"github.com/luxfi/vastinspect/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Inbound message types besides the surface events
const (
	TypeCapabilities = "capabilities"
)

// Outbound command names
const (
	CommandSetSource = "setSource"
	CommandPlay      = "play"
	CommandPause     = "pause"
	CommandSetVolume = "setVolume"
	CommandSetMuted  = "setMuted"
	CommandNotify    = "notify"
)

// WireTelemetry is telemetry as the page reports it. Times are in seconds.
type WireTelemetry struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Volume      float64 `json:"volume"`
	Muted       bool    `json:"muted"`
	Paused      bool    `json:"paused"`
	Ended       bool    `json:"ended"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

func (w WireTelemetry) telemetry() lifecycle.Telemetry {
	return lifecycle.Telemetry{
		Position: seconds(w.CurrentTime),
		Duration: seconds(w.Duration),
		Volume:   w.Volume,
		Muted:    w.Muted,
		Paused:   w.Paused,
		Ended:    w.Ended,
		Width:    w.Width,
		Height:   w.Height,
	}
}

// Report is one inbound message from the page
type Report struct {
	Type      string        `json:"type"`
	Telemetry WireTelemetry `json:"telemetry"`
	Message   string        `json:"message,omitempty"`
	MIMETypes []string      `json:"mimeTypes,omitempty"`
}

// Command is one outbound message to the page
type Command struct {
	Command      string                  `json:"command"`
	URL          string                  `json:"url,omitempty"`
	Volume       *float64                `json:"volume,omitempty"`
	Muted        *bool                   `json:"muted,omitempty"`
	Notification *lifecycle.Notification `json:"notification,omitempty"`
}

// Remote is a media surface rendered by a browser page. The page reports
// surface events with telemetry and receives playback commands.
type Remote struct {
	conn *websocket.Conn
	log  log.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	tel     lifecycle.Telemetry
	canPlay map[string]bool
	subs    map[int]func(lifecycle.SurfaceEvent)
	nextSub int
	closed  bool
	done    chan struct{}
}

// NewRemote wraps conn and starts its read and ping loops
func NewRemote(conn *websocket.Conn, logger log.Logger) *Remote {
	if logger == nil {
		logger = log.NoOp()
	}
	r := &Remote{
		conn:    conn,
		log:     logger,
		tel:     lifecycle.Telemetry{Volume: 1, Paused: true},
		canPlay: make(map[string]bool),
		subs:    make(map[int]func(lifecycle.SurfaceEvent)),
		done:    make(chan struct{}),
	}
	for _, t := range DefaultMIMETypes {
		r.canPlay[t] = true
	}
	go r.readPump()
	go r.pingPump()
	return r
}

// SetSource implements lifecycle.MediaSurface
func (r *Remote) SetSource(url string) error {
	return r.send(Command{Command: CommandSetSource, URL: url})
}

// Play implements lifecycle.MediaSurface
func (r *Remote) Play() error {
	return r.send(Command{Command: CommandPlay})
}

// Pause implements lifecycle.MediaSurface
func (r *Remote) Pause() error {
	return r.send(Command{Command: CommandPause})
}

// SetVolume implements lifecycle.MediaSurface
func (r *Remote) SetVolume(volume float64) error {
	return r.send(Command{Command: CommandSetVolume, Volume: &volume})
}

// SetMuted implements lifecycle.MediaSurface
func (r *Remote) SetMuted(muted bool) error {
	return r.send(Command{Command: CommandSetMuted, Muted: &muted})
}

// Notify forwards a run notification to the page for display
func (r *Remote) Notify(n lifecycle.Notification) error {
	return r.send(Command{Command: CommandNotify, Notification: &n})
}

// Telemetry returns the last reported telemetry
func (r *Remote) Telemetry() lifecycle.Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tel
}

// CanPlay answers from the page's capability report, or the defaults
func (r *Remote) CanPlay(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canPlay[mt]
}

// Subscribe implements lifecycle.MediaSurface
func (r *Remote) Subscribe(fn func(lifecycle.SurfaceEvent)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Done is closed when the page has gone away
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Close closes the connection
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	return r.conn.Close()
}

func (r *Remote) send(cmd Command) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

func (r *Remote) readPump() {
	defer func() {
		close(r.done)
		_ = r.conn.Close()
	}()

	r.conn.SetReadLimit(maxMessageSize)
	_ = r.conn.SetReadDeadline(time.Now().Add(pongWait))
	r.conn.SetPongHandler(func(string) error {
		return r.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Warn("player connection closed unexpectedly", log.Error(err))
			}
			return
		}
		var rep Report
		if err := json.Unmarshal(data, &rep); err != nil {
			r.log.Debug("dropping undecodable player report", log.Error(err))
			continue
		}
		r.receive(rep)
	}
}

// receive applies one report and fans it out as a surface event
func (r *Remote) receive(rep Report) {
	if rep.Type == TypeCapabilities {
		r.mu.Lock()
		r.canPlay = make(map[string]bool, len(rep.MIMETypes))
		for _, t := range rep.MIMETypes {
			r.canPlay[strings.ToLower(t)] = true
		}
		r.mu.Unlock()
		return
	}
	typ := lifecycle.SurfaceEventType(rep.Type)
	if !knownEvent(typ) {
		r.log.Debug("ignoring unknown player report", log.String("type", rep.Type))
		return
	}

	tel := rep.Telemetry.telemetry()
	r.mu.Lock()
	r.tel = tel
	subs := make([]func(lifecycle.SurfaceEvent), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	ev := lifecycle.SurfaceEvent{Type: typ, Telemetry: tel, Message: rep.Message}
	for _, fn := range subs {
		fn(ev)
	}
}

func (r *Remote) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.writeMu.Lock()
			_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := r.conn.WriteMessage(websocket.PingMessage, nil)
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func knownEvent(t lifecycle.SurfaceEventType) bool {
	switch t {
	case lifecycle.SurfaceLoaded, lifecycle.SurfacePlaying, lifecycle.SurfacePaused,
		lifecycle.SurfaceTimeUpdate, lifecycle.SurfaceEnded, lifecycle.SurfaceErrored,
		lifecycle.SurfaceVolumeChange:
		return true
	}
	return false
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
