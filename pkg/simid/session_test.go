// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simid_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/vastinspect/internal/testing/channel"
	"github.com/luxfi/vastinspect/internal/testing/dispatch"
	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/lifecycle"
	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/simid"
	"github.com/luxfi/vastinspect/pkg/vast"
)

const wait = 2 * time.Second

type fakeMedia struct {
	mu       sync.Mutex
	tel      lifecycle.Telemetry
	commands []string
}

func (m *fakeMedia) record(c string) error {
	m.mu.Lock()
	m.commands = append(m.commands, c)
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) Play() error  { return m.record("play") }
func (m *fakeMedia) Pause() error { return m.record("pause") }
func (m *fakeMedia) SetVolume(v float64) error {
	m.mu.Lock()
	m.tel.Volume = v
	m.mu.Unlock()
	return m.record("volume")
}
func (m *fakeMedia) SetMuted(muted bool) error {
	m.mu.Lock()
	m.tel.Muted = muted
	m.mu.Unlock()
	return m.record("muted")
}
func (m *fakeMedia) Telemetry() lifecycle.Telemetry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tel
}
func (m *fakeMedia) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

type fixture struct {
	ch     *channel.Fake
	media  *fakeMedia
	rec    *dispatch.Recorder
	ledger *ledger.Ledger
	s      *simid.Session
}

func newFixture(t *testing.T, opts ...simid.Option) *fixture {
	t.Helper()
	f := &fixture{
		ch:    channel.New(),
		media: &fakeMedia{tel: lifecycle.Telemetry{Position: 3 * time.Second, Duration: 15 * time.Second, Volume: 1, Width: 640, Height: 360}},
		rec:   dispatch.New(),
	}
	f.ledger = ledger.New(ledger.WithDispatcher(f.rec))
	creative := simid.Creative{
		URL:          "https://cdn.example.com/simid.html",
		AdID:         "ad-1",
		CreativeID:   "cr-1",
		AdParameters: `{"theme":"dark"}`,
		ClickThrough: "https://acme.example.com/",
	}
	opts = append([]simid.Option{
		simid.WithSettleDelay(5 * time.Millisecond),
		simid.WithEnvironment(macro.Context{PageURL: "https://news.example.com/"}),
	}, opts...)
	f.s = simid.NewSession(f.ch, f.media, f.ledger, creative, opts...)
	return f
}

// msg builds an inbound message for the fixture's session
func (f *fixture) msg(id int64, typ simid.MessageType, args any) simid.Message {
	m := simid.Message{SessionID: f.s.ID(), MessageID: id, Type: typ, Timestamp: time.Now().UnixMilli()}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			panic(err)
		}
		m.Args = raw
	}
	return m
}

func (f *fixture) activate(t *testing.T) {
	t.Helper()
	f.s.Start()
	init, ok := f.ch.WaitFor(simid.SessionInit, wait)
	require.True(t, ok, "init not sent")
	assert.Equal(t, simid.StateInitializing, f.s.State())

	f.ch.Deliver(f.msg(1, simid.Resolve, simid.ResolveArgs{MessageID: init.MessageID}))
	_, ok = f.ch.WaitFor(simid.SessionStart, wait)
	require.True(t, ok, "start not sent")
	require.Equal(t, simid.StateActive, f.s.State())
}

// resolveFor finds the resolve answering messageId
func (f *fixture) resolveFor(t *testing.T, messageID int64) (simid.Message, bool) {
	t.Helper()
	for _, m := range f.ch.Sent() {
		if m.Type != simid.Resolve {
			continue
		}
		var args struct {
			MessageID int64 `json:"messageId"`
		}
		require.NoError(t, m.Decode(&args))
		if args.MessageID == messageID {
			return m, true
		}
	}
	return simid.Message{}, false
}

func TestSession_Handshake(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, simid.StateUninitialized, f.s.State())
	f.activate(t)

	init, _ := f.ch.WaitFor(simid.SessionInit, wait)
	assert.Equal(t, f.s.ID(), init.SessionID)
	var args simid.InitArgs
	require.NoError(t, init.Decode(&args))
	assert.Equal(t, `{"theme":"dark"}`, args.CreativeData.AdParameters)
	assert.Equal(t, "https://acme.example.com/", args.CreativeData.ClickThruURL)
	assert.Equal(t, "1.1", args.EnvironmentData.Version)
	assert.Equal(t, 640, args.EnvironmentData.VideoDimensions.Width)
	assert.Equal(t, "https://news.example.com/", args.EnvironmentData.SiteURL)
	assert.Empty(t, args.EnvironmentData.DeviceID)

	ids := map[int64]bool{}
	for _, m := range f.ch.Sent() {
		assert.False(t, ids[m.MessageID], "message id reused")
		ids[m.MessageID] = true
	}
}

func TestSession_UniqueIDs(t *testing.T) {
	a := newFixture(t)
	b := newFixture(t)
	assert.NotEqual(t, a.s.ID(), b.s.ID())
	assert.NotEmpty(t, a.s.ID())
}

func TestSession_ForeignSessionIgnored(t *testing.T) {
	f := newFixture(t)
	f.s.Start()
	init, ok := f.ch.WaitFor(simid.SessionInit, wait)
	require.True(t, ok)

	foreign := f.msg(7, simid.Resolve, simid.ResolveArgs{MessageID: init.MessageID})
	foreign.SessionID = "someone-else"
	f.ch.Deliver(foreign)
	assert.Equal(t, simid.StateInitializing, f.s.State())

	f.activate(t)
	before := len(f.ch.Sent())
	pause := f.msg(8, simid.CreativeRequestPause, nil)
	pause.SessionID = "someone-else"
	f.ch.Deliver(pause)

	assert.Empty(t, f.media.Commands())
	assert.Len(t, f.ch.Sent(), before)
	assert.Equal(t, simid.StateActive, f.s.State())
}

func TestSession_ReportTrackingSharesLedger(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	shared := "https://t.example.com/shared"
	require.True(t, f.ledger.Fire(shared, vast.CategoryImpression, "", macro.Context{}))

	f.ch.Deliver(f.msg(20, simid.CreativeReportTracking, simid.ReportTrackingArgs{
		TrackingURLs: []string{shared, "https://t.example.com/interaction?t=[CONTENTPLAYHEAD]"},
	}))
	f.ledger.Wait()

	_, ok := f.resolveFor(t, 20)
	assert.True(t, ok)

	records := f.ledger.Records()
	require.Len(t, records, 2)
	var relayed []ledger.FiringRecord
	for _, r := range records {
		if r.Category == vast.CategoryRelayed {
			relayed = append(relayed, r)
		}
	}
	require.Len(t, relayed, 1)
	assert.Equal(t, "https://t.example.com/interaction?t=00:00:03.000", relayed[0].ResolvedURL)
	assert.Equal(t, uint64(1), f.ledger.Counters().Duplicates)
}

func TestSession_MediaRequests(t *testing.T) {
	skipped := false
	f := newFixture(t, simid.WithSkip(func() error { skipped = true; return nil }))
	f.activate(t)

	f.ch.Deliver(f.msg(30, simid.CreativeRequestPause, nil))
	f.ch.Deliver(f.msg(31, simid.CreativeRequestPlay, nil))
	f.ch.Deliver(f.msg(32, simid.CreativeRequestChangeVolume, simid.ChangeVolumeArgs{Volume: 0.25, Muted: true}))
	f.ch.Deliver(f.msg(33, simid.CreativeGetMediaState, nil))
	f.ch.Deliver(f.msg(34, simid.CreativeRequestSkip, nil))

	assert.Equal(t, []string{"pause", "play", "volume", "muted"}, f.media.Commands())
	assert.True(t, skipped)

	for id := int64(30); id <= 34; id++ {
		_, ok := f.resolveFor(t, id)
		assert.True(t, ok, "no resolve for %d", id)
	}

	state, _ := f.resolveFor(t, 33)
	var args struct {
		MessageID int64            `json:"messageId"`
		Value     simid.MediaState `json:"value"`
	}
	require.NoError(t, state.Decode(&args))
	assert.InDelta(t, 3.0, args.Value.CurrentTime, 1e-9)
	assert.InDelta(t, 15.0, args.Value.Duration, 1e-9)
	assert.True(t, args.Value.Muted)
	assert.InDelta(t, 0.25, args.Value.Volume, 1e-9)
	assert.Equal(t, "https://cdn.example.com/simid.html", args.Value.CurrentSrc)

	assert.Equal(t, simid.StateActive, f.s.State())
	for _, m := range f.ch.Sent() {
		assert.NotEqual(t, simid.Reject, m.Type)
	}
}

func TestSession_UnknownTypeIgnored(t *testing.T) {
	f := newFixture(t)
	f.activate(t)
	before := len(f.ch.Sent())

	f.ch.Deliver(f.msg(40, simid.MessageType("Creative.requestTeleport"), nil))
	assert.Len(t, f.ch.Sent(), before)
	assert.Equal(t, simid.StateActive, f.s.State())
}

func TestSession_Terminate(t *testing.T) {
	f := newFixture(t)
	f.activate(t)
	require.Equal(t, 1, f.ch.Subscribers())

	f.s.Terminate()
	assert.Equal(t, simid.StateTerminated, f.s.State())
	assert.Zero(t, f.ch.Subscribers())
	_, ok := f.ch.WaitFor(simid.SessionStop, wait)
	assert.True(t, ok)

	require.ErrorIs(t, f.s.SendVideoEvent("timeupdate"), simid.ErrSessionClosed)
	f.s.Terminate()
}

func TestSession_TerminateBeforeInit(t *testing.T) {
	f := newFixture(t, simid.WithSettleDelay(50*time.Millisecond))
	f.s.Start()
	f.s.Terminate()

	_, ok := f.ch.WaitFor(simid.SessionInit, 150*time.Millisecond)
	assert.False(t, ok)
	for _, m := range f.ch.Sent() {
		assert.NotEqual(t, simid.SessionStop, m.Type)
	}
}

func TestSession_CreativeEndsSession(t *testing.T) {
	for _, typ := range []simid.MessageType{simid.SessionFatal, simid.SessionStop, simid.SessionSkip} {
		t.Run(string(typ), func(t *testing.T) {
			f := newFixture(t)
			f.activate(t)

			f.ch.Deliver(f.msg(50, typ, simid.FatalArgs{ErrorCode: 1100, ErrorMessage: "boom"}))
			_, ok := f.resolveFor(t, 50)
			assert.True(t, ok)
			assert.Equal(t, simid.StateTerminated, f.s.State())
			assert.Zero(t, f.ch.Subscribers())
			for _, m := range f.ch.Sent() {
				assert.NotEqual(t, simid.SessionStop, m.Type)
			}
		})
	}
}

func TestSession_VideoEvent(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.s.SendVideoEvent("play"), simid.ErrSessionClosed)

	f.activate(t)
	require.NoError(t, f.s.SendVideoEvent("timeupdate"))
	ev, ok := f.ch.WaitFor(simid.VideoEvent, wait)
	require.True(t, ok)
	var state simid.MediaState
	require.NoError(t, ev.Decode(&state))
	assert.Equal(t, "timeupdate", state.EventType)
	assert.InDelta(t, 3.0, state.CurrentTime, 1e-9)
}

func TestWSChannel(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	media := &fakeMedia{tel: lifecycle.Telemetry{Volume: 1}}
	rec := dispatch.New()
	l := ledger.New(ledger.WithDispatcher(rec))
	sessions := make(chan *simid.Session, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ch := simid.NewWSChannel(conn, log.NoOp())
		s := simid.NewSession(ch, media, l, simid.Creative{URL: "https://cdn.example.com/simid.html"},
			simid.WithSettleDelay(time.Millisecond))
		s.Start()
		sessions <- s
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() simid.Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m simid.Message
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
	write := func(m simid.Message) {
		t.Helper()
		data, err := json.Marshal(m)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	}

	init := read()
	require.Equal(t, simid.SessionInit, init.Type)
	args, err := json.Marshal(simid.ResolveArgs{MessageID: init.MessageID})
	require.NoError(t, err)
	write(simid.Message{SessionID: init.SessionID, MessageID: 1, Type: simid.Resolve, Args: args})

	start := read()
	assert.Equal(t, simid.SessionStart, start.Type)
	assert.Equal(t, init.SessionID, start.SessionID)

	write(simid.Message{SessionID: init.SessionID, MessageID: 2, Type: simid.CreativeRequestPlay})
	resolve := read()
	assert.Equal(t, simid.Resolve, resolve.Type)
	assert.Equal(t, []string{"play"}, media.Commands())

	s := <-sessions
	assert.Equal(t, simid.StateActive, s.State())
	s.Terminate()
	stop := read()
	assert.Equal(t, simid.SessionStop, stop.Type)
}
