// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package player

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/vastinspect/pkg/lifecycle"
	"github.com/luxfi/vastinspect/pkg/log"
)

// dialRemote returns a Remote on the server side and the page's end
func dialRemote(t *testing.T) (*Remote, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	remotes := make(chan *Remote, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		remotes <- NewRemote(conn, log.NoOp())
	}))
	t.Cleanup(srv.Close)

	page, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { page.Close() })

	select {
	case r := <-remotes:
		t.Cleanup(func() { r.Close() })
		return r, page
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil, nil
	}
}

func readCommand(t *testing.T, page *websocket.Conn) Command {
	t.Helper()
	require.NoError(t, page.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := page.ReadMessage()
	require.NoError(t, err)
	var cmd Command
	require.NoError(t, json.Unmarshal(data, &cmd))
	return cmd
}

func TestRemote_Commands(t *testing.T) {
	r, page := dialRemote(t)

	require.NoError(t, r.SetSource("https://cdn.example.com/ad.mp4"))
	require.NoError(t, r.Play())
	require.NoError(t, r.SetVolume(0.5))
	require.NoError(t, r.SetMuted(true))
	require.NoError(t, r.Notify(lifecycle.Notification{Type: "impression", Message: "impression, 1 url(s) fired"}))

	cmd := readCommand(t, page)
	assert.Equal(t, CommandSetSource, cmd.Command)
	assert.Equal(t, "https://cdn.example.com/ad.mp4", cmd.URL)
	assert.Equal(t, CommandPlay, readCommand(t, page).Command)

	cmd = readCommand(t, page)
	require.NotNil(t, cmd.Volume)
	assert.InDelta(t, 0.5, *cmd.Volume, 1e-9)

	cmd = readCommand(t, page)
	require.NotNil(t, cmd.Muted)
	assert.True(t, *cmd.Muted)

	cmd = readCommand(t, page)
	require.NotNil(t, cmd.Notification)
	assert.Equal(t, "impression", cmd.Notification.Type)

	require.NoError(t, r.Close())
	require.ErrorIs(t, r.Pause(), ErrClosed)
}

func TestRemote_Reports(t *testing.T) {
	r, page := dialRemote(t)
	events := make(chan lifecycle.SurfaceEvent, 4)
	r.Subscribe(func(ev lifecycle.SurfaceEvent) { events <- ev })

	write := func(rep Report) {
		data, err := json.Marshal(rep)
		require.NoError(t, err)
		require.NoError(t, page.WriteMessage(websocket.TextMessage, data))
	}

	write(Report{Type: TypeCapabilities, MIMETypes: []string{"video/ogg"}})
	write(Report{Type: "bogus"})
	write(Report{Type: "timeupdate", Telemetry: WireTelemetry{CurrentTime: 2.5, Duration: 10, Volume: 1, Width: 640, Height: 360}})

	select {
	case ev := <-events:
		assert.Equal(t, lifecycle.SurfaceTimeUpdate, ev.Type)
		assert.Equal(t, 2500*time.Millisecond, ev.Telemetry.Position)
		assert.Equal(t, 10*time.Second, ev.Telemetry.Duration)
	case <-time.After(2 * time.Second):
		t.Fatal("no surface event")
	}

	assert.Equal(t, 2500*time.Millisecond, r.Telemetry().Position)
	assert.True(t, r.CanPlay("video/ogg"))
	assert.False(t, r.CanPlay("video/mp4"))
	assert.Empty(t, events)

	page.Close()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote did not notice the page leaving")
	}
}
