// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const shortAd = `<VAST version="4.2">
  <Ad id="cli-1">
    <InLine>
      <AdSystem>acme</AdSystem>
      <AdTitle>Short</AdTitle>
      <Impression><![CDATA[https://t.example.com/imp?cb=[CACHEBUSTING]]]></Impression>
      <Creatives>
        <Creative id="c1">
          <Linear>
            <Duration>00:00:02</Duration>
            <TrackingEvents>
              <Tracking event="start"><![CDATA[https://t.example.com/start?x=[FOO]]]></Tracking>
              <Tracking event="complete"><![CDATA[https://t.example.com/complete]]></Tracking>
            </TrackingEvents>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="640" height="360"><![CDATA[https://cdn.example.com/a.mp4]]></MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--no-color"))
	err := root.Execute()
	return out.String(), err
}

func TestExtract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ad.xml")
	require.NoError(t, os.WriteFile(path, []byte(shortAd), 0o600))

	out, err := execute(t, "", "extract", path)
	require.NoError(t, err)
	require.Contains(t, out, "VAST 4.2, 1 ad(s)")
	require.Contains(t, out, "Ad cli-1 (inline) by acme")
	require.Contains(t, out, "[video/mp4 640x360]")
	require.Contains(t, out, "unknown macros: [FOO]")
}

func TestExtract_JSONFromStdin(t *testing.T) {
	out, err := execute(t, shortAd, "extract", "--json", "-")
	require.NoError(t, err)

	var got struct {
		UnknownMacros []string `json:"unknownMacros"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, []string{"[FOO]"}, got.UnknownMacros)
}

func TestExtract_NotAnAd(t *testing.T) {
	_, err := execute(t, "<html/>", "extract", "-")
	require.Error(t, err)
}

func TestSimulate_DryRun(t *testing.T) {
	out, err := execute(t, shortAd, "simulate", "--dry-run", "--json", "--tick", "10ms", "--speed", "50", "-")
	require.NoError(t, err)

	var snap struct {
		State    string `json:"state"`
		Counters struct {
			Dispatched int `json:"dispatched"`
			Succeeded  int `json:"succeeded"`
		} `json:"counters"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Equal(t, "ended", snap.State)
	require.Equal(t, 3, snap.Counters.Dispatched)
	require.Equal(t, 3, snap.Counters.Succeeded)
}

func TestSimulate_BidRequestSeedsMacros(t *testing.T) {
	const ad = `<VAST version="4.0"><Ad id="br"><InLine>
  <Creatives><Creative id="c1"><Linear>
    <Duration>00:00:01</Duration>
    <TrackingEvents>
      <Tracking event="complete"><![CDATA[https://t.example.com/complete?ps=[PLAYERSIZE]&page=[PAGEURL]]]></Tracking>
    </TrackingEvents>
    <MediaFiles><MediaFile type="video/mp4"><![CDATA[https://cdn.example.com/a.mp4]]></MediaFile></MediaFiles>
  </Linear></Creative></Creatives>
</InLine></Ad></VAST>`
	const bidRequest = `{
  "id": "br-1",
  "imp": [{"id": "1", "video": {"mimes": ["video/mp4"], "w": 1280, "h": 720}}],
  "site": {"page": "https://news.example.com/story", "domain": "news.example.com"}
}`
	path := filepath.Join(t.TempDir(), "bid.json")
	require.NoError(t, os.WriteFile(path, []byte(bidRequest), 0o600))

	out, err := execute(t, ad, "simulate", "--dry-run", "--json", "--bid-request", path, "--tick", "10ms", "--speed", "50", "-")
	require.NoError(t, err)

	var snap struct {
		Records []struct {
			Event       string `json:"event"`
			ResolvedURL string `json:"resolvedUrl"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Records, 1)
	require.Equal(t, "complete", snap.Records[0].Event)
	require.Equal(t, "https://t.example.com/complete?ps=1280x720&page=https%3A%2F%2Fnews.example.com%2Fstory", snap.Records[0].ResolvedURL)
}

func TestBidRequest_Unreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bid.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := execute(t, shortAd, "extract", "--bid-request", path, "-")
	require.ErrorContains(t, err, "decode bid request")
}

func TestExtract_ShowsFrameworkID(t *testing.T) {
	const ad = `<VAST version="4.1"><Ad id="i"><InLine><Creatives><Creative><Linear>
  <Duration>00:00:10</Duration>
  <MediaFiles>
    <MediaFile type="video/mp4" width="640" height="360"><![CDATA[https://cdn.example.com/a.mp4]]></MediaFile>
    <InteractiveCreativeFile type="text/html" apiFramework="SIMID-1.1"><![CDATA[https://cdn.example.com/simid.html]]></InteractiveCreativeFile>
  </MediaFiles>
</Linear></Creative></Creatives></InLine></Ad></VAST>`

	out, err := execute(t, ad, "extract", "-")
	require.NoError(t, err)
	require.Contains(t, out, "[interactive SIMID-1.1 adcom:9]")
}
