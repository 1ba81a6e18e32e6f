// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simid

import (
	"github.com/goccy/go-json"
)

// MessageType is the protocol message tag
type MessageType string

// Inbound and outbound message types
const (
	SessionCreativeLoaded MessageType = "Session.creativeLoaded"
	SessionInit           MessageType = "Session.init"
	SessionStart          MessageType = "Session.start"
	SessionStop           MessageType = "Session.stop"
	SessionSkip           MessageType = "Session.skip"
	SessionFatal          MessageType = "Session.fatal"

	CreativeReportTracking      MessageType = "Creative.reportTracking"
	CreativeRequestChangeVolume MessageType = "Creative.requestChangeVolume"
	CreativeRequestPause        MessageType = "Creative.requestPause"
	CreativeRequestPlay         MessageType = "Creative.requestPlay"
	CreativeRequestSkip         MessageType = "Creative.requestSkip"
	CreativeGetMediaState       MessageType = "Creative.getMediaState"

	Resolve    MessageType = "resolve"
	Reject     MessageType = "reject"
	VideoEvent MessageType = "videoEvent"
)

// Message is the wire envelope. Timestamp is Unix milliseconds.
type Message struct {
	SessionID string          `json:"sessionId"`
	MessageID int64           `json:"messageId"`
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Decode unmarshals Args into v. Missing args leave v untouched.
func (m Message) Decode(v any) error {
	if len(m.Args) == 0 {
		return nil
	}
	return json.Unmarshal(m.Args, v)
}

// ResolveArgs answers a request
type ResolveArgs struct {
	MessageID int64 `json:"messageId"`
	Value     any   `json:"value,omitempty"`
}

// RejectArgs refuses a request
type RejectArgs struct {
	MessageID int64 `json:"messageId"`
	Value     any   `json:"value,omitempty"`
}

// correlation is the messageId half of resolve and reject, for decoding
type correlation struct {
	MessageID int64 `json:"messageId"`
}

// Dimensions of the video or creative area
type Dimensions struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EnvironmentData describes the player to the creative
type EnvironmentData struct {
	VideoDimensions         Dimensions `json:"videoDimensions"`
	CreativeDimensions      Dimensions `json:"creativeDimensions"`
	FullyFunctional         bool       `json:"fullyFunctional"`
	Muted                   bool       `json:"muted"`
	Volume                  float64    `json:"volume"`
	Version                 string     `json:"version"`
	SiteURL                 string     `json:"siteUrl,omitempty"`
	DeviceID                string     `json:"deviceId"`
	UserAgent               string     `json:"useragent,omitempty"`
	VariableDurationAllowed bool       `json:"variableDurationAllowed"`
	NavigationSupport       string     `json:"navigationSupport"`
	CloseButtonSupport      string     `json:"closeButtonSupport"`
}

// CreativeData describes the ad to the creative
type CreativeData struct {
	AdParameters string `json:"adParameters"`
	ClickThruURL string `json:"clickThruUrl,omitempty"`
	AdID         string `json:"adId,omitempty"`
	CreativeID   string `json:"creativeId,omitempty"`
}

// InitArgs is the Session.init payload
type InitArgs struct {
	EnvironmentData EnvironmentData `json:"environmentData"`
	CreativeData    CreativeData    `json:"creativeData"`
}

// ReportTrackingArgs is the Creative.reportTracking payload
type ReportTrackingArgs struct {
	TrackingURLs []string `json:"trackingUrls"`
}

// ChangeVolumeArgs is the Creative.requestChangeVolume payload
type ChangeVolumeArgs struct {
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
}

// FatalArgs is the Session.fatal payload
type FatalArgs struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// MediaState is the Creative.getMediaState reply and the videoEvent payload.
// Times are in seconds.
type MediaState struct {
	EventType   string  `json:"eventType,omitempty"`
	CurrentSrc  string  `json:"currentSrc"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Ended       bool    `json:"ended"`
	Muted       bool    `json:"muted"`
	Paused      bool    `json:"paused"`
	Volume      float64 `json:"volume"`
}
