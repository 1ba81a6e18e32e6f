// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lifecycle

import "time"

// Telemetry is a point-in-time read of the media surface
type Telemetry struct {
	Position time.Duration `json:"position"`
	Duration time.Duration `json:"duration"`
	Volume   float64       `json:"volume"`
	Muted    bool          `json:"muted"`
	Paused   bool          `json:"paused"`
	Ended    bool          `json:"ended"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
}

// SurfaceEventType names a media surface lifecycle signal
type SurfaceEventType string

const (
	SurfaceLoaded       SurfaceEventType = "loaded"
	SurfacePlaying      SurfaceEventType = "playing"
	SurfacePaused       SurfaceEventType = "paused"
	SurfaceTimeUpdate   SurfaceEventType = "timeupdate"
	SurfaceEnded        SurfaceEventType = "ended"
	SurfaceErrored      SurfaceEventType = "error"
	SurfaceVolumeChange SurfaceEventType = "volumechange"
)

// SurfaceEvent carries the telemetry observed with the signal
type SurfaceEvent struct {
	Type      SurfaceEventType `json:"type"`
	Telemetry Telemetry        `json:"telemetry"`
	Message   string           `json:"message,omitempty"`
}

// MediaSurface is the video decode and render collaborator. Events may be
// delivered on any goroutine, including synchronously from a command method.
type MediaSurface interface {
	SetSource(url string) error
	Play() error
	Pause() error
	SetVolume(volume float64) error
	SetMuted(muted bool) error
	Telemetry() Telemetry
	// CanPlay reports whether a MIME type can be decoded
	CanPlay(mimeType string) bool
	// Subscribe registers fn for lifecycle events and returns the release func
	Subscribe(fn func(SurfaceEvent)) (unsubscribe func())
}
