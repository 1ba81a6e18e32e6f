// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vast

import (
	"time"

	"github.com/prebid/openrtb/v20/adcom1"
	"github.com/shopspring/decimal"
)

// Document is the extracted model of one VAST response
type Document struct {
	Version string `json:"version"`
	Ads     []Ad   `json:"ads"`
}

// Variant tells an InLine ad from a Wrapper
type Variant string

const (
	VariantInline  Variant = "inline"
	VariantWrapper Variant = "wrapper"
	VariantUnknown Variant = "unknown"
)

// Ad represents one VAST advertisement (ad unit)
type Ad struct {
	ID       string  `json:"id"`
	Sequence *int    `json:"sequence,omitempty"`
	Variant  Variant `json:"variant"`

	AdSystem    AdSystem `json:"adSystem"`
	AdTitle     string   `json:"adTitle,omitempty"`
	Description string   `json:"description,omitempty"`
	Advertiser  string   `json:"advertiser,omitempty"`
	Pricing     *Pricing `json:"pricing,omitempty"`

	Impressions []URLEntry `json:"impressions,omitempty"`
	Errors      []URLEntry `json:"errors,omitempty"`
	Creatives   []Creative `json:"creatives,omitempty"`

	// Wrapper only; never followed here
	VASTAdTagURI   string `json:"vastAdTagURI,omitempty"`
	FallbackOnNoAd bool   `json:"fallbackOnNoAd,omitempty"`
}

// AdSystem info
type AdSystem struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Pricing information
type Pricing struct {
	Model    string          `json:"model,omitempty"`
	Currency string          `json:"currency,omitempty"`
	Value    decimal.Decimal `json:"value"`
	Raw      string          `json:"raw,omitempty"`
	Valid    bool            `json:"valid"`
}

// URLEntry is a declared URL with its optional id attribute
type URLEntry struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

// CreativeKind is the creative variant
type CreativeKind string

const (
	KindLinear    CreativeKind = "linear"
	KindNonLinear CreativeKind = "nonLinear"
	KindCompanion CreativeKind = "companion"
	KindUnknown   CreativeKind = "unknown"
)

// Creative element
type Creative struct {
	ID         string       `json:"id,omitempty"`
	AdID       string       `json:"adId,omitempty"`
	Sequence   *int         `json:"sequence,omitempty"`
	Kind       CreativeKind `json:"kind"`
	Linear     *Linear      `json:"linear,omitempty"`
	NonLinears []NonLinear  `json:"nonLinears,omitempty"`
	Companions []Companion  `json:"companions,omitempty"`

	// Tracking declared at NonLinearAds level
	Tracking []TrackingEntry `json:"tracking,omitempty"`
}

// Linear video ad
type Linear struct {
	Duration     time.Duration   `json:"duration"`
	DurationRaw  string          `json:"durationRaw,omitempty"`
	SkipOffset   *Offset         `json:"skipOffset,omitempty"`
	AdParameters string          `json:"adParameters,omitempty"`
	MediaFiles   []MediaFile     `json:"mediaFiles,omitempty"`
	ClickThrough *URLEntry       `json:"clickThrough,omitempty"`
	ClickTrack   []URLEntry      `json:"clickTracking,omitempty"`
	CustomClicks []URLEntry      `json:"customClicks,omitempty"`
	Tracking     []TrackingEntry `json:"tracking,omitempty"`
}

// TrackingEntry is a <Tracking> element
type TrackingEntry struct {
	Event  string  `json:"event"`
	Offset *Offset `json:"offset,omitempty"`
	URL    string  `json:"url"`
}

// NonLinear ad
type NonLinear struct {
	ID           string     `json:"id,omitempty"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	APIFramework string     `json:"apiFramework,omitempty"`
	Resource     Resource   `json:"resource"`
	ClickThrough *URLEntry  `json:"clickThrough,omitempty"`
	ClickTrack   []URLEntry `json:"clickTracking,omitempty"`
}

// Companion ad
type Companion struct {
	ID           string          `json:"id,omitempty"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	AdSlotID     string          `json:"adSlotId,omitempty"`
	APIFramework string          `json:"apiFramework,omitempty"`
	Resource     Resource        `json:"resource"`
	AltText      string          `json:"altText,omitempty"`
	ClickThrough *URLEntry       `json:"clickThrough,omitempty"`
	ClickTrack   []URLEntry      `json:"clickTracking,omitempty"`
	Tracking     []TrackingEntry `json:"tracking,omitempty"`
}

// Resource is the static/iframe/html payload of a non-linear or companion
type Resource struct {
	Kind         string `json:"kind,omitempty"` // static, iframe, html
	CreativeType string `json:"creativeType,omitempty"`
	Value        string `json:"value,omitempty"`
}

// MediaFile represents a video file or an interactive creative file
type MediaFile struct {
	ID           string `json:"id,omitempty"`
	URL          string `json:"url"`
	Delivery     string `json:"delivery,omitempty"`
	MIMEType     string `json:"type,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Bitrate      int    `json:"bitrate,omitempty"`
	Codec        string `json:"codec,omitempty"`
	APIFramework string `json:"apiFramework,omitempty"`

	// Classification, computed once at extraction. Framework is zero when
	// APIFramework names no AdCOM framework.
	Framework               adcom1.APIFramework `json:"apiFrameworkId,omitempty"`
	RequiresExternalRuntime bool                `json:"requiresExternalRuntime"`
	Interactive             bool                `json:"interactive"`
}

// Offset is a timecode or percentage offset (skipoffset, progress tracking)
type Offset struct {
	Duration time.Duration `json:"duration,omitempty"`
	Percent  float64       `json:"percent,omitempty"`
	IsPct    bool          `json:"isPercent,omitempty"`
	Raw      string        `json:"raw"`
	Invalid  bool          `json:"invalid,omitempty"` // Raw unparsable, never reached
}

// Reached reports whether position has reached the offset given the duration
func (o *Offset) Reached(position, duration time.Duration) bool {
	if o == nil || o.Invalid {
		return false
	}
	if o.IsPct {
		if duration <= 0 {
			return false
		}
		return float64(position)/float64(duration) >= o.Percent
	}
	return position >= o.Duration
}

// LinearDuration is the declared duration of the first linear creative in
// the document, the one playback selects. Zero when there is none.
func (d *Document) LinearDuration() time.Duration {
	if d == nil {
		return 0
	}
	for i := range d.Ads {
		if cr, ok := d.Ads[i].FirstLinear(); ok {
			return cr.Linear.Duration
		}
	}
	return 0
}

// FirstLinear returns the first linear creative of the ad
func (a *Ad) FirstLinear() (*Creative, bool) {
	for i := range a.Creatives {
		if a.Creatives[i].Linear != nil {
			return &a.Creatives[i], true
		}
	}
	return nil, false
}
