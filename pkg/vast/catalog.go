// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vast

import (
	"sort"

	"github.com/luxfi/vastinspect/pkg/macro"
)

// Category names a tracking bucket. It is also the category recorded by
// the firing ledger.
type Category string

const (
	CategoryImpression    Category = "impression"
	CategoryClickThrough  Category = "clickThrough"
	CategoryClickTracking Category = "clickTracking"
	CategoryEvent         Category = "event"
	CategoryError         Category = "error"
	CategoryRelayed       Category = "relayed"
)

// Lifecycle event names
const (
	EventStart          = "start"
	EventFirstQuartile  = "firstQuartile"
	EventMidpoint       = "midpoint"
	EventThirdQuartile  = "thirdQuartile"
	EventComplete       = "complete"
	EventPause          = "pause"
	EventResume         = "resume"
	EventMute           = "mute"
	EventUnmute         = "unmute"
	EventSkip           = "skip"
	EventProgress       = "progress"
	EventFullscreen     = "fullscreen"
	EventExitFullscreen = "exitFullscreen"
	EventCreativeView   = "creativeView"
)

// customClick labels CustomClick entries so they are not fired with
// ordinary click tracking
const customClick = "customClick"

// Entry is one catalogued URL. URL is the raw declared value, macros
// un-substituted.
type Entry struct {
	URL        string       `json:"url"`
	Category   Category     `json:"category"`
	Event      string       `json:"event,omitempty"`
	ID         string       `json:"id,omitempty"`
	AdID       string       `json:"adId,omitempty"`
	CreativeID string       `json:"creativeId,omitempty"`
	Kind       CreativeKind `json:"creativeKind,omitempty"`
	Offset     *Offset      `json:"offset,omitempty"`
}

// Catalog is the flattened, categorized projection of every tracking URL
// in a document. Entries are never deduplicated.
type Catalog struct {
	Impressions []Entry            `json:"impressions"`
	Clicks      []Entry            `json:"clicks"`
	Events      map[string][]Entry `json:"lifecycleEvents"`
	Errors      []Entry            `json:"errors"`
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{Events: make(map[string][]Entry)}
}

// Event returns the entries declared for a lifecycle event
func (c *Catalog) Event(name string) []Entry {
	if c == nil {
		return nil
	}
	return c.Events[name]
}

// ClickThrough returns the first click-through entry of the given creative kind
func (c *Catalog) ClickThrough(kind CreativeKind) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	for _, e := range c.Clicks {
		if e.Category == CategoryClickThrough && e.Kind == kind {
			return e, true
		}
	}
	return Entry{}, false
}

// ClickTracking returns every click-tracking entry of the given creative kind
func (c *Catalog) ClickTracking(kind CreativeKind) []Entry {
	if c == nil {
		return nil
	}
	var out []Entry
	for _, e := range c.Clicks {
		if e.Category == CategoryClickTracking && e.Kind == kind && e.Event == "" {
			out = append(out, e)
		}
	}
	return out
}

// Len counts all entries
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	n := len(c.Impressions) + len(c.Clicks) + len(c.Errors)
	for _, es := range c.Events {
		n += len(es)
	}
	return n
}

// URLs lists every raw URL in catalog order (impressions, clicks, events, errors)
func (c *Catalog) URLs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, c.Len())
	for _, e := range c.Impressions {
		out = append(out, e.URL)
	}
	for _, e := range c.Clicks {
		out = append(out, e.URL)
	}
	for _, name := range sortedKeys(c.Events) {
		for _, e := range c.Events[name] {
			out = append(out, e.URL)
		}
	}
	for _, e := range c.Errors {
		out = append(out, e.URL)
	}
	return out
}

// UnknownMacros lists bracketed tokens in catalogued URLs that the macro
// engine will leave unsubstituted
func (c *Catalog) UnknownMacros() []string {
	return macro.Unknown(c.URLs())
}

func (c *Catalog) addImpression(ad *Ad, u URLEntry) {
	c.Impressions = append(c.Impressions, Entry{URL: u.URL, Category: CategoryImpression, ID: u.ID, AdID: ad.ID})
}

func (c *Catalog) addError(ad *Ad, u URLEntry) {
	c.Errors = append(c.Errors, Entry{URL: u.URL, Category: CategoryError, ID: u.ID, AdID: ad.ID})
}

func (c *Catalog) addClick(ad *Ad, cr *Creative, kind CreativeKind, cat Category, u URLEntry) {
	c.Clicks = append(c.Clicks, Entry{URL: u.URL, Category: cat, ID: u.ID, AdID: ad.ID, CreativeID: cr.ID, Kind: kind})
}

func (c *Catalog) addTracking(ad *Ad, cr *Creative, kind CreativeKind, t TrackingEntry) {
	c.Events[t.Event] = append(c.Events[t.Event], Entry{
		URL:        t.URL,
		Category:   CategoryEvent,
		Event:      t.Event,
		AdID:       ad.ID,
		CreativeID: cr.ID,
		Kind:       kind,
		Offset:     t.Offset,
	})
}

// CatalogForAd projects a single ad's nested structure into a catalog
func CatalogForAd(ad *Ad) *Catalog {
	c := NewCatalog()
	c.appendAd(ad)
	return c
}

func (c *Catalog) appendAd(ad *Ad) {
	for _, u := range ad.Impressions {
		c.addImpression(ad, u)
	}
	for i := range ad.Creatives {
		cr := &ad.Creatives[i]
		c.addLinear(ad, cr)
		for _, nl := range cr.NonLinears {
			if nl.ClickThrough != nil {
				c.addClick(ad, cr, KindNonLinear, CategoryClickThrough, *nl.ClickThrough)
			}
			for _, u := range nl.ClickTrack {
				c.addClick(ad, cr, KindNonLinear, CategoryClickTracking, u)
			}
		}
		for _, t := range cr.Tracking {
			c.addTracking(ad, cr, KindNonLinear, t)
		}
		for _, cp := range cr.Companions {
			if cp.ClickThrough != nil {
				c.addClick(ad, cr, KindCompanion, CategoryClickThrough, *cp.ClickThrough)
			}
			for _, u := range cp.ClickTrack {
				c.addClick(ad, cr, KindCompanion, CategoryClickTracking, u)
			}
			for _, t := range cp.Tracking {
				c.addTracking(ad, cr, KindCompanion, t)
			}
		}
	}
	for _, u := range ad.Errors {
		c.addError(ad, u)
	}
}

// ForLinear narrows an ad catalog to what playback of one linear creative
// may fire: the ad's impressions and errors plus that creative's own clicks
// and tracking. Other creatives of the ad are never fired by playback.
func (c *Catalog) ForLinear(ad *Ad, cr *Creative) *Catalog {
	out := NewCatalog()
	if c != nil {
		out.Impressions = append(out.Impressions, c.Impressions...)
		out.Errors = append(out.Errors, c.Errors...)
	}
	if ad != nil && cr != nil {
		out.addLinear(ad, cr)
	}
	return out
}

func (c *Catalog) addLinear(ad *Ad, cr *Creative) {
	l := cr.Linear
	if l == nil {
		return
	}
	if l.ClickThrough != nil {
		c.addClick(ad, cr, KindLinear, CategoryClickThrough, *l.ClickThrough)
	}
	for _, u := range l.ClickTrack {
		c.addClick(ad, cr, KindLinear, CategoryClickTracking, u)
	}
	for _, u := range l.CustomClicks {
		c.Clicks = append(c.Clicks, Entry{
			URL:        u.URL,
			Category:   CategoryClickTracking,
			Event:      customClick,
			ID:         u.ID,
			AdID:       ad.ID,
			CreativeID: cr.ID,
			Kind:       KindLinear,
		})
	}
	for _, t := range l.Tracking {
		c.addTracking(ad, cr, KindLinear, t)
	}
}

func sortedKeys(m map[string][]Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
