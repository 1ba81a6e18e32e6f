// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package macro

import (
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tokens recognized in tracking URLs, matched case-insensitively inside
// square brackets
const (
	TokenCacheBusting    = "CACHEBUSTING"
	TokenTimestamp       = "TIMESTAMP"
	TokenContentPlayhead = "CONTENTPLAYHEAD"
	TokenAdPlayhead      = "ADPLAYHEAD"
	TokenAssetURI        = "ASSETURI"
	TokenPlayerWidth     = "PLAYERWIDTH"
	TokenPlayerHeight    = "PLAYERHEIGHT"
	TokenPlayerSize      = "PLAYERSIZE"
	TokenDeviceUA        = "DEVICEUA"
	TokenIFA             = "IFA"
	TokenLimitAdTracking = "LIMITADTRACKING"
	TokenPageURL         = "PAGEURL"
	TokenDomain          = "DOMAIN"
)

var tokenPattern = regexp.MustCompile(`\[([A-Za-z0-9_]+)\]`)

// Context is the playback and environment state a substitution reads
type Context struct {
	Position     time.Duration
	AssetURI     string
	PlayerWidth  int
	PlayerHeight int
	UserAgent    string
	PageURL      string
	Domain       string
}

// values holds the per-call generated values
type values struct {
	ctx       Context
	now       time.Time
	cacheBust string
}

// provider resolves one token for one call
type provider func(v *values) string

var table = map[string]provider{
	TokenCacheBusting:    func(v *values) string { return v.cacheBust },
	TokenTimestamp:       func(v *values) string { return url.QueryEscape(v.now.UTC().Format("2006-01-02T15:04:05.000Z07:00")) },
	TokenContentPlayhead: func(v *values) string { return FormatPlayhead(v.ctx.Position) },
	TokenAdPlayhead:      func(v *values) string { return FormatPlayhead(v.ctx.Position) },
	TokenAssetURI:        func(v *values) string { return url.QueryEscape(v.ctx.AssetURI) },
	TokenPlayerWidth:     func(v *values) string { return strconv.Itoa(v.ctx.PlayerWidth) },
	TokenPlayerHeight:    func(v *values) string { return strconv.Itoa(v.ctx.PlayerHeight) },
	TokenPlayerSize:      func(v *values) string { return fmt.Sprintf("%dx%d", v.ctx.PlayerWidth, v.ctx.PlayerHeight) },
	TokenDeviceUA:        func(v *values) string { return url.QueryEscape(v.ctx.UserAgent) },
	TokenIFA:             func(*values) string { return "" },
	TokenLimitAdTracking: func(*values) string { return "0" },
	TokenPageURL:         func(v *values) string { return url.QueryEscape(v.ctx.PageURL) },
	TokenDomain:          func(v *values) string { return url.QueryEscape(domainOf(v.ctx)) },
}

// Known reports whether name (without brackets) is in the token table
func Known(name string) bool {
	_, ok := table[strings.ToUpper(name)]
	return ok
}

// Engine substitutes tokens. Now and CacheBuster may be replaced for
// reproducible output.
type Engine struct {
	Now         func() time.Time
	CacheBuster func() string
}

// NewEngine creates an engine on the wall clock and a random cache-buster
func NewEngine() *Engine {
	return &Engine{Now: time.Now, CacheBuster: randomCacheBuster}
}

// Substitute replaces every recognized token in raw. Values are generated
// once per call so repeated tokens resolve identically. Unrecognized tokens
// are left as they are.
func (e *Engine) Substitute(raw string, ctx Context) string {
	if !strings.Contains(raw, "[") {
		return raw
	}

	v := &values{ctx: ctx, now: e.now(), cacheBust: e.cacheBuster()}
	resolved := make(map[string]string)
	return tokenPattern.ReplaceAllStringFunc(raw, func(m string) string {
		name := strings.ToUpper(m[1 : len(m)-1])
		p, ok := table[name]
		if !ok {
			return m
		}
		if val, ok := resolved[name]; ok {
			return val
		}
		val := p(v)
		resolved[name] = val
		return val
	})
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) cacheBuster() string {
	if e.CacheBuster == nil {
		return randomCacheBuster()
	}
	return e.CacheBuster()
}

// Unknown lists the distinct bracketed tokens in urls that are not in the
// token table, sorted
func Unknown(urls []string) []string {
	seen := make(map[string]struct{})
	for _, u := range urls {
		for _, m := range tokenPattern.FindAllStringSubmatch(u, -1) {
			if !Known(m[1]) {
				seen[m[0]] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// FormatPlayhead renders d as zero-padded HH:MM:SS.mmm
func FormatPlayhead(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}

// 8 digits, as VAST 4 recommends
func randomCacheBuster() string {
	return strconv.Itoa(10_000_000 + rand.Intn(90_000_000))
}

func domainOf(ctx Context) string {
	if ctx.Domain != "" {
		return ctx.Domain
	}
	if ctx.PageURL == "" {
		return ""
	}
	u, err := url.Parse(ctx.PageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
