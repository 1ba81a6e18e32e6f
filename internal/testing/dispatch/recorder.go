// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dispatch provides a recording ledger.Dispatcher for tests
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrRefused is returned for URLs configured to fail
var ErrRefused = errors.New("connection refused")

// Recorder records every dispatched URL. URLs containing any FailOn
// substring fail with ErrRefused; URLs containing any HangOn substring
// block until the context ends.
type Recorder struct {
	FailOn []string
	HangOn []string

	mu   sync.Mutex
	urls []string
}

// New creates an empty recorder
func New() *Recorder {
	return &Recorder{}
}

// Dispatch implements ledger.Dispatcher
func (r *Recorder) Dispatch(ctx context.Context, url string) error {
	r.mu.Lock()
	r.urls = append(r.urls, url)
	r.mu.Unlock()

	if containsAny(url, r.HangOn) {
		<-ctx.Done()
		return ctx.Err()
	}
	if containsAny(url, r.FailOn) {
		return ErrRefused
	}
	return nil
}

// URLs returns the dispatched URLs in dispatch order
func (r *Recorder) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.urls))
	copy(out, r.urls)
	return out
}

// Count returns the number of dispatches
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urls)
}

// Reset forgets recorded URLs
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.urls = nil
	r.mu.Unlock()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
