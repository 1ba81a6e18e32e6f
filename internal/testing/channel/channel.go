// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package channel provides an in-memory simid.Channel for tests
package channel

import (
	"sync"
	"time"

	"github.com/luxfi/vastinspect/pkg/simid"
)

// Fake records outbound messages and delivers inbound ones synchronously
type Fake struct {
	mu   sync.Mutex
	cond *sync.Cond
	sent []simid.Message
	subs map[int]func(simid.Message)
	next int
}

// New creates an empty fake channel
func New() *Fake {
	f := &Fake{subs: make(map[int]func(simid.Message))}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Send implements simid.Channel
func (f *Fake) Send(msg simid.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.cond.Broadcast()
	f.mu.Unlock()
	return nil
}

// Subscribe implements simid.Channel
func (f *Fake) Subscribe(fn func(simid.Message)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Deliver hands msg to every subscriber, as if the creative sent it
func (f *Fake) Deliver(msg simid.Message) {
	f.mu.Lock()
	subs := make([]func(simid.Message), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

// Subscribers counts registered listeners
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Sent returns every outbound message so far
func (f *Fake) Sent() []simid.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]simid.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// WaitFor blocks until a message of typ has been sent or timeout passes
func (f *Fake) WaitFor(typ simid.MessageType, timeout time.Duration) (simid.Message, bool) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer timer.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		for _, m := range f.sent {
			if m.Type == typ {
				return m, true
			}
		}
		if !time.Now().Before(deadline) {
			return simid.Message{}, false
		}
		f.cond.Wait()
	}
}
