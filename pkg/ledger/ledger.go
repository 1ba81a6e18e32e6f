// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/metric"
	"github.com/luxfi/vastinspect/pkg/vast"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultConcurrency = 8
)

// Status of a completed firing
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// FiringRecord is one audit log entry
type FiringRecord struct {
	RawURL      string        `json:"rawUrl"`
	ResolvedURL string        `json:"resolvedUrl"`
	Category    vast.Category `json:"category"`
	Event       string        `json:"event,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      Status        `json:"status"`
	TimedOut    bool          `json:"timedOut,omitempty"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency"`
}

// Counters is a snapshot of the aggregate counters
type Counters struct {
	Dispatched uint64 `json:"dispatched"`
	Succeeded  uint64 `json:"succeeded"`
	Failed     uint64 `json:"failed"`
	Duplicates uint64 `json:"duplicates"`
}

// Dispatcher performs the network side of a firing. Any returned error
// other than a timeout marks the firing failed.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string) error
}

// Ledger enforces at-most-once firing per raw URL and keeps the audit log.
// One Ledger lives for one loaded ad and is shared by every component that
// fires tracking URLs for it.
type Ledger struct {
	dispatcher  Dispatcher
	engine      *macro.Engine
	timeout     time.Duration
	concurrency int
	log         log.Logger
	metrics     *metric.Metrics

	mu      sync.Mutex
	seen    map[string]struct{}
	records []FiringRecord
	closed  bool

	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	duplicates atomic.Uint64

	wg sync.WaitGroup
}

// Option configures a Ledger
type Option func(*Ledger)

func WithDispatcher(d Dispatcher) Option { return func(l *Ledger) { l.dispatcher = d } }
func WithEngine(e *macro.Engine) Option  { return func(l *Ledger) { l.engine = e } }
func WithLogger(lg log.Logger) Option    { return func(l *Ledger) { l.log = lg } }
func WithMetrics(m *metric.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithTimeout bounds each dispatch. A dispatch that hits it is still
// recorded as a success.
func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithConcurrency bounds parallel dispatches within one batch
func WithConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// New creates an empty ledger. Without WithDispatcher it fires over HTTP.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		seen:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = log.NoOp()
	}
	if l.metrics == nil {
		l.metrics = metric.Nop()
	}
	if l.engine == nil {
		l.engine = macro.NewEngine()
	}
	if l.dispatcher == nil {
		l.dispatcher = NewHTTPDispatcher(l.timeout, "")
	}
	return l
}

type pending struct {
	raw      string
	resolved string
	category vast.Category
	event    string
}

// Fire resolves and dispatches raw unless it has already been accepted.
// It returns false for a duplicate, without any network action.
func (l *Ledger) Fire(raw string, category vast.Category, event string, mctx macro.Context) bool {
	p, ok := l.accept(raw, category, event, mctx)
	if !ok {
		return false
	}
	l.launch([]pending{p})
	return true
}

// FireAll fires every entry independently and returns how many were
// accepted. A failing entry never affects its siblings.
func (l *Ledger) FireAll(entries []vast.Entry, mctx macro.Context) int {
	batch := make([]pending, 0, len(entries))
	for _, e := range entries {
		if p, ok := l.accept(e.URL, e.Category, e.Event, mctx); ok {
			batch = append(batch, p)
		}
	}
	l.launch(batch)
	return len(batch)
}

// FireURLs is FireAll for bare URLs sharing one category and event
func (l *Ledger) FireURLs(urls []string, category vast.Category, event string, mctx macro.Context) int {
	entries := make([]vast.Entry, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, vast.Entry{URL: u, Category: category, Event: event})
	}
	return l.FireAll(entries, mctx)
}

// Seen reports whether raw has been accepted
func (l *Ledger) Seen(raw string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[raw]
	return ok
}

func (l *Ledger) accept(raw string, category vast.Category, event string, mctx macro.Context) (pending, bool) {
	if raw == "" {
		return pending{}, false
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return pending{}, false
	}
	if _, dup := l.seen[raw]; dup {
		l.mu.Unlock()
		l.duplicates.Add(1)
		l.metrics.DuplicateFires.WithLabelValues(string(category)).Inc()
		l.log.Debug("duplicate firing suppressed",
			log.String("url", raw),
			log.String("category", string(category)),
			log.String("event", event),
		)
		return pending{}, false
	}
	l.seen[raw] = struct{}{}
	l.mu.Unlock()

	l.dispatched.Add(1)
	return pending{
		raw:      raw,
		resolved: l.engine.Substitute(raw, mctx),
		category: category,
		event:    event,
	}, true
}

func (l *Ledger) launch(batch []pending) {
	if len(batch) == 0 {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		var g errgroup.Group
		g.SetLimit(l.concurrency)
		for _, p := range batch {
			p := p
			g.Go(func() error {
				l.dispatch(p)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (l *Ledger) dispatch(p pending) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	start := time.Now()
	err := l.dispatcher.Dispatch(ctx, p.resolved)
	latency := time.Since(start)

	rec := FiringRecord{
		RawURL:      p.raw,
		ResolvedURL: p.resolved,
		Category:    p.category,
		Event:       p.event,
		Timestamp:   start,
		Status:      StatusSuccess,
		Latency:     latency,
	}
	switch {
	case err == nil:
	case isTimeout(err):
		rec.TimedOut = true
	default:
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.records = append(l.records, rec)
	l.mu.Unlock()

	if rec.Status == StatusFailed {
		l.failed.Add(1)
		l.log.Warn("tracking dispatch failed",
			log.String("url", p.resolved),
			log.String("category", string(p.category)),
			log.Error(err),
		)
	} else {
		l.succeeded.Add(1)
	}
	l.metrics.Firings.WithLabelValues(string(p.category), string(rec.Status)).Inc()
	l.metrics.DispatchLatency.Observe(latency.Seconds())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Records returns a copy of the audit log in completion order
func (l *Ledger) Records() []FiringRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FiringRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Counters returns the aggregate counters
func (l *Ledger) Counters() Counters {
	return Counters{
		Dispatched: l.dispatched.Load(),
		Succeeded:  l.succeeded.Load(),
		Failed:     l.failed.Load(),
		Duplicates: l.duplicates.Load(),
	}
}

// Wait blocks until every dispatch launched so far has completed
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// Close stops accepting firings. Dispatches already in flight are not
// cancelled; their completions are dropped.
func (l *Ledger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
