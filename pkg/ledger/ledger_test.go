// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/vastinspect/internal/testing/dispatch"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/metric"
	"github.com/luxfi/vastinspect/pkg/vast"
)

func fixedEngine() *macro.Engine {
	var n atomic.Int64
	return &macro.Engine{
		Now:         func() time.Time { return time.Unix(1_700_000_000, 0) },
		CacheBuster: func() string { return strconv.FormatInt(20_000_000+n.Add(1), 10) },
	}
}

func TestFire_AtMostOncePerRawURL(t *testing.T) {
	rec := dispatch.New()
	l := New(WithDispatcher(rec), WithEngine(fixedEngine()))

	shared := "https://t.example.com/shared?cb=[CACHEBUSTING]"
	require.True(t, l.Fire(shared, vast.CategoryImpression, "", macro.Context{}))
	require.False(t, l.Fire(shared, vast.CategoryEvent, vast.EventComplete, macro.Context{}))
	require.False(t, l.Fire(shared, vast.CategoryImpression, "", macro.Context{}))
	l.Wait()

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, shared, records[0].RawURL)
	assert.Equal(t, "https://t.example.com/shared?cb=20000001", records[0].ResolvedURL)
	assert.Equal(t, vast.CategoryImpression, records[0].Category)
	assert.Equal(t, StatusSuccess, records[0].Status)
	assert.Equal(t, 1, rec.Count())

	c := l.Counters()
	assert.Equal(t, Counters{Dispatched: 1, Succeeded: 1, Duplicates: 2}, c)
	assert.True(t, l.Seen(shared))
}

func TestFire_EmptyURLIgnored(t *testing.T) {
	rec := dispatch.New()
	l := New(WithDispatcher(rec))
	assert.False(t, l.Fire("", vast.CategoryImpression, "", macro.Context{}))
	l.Wait()
	assert.Zero(t, rec.Count())
	assert.Equal(t, Counters{}, l.Counters())
}

func TestFireAll_PartialFailure(t *testing.T) {
	rec := dispatch.New()
	rec.FailOn = []string{"broken"}
	m := metric.NewMetrics()
	l := New(WithDispatcher(rec), WithMetrics(m), WithConcurrency(2))

	entries := []vast.Entry{
		{URL: "https://t.example.com/a", Category: vast.CategoryImpression},
		{URL: "https://broken.example.com/b", Category: vast.CategoryImpression},
		{URL: "https://t.example.com/c", Category: vast.CategoryImpression},
		{URL: "https://t.example.com/a", Category: vast.CategoryImpression},
	}
	assert.Equal(t, 3, l.FireAll(entries, macro.Context{}))
	l.Wait()

	c := l.Counters()
	assert.Equal(t, uint64(3), c.Dispatched)
	assert.Equal(t, uint64(2), c.Succeeded)
	assert.Equal(t, uint64(1), c.Failed)
	assert.Equal(t, uint64(1), c.Duplicates)

	var failed []FiringRecord
	for _, r := range l.Records() {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "https://broken.example.com/b", failed[0].RawURL)
	assert.Contains(t, failed[0].Error, "refused")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Firings.WithLabelValues("impression", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Firings.WithLabelValues("impression", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateFires.WithLabelValues("impression")))
}

func TestFire_TimeoutCountsAsSuccess(t *testing.T) {
	rec := dispatch.New()
	rec.HangOn = []string{"slow"}
	l := New(WithDispatcher(rec), WithTimeout(20*time.Millisecond))

	require.True(t, l.Fire("https://slow.example.com/p", vast.CategoryEvent, vast.EventStart, macro.Context{}))
	l.Wait()

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StatusSuccess, records[0].Status)
	assert.True(t, records[0].TimedOut)
	assert.Equal(t, uint64(1), l.Counters().Succeeded)
}

func TestClose_DropsLateCompletions(t *testing.T) {
	rec := dispatch.New()
	rec.HangOn = []string{"slow"}
	l := New(WithDispatcher(rec), WithTimeout(20*time.Millisecond))

	require.True(t, l.Fire("https://slow.example.com/p", vast.CategoryEvent, vast.EventStart, macro.Context{}))
	l.Close()
	assert.False(t, l.Fire("https://t.example.com/after", vast.CategoryEvent, vast.EventStart, macro.Context{}))
	l.Wait()

	assert.Empty(t, l.Records())
	assert.Equal(t, 1, rec.Count())
}

func TestHTTPDispatcher(t *testing.T) {
	var hits atomic.Int32
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		ua.Store(r.UserAgent())
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Content-Type", "image/gif")
			_, _ = w.Write([]byte("GIF89a"))
		}
	}))
	defer srv.Close()

	l := New(WithDispatcher(NewHTTPDispatcher(time.Second, "inspector-test")))
	n := l.FireURLs([]string{srv.URL + "/pixel", srv.URL + "/gone", srv.URL + "/empty"}, vast.CategoryRelayed, "", macro.Context{})
	require.Equal(t, 3, n)
	l.Wait()

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "inspector-test", ua.Load())
	for _, r := range l.Records() {
		assert.Equal(t, StatusSuccess, r.Status, r.RawURL)
		assert.Equal(t, vast.CategoryRelayed, r.Category)
	}
}

func TestHTTPDispatcher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL + "/p"
	srv.Close()

	l := New(WithDispatcher(NewHTTPDispatcher(time.Second, "")))
	require.True(t, l.Fire(target, vast.CategoryError, "", macro.Context{}))
	l.Wait()

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StatusFailed, records[0].Status)
	assert.NotEmpty(t, records[0].Error)
}
