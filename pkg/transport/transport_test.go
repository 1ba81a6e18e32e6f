// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/vastinspect/pkg/metric"
)

const doc = `<VAST version="4.0"></VAST>`

func TestFetchOrProvide_Literal(t *testing.T) {
	tr, err := New(Config{})
	require.NoError(t, err)

	body, src, err := tr.FetchOrProvide(context.Background(), "  \n"+doc)
	require.NoError(t, err)
	assert.Equal(t, SourceLiteral, src)
	assert.Equal(t, doc, string(body))

	_, _, err = tr.FetchOrProvide(context.Background(), " \t ")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestFetchOrProvide_URLCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "vastinspect-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(doc))
	}))
	defer srv.Close()

	m := metric.NewMetrics()
	tr, err := New(Config{UserAgent: "vastinspect-test", Metrics: m})
	require.NoError(t, err)

	body, src, err := tr.FetchOrProvide(context.Background(), srv.URL+"/vast")
	require.NoError(t, err)
	assert.Equal(t, SourceURL, src)
	assert.Equal(t, doc, string(body))

	_, src, err = tr.FetchOrProvide(context.Background(), srv.URL+"/vast")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, int32(1), hits.Load())

	assert.InDelta(t, 1, testutil.ToFloat64(m.DocumentsFetched.WithLabelValues("url")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DocumentsFetched.WithLabelValues("cache")), 0)

	tr.Purge()
	_, src, err = tr.FetchOrProvide(context.Background(), srv.URL+"/vast")
	require.NoError(t, err)
	assert.Equal(t, SourceURL, src)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOrProvide_URLStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr, err := New(Config{})
	require.NoError(t, err)

	_, _, err = tr.FetchOrProvide(context.Background(), srv.URL)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNoContent, se.Status)

	_, src, err := tr.FetchOrProvide(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, SourceURL, src)
}

func TestFetchOrProvide_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ad.xml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	tr, err := New(Config{})
	require.NoError(t, err)

	body, src, err := tr.FetchOrProvide(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, SourceFile, src)
	assert.Equal(t, doc, string(body))

	_, _, err = tr.FetchOrProvide(context.Background(), filepath.Join(t.TempDir(), "missing.xml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadLimited(t *testing.T) {
	big := make([]byte, maxDocumentSize+1)
	path := filepath.Join(t.TempDir(), "big.xml")
	require.NoError(t, os.WriteFile(path, big, 0o600))

	_, err := readFile(path)
	require.ErrorIs(t, err, ErrTooLarge)
}
