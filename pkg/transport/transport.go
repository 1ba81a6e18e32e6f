// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport provides ad documents from a URL, a file path or
// literal markup.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/metric"
)

const (
	DefaultCacheSize = 64
	DefaultTimeout   = 10 * time.Second

	// maxDocumentSize caps a fetched or read document
	maxDocumentSize = 4 << 20
)

var (
	ErrEmptyInput = errors.New("empty document input")
	ErrTooLarge   = errors.New("document too large")
)

// Source tells where a document came from
type Source string

const (
	SourceLiteral Source = "literal"
	SourceURL     Source = "url"
	SourceFile    Source = "file"
	SourceCache   Source = "cache"
)

// StatusError is a non-2xx answer from the document server
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// Transport fetches documents over HTTP with an LRU cache keyed by URL
type Transport struct {
	client    *http.Client
	cache     *lru.Cache[string, []byte]
	userAgent string
	log       log.Logger
	metrics   *metric.Metrics
}

// Config holds transport settings
type Config struct {
	CacheSize int
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client
	Logger    log.Logger
	Metrics   *metric.Metrics
}

// New creates a transport
func New(cfg Config) (*Transport, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoOp()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.Nop()
	}

	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Transport{
		client:    cfg.Client,
		cache:     cache,
		userAgent: cfg.UserAgent,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// FetchOrProvide returns the document named by input. Markup starting with
// '<' is returned as is, http(s) URLs are fetched (and cached), anything
// else is read as a file path.
func (t *Transport) FetchOrProvide(ctx context.Context, input string) ([]byte, Source, error) {
	in := strings.TrimSpace(input)
	switch {
	case in == "":
		return nil, "", ErrEmptyInput
	case strings.HasPrefix(in, "<"):
		t.metrics.DocumentsFetched.WithLabelValues(string(SourceLiteral)).Inc()
		return []byte(in), SourceLiteral, nil
	case isURL(in):
		if doc, ok := t.cache.Get(in); ok {
			t.metrics.DocumentsFetched.WithLabelValues(string(SourceCache)).Inc()
			return doc, SourceCache, nil
		}
		doc, err := t.fetch(ctx, in)
		if err != nil {
			return nil, SourceURL, err
		}
		t.cache.Add(in, doc)
		t.metrics.DocumentsFetched.WithLabelValues(string(SourceURL)).Inc()
		return doc, SourceURL, nil
	default:
		doc, err := readFile(in)
		if err != nil {
			return nil, SourceFile, err
		}
		t.metrics.DocumentsFetched.WithLabelValues(string(SourceFile)).Inc()
		return doc, SourceFile, nil
	}
}

// Purge empties the cache
func (t *Transport) Purge() {
	t.cache.Purge()
}

func (t *Transport) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	t.log.Debug("document fetched",
		log.String("url", url),
		log.Int("bytes", len(body)),
		log.Duration("latency", time.Since(start)),
	)
	return body, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	body, err := readLimited(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDocumentSize {
		return nil, ErrTooLarge
	}
	return body, nil
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
