// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultUserAgent = "vastinspect/1.0"

// HTTPDispatcher fires tracking URLs with GET. Any HTTP response counts as
// delivered, including error statuses and empty or non-image bodies: a
// tracking pixel that does not render is indistinguishable from one that
// did.
type HTTPDispatcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDispatcher creates a dispatcher with the given client timeout
func NewHTTPDispatcher(timeout time.Duration, userAgent string) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPDispatcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// Dispatch implements Dispatcher
func (d *HTTPDispatcher) Dispatch(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

// NopDispatcher records nothing and always succeeds (dry runs)
type NopDispatcher struct{}

// Dispatch implements Dispatcher
func (NopDispatcher) Dispatch(context.Context, string) error { return nil }
