// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the API clients.
package httputil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseDelay is the first backoff wait; it doubles on each retry.
const DefaultBaseDelay = 2 * time.Second

const defaultMaxRetries = 5

// maxRetryAfter caps a server-supplied Retry-After wait.
const maxRetryAfter = 2 * time.Minute

// Retrier sends requests and re-sends those answered with 429 (Too Many
// Requests) or 503 (Service Unavailable), waiting BaseDelay*2^attempt or
// the server's Retry-After, whichever is longer.
type Retrier struct {
	Client     *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
}

// Do executes req. Request bodies are replayed through req.GetBody, so
// requests built with http.NewRequest over a bytes or strings reader retry
// safely. After exhausting retries the last throttled response is returned
// so the caller can inspect it. If ctx is cancelled during a wait Do
// returns ctx.Err().
func (r *Retrier) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
			attemptReq.Body = body
		}

		resp, err := client.Do(attemptReq)
		if err != nil {
			return nil, err
		}
		if !throttled(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		wait := base << attempt
		if ra := retryAfter(resp.Header.Get("Retry-After")); ra > wait {
			wait = ra
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		logger.Warn("request throttled",
			slog.String("url", req.URL.Redacted()),
			slog.Int("status", resp.StatusCode),
			slog.Duration("retry_in", wait),
			slog.Int("attempt", attempt+1))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func throttled(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// retryAfter parses a delay-seconds Retry-After value. HTTP dates and
// garbage yield 0.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}
