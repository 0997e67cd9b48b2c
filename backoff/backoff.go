// Package backoff wraps an orkestra.Provider with retry-on-transient-error
// behavior, following the decorator shape of the teacher's retryProvider
// but rewritten to spec's exact retry schedule: 2^(k-1) seconds base delay
// plus uniform [0,500ms) jitter, three retries maximum.
package backoff

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ashgrove-labs/orkestra"
)

const (
	maxRetries = 3
	jitterCeil = 500 * time.Millisecond
)

// Provider wraps an orkestra.Provider, retrying ChatStream when the
// upstream failure is transient and no tokens have reached the caller yet.
type Provider struct {
	inner    orkestra.Provider
	log      *slog.Logger
	baseUnit time.Duration // 2^(k-1) * baseUnit; spec pins this to 1s
}

// Wrap decorates p with the spec's retry schedule: 2^(k-1) seconds base
// delay plus uniform [0,500ms) jitter.
func Wrap(p orkestra.Provider, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{inner: p, log: log, baseUnit: time.Second}
}

func (r *Provider) Name() string { return r.inner.Name() }

// ChatStream retries up to maxRetries times on a transient ProviderError,
// but only while no StreamEvent has yet reached ch — once tokens have been
// forwarded, a retry would duplicate output, so the error is surfaced
// immediately instead.
func (r *Provider) ChatStream(ctx context.Context, req orkestra.ChatRequest, ch chan<- orkestra.StreamEvent) (orkestra.ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		mid := make(chan orkestra.StreamEvent, 64)
		var resp orkestra.ChatResponse
		var streamErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			// mid is ours: we are the caller of r.inner.ChatStream, so per
			// the Provider contract we close it once the call returns,
			// unblocking the range loop below.
			defer close(mid)
			resp, streamErr = r.inner.ChatStream(ctx, req, mid)
		}()

		var tokensSent bool
		for ev := range mid {
			tokensSent = true
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		<-done

		if streamErr == nil || tokensSent || !retryable(streamErr) || attempt > maxRetries {
			return resp, streamErr
		}

		lastErr = streamErr
		delay := r.schedule(attempt, streamErr)
		r.log.Warn("provider call failed, retrying", "provider", r.inner.Name(), "attempt", attempt, "delay", delay, "error", streamErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return orkestra.ChatResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
	return orkestra.ChatResponse{}, lastErr
}

func retryable(err error) bool {
	var perr *orkestra.ProviderError
	return errors.As(err, &perr) && perr.Retryable()
}

// schedule computes the delay before retry attempt k (1-indexed):
// 2^(k-1) * baseUnit plus uniform [0,500ms) jitter, floored by the
// upstream's Retry-After value when it asked for longer.
func (r *Provider) schedule(k int, err error) time.Duration {
	base := time.Duration(1<<uint(k-1)) * r.baseUnit
	jitter := time.Duration(rand.Int63n(int64(jitterCeil)))
	delay := base + jitter

	var perr *orkestra.ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > delay {
		return perr.RetryAfter
	}
	return delay
}

var _ orkestra.Provider = (*Provider)(nil)
