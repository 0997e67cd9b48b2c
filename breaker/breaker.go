// Package breaker adds cross-call circuit-breaker memory around an
// orkestra.Provider. The teacher retries within a single call but keeps no
// memory of prior failures across calls; this package is new, grounded on
// the *decorator* shape backoff.Provider and the teacher's retryProvider
// both use — wrap once, same interface in and out.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashgrove-labs/orkestra"
)

// State is one of the three circuit-breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

const (
	failureThreshold = 5
	failureWindow    = 60 * time.Second
	cooldownBase     = 30 * time.Second
	cooldownMax      = 5 * time.Minute
)

// Provider wraps an orkestra.Provider with a Closed → Open → HalfOpen →
// Closed/Open state machine: five consecutive failures within 60 seconds
// open the circuit; after a cooldown (30s, doubling on repeated trips up
// to a 5-minute cap) exactly one HalfOpen probe is allowed through.
type Provider struct {
	inner orkestra.Provider

	mu            sync.Mutex
	state         State
	failures      []time.Time
	openedAt      time.Time
	cooldown      time.Duration
	probeInFlight bool
}

// Wrap decorates p with breaker tracking, starting Closed.
func Wrap(p orkestra.Provider) *Provider {
	return &Provider{inner: p, state: Closed, cooldown: cooldownBase}
}

func (b *Provider) Name() string { return b.inner.Name() }

// Snapshot returns the breaker's current state, for health/status reporting.
func (b *Provider) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ChatStream rejects immediately with orkestra.CodeCircuitOpen while the
// circuit is Open, allows exactly one probe call through in HalfOpen, and
// otherwise delegates to the wrapped provider, recording the outcome.
func (b *Provider) ChatStream(ctx context.Context, req orkestra.ChatRequest, ch chan<- orkestra.StreamEvent) (orkestra.ChatResponse, error) {
	if !b.allow() {
		return orkestra.ChatResponse{}, orkestra.NewError(orkestra.CodeCircuitOpen, "circuit breaker is open", nil)
	}

	resp, err := b.inner.ChatStream(ctx, req, ch)
	b.record(err)
	return resp, err
}

// allow reports whether a call may proceed, transitioning Open→HalfOpen
// once the cooldown has elapsed and reserving the single HalfOpen probe
// slot.
func (b *Provider) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = HalfOpen
		b.probeInFlight = true
		return true
	}
	return true
}

// record updates breaker state from a completed call's outcome.
func (b *Provider) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.probeInFlight
	b.probeInFlight = false

	if err == nil || !breakable(err) {
		if wasProbe || err == nil {
			b.reset()
		}
		return
	}

	if wasProbe {
		// The HalfOpen probe failed: reopen with a doubled cooldown.
		b.state = Open
		b.openedAt = time.Now()
		b.cooldown *= 2
		if b.cooldown > cooldownMax {
			b.cooldown = cooldownMax
		}
		b.failures = nil
		return
	}

	now := time.Now()
	b.failures = append(b.failures, now)
	b.failures = recentFailures(b.failures, now)

	if len(b.failures) >= failureThreshold {
		b.state = Open
		b.openedAt = now
		b.failures = nil
	}
}

func (b *Provider) reset() {
	b.state = Closed
	b.failures = nil
	b.cooldown = cooldownBase
}

func recentFailures(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-failureWindow)
	kept := failures[:0]
	for _, f := range failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	return kept
}

// breakable reports whether err should count toward tripping the circuit:
// upstream transient/fatal failures do, validation/security/cancellation
// errors (caller-side, not upstream health) do not.
func breakable(err error) bool {
	var perr *orkestra.ProviderError
	if errors.As(err, &perr) {
		return true
	}
	var gerr *orkestra.Error
	if errors.As(err, &gerr) {
		return gerr.Code == orkestra.CodeUpstreamTransit || gerr.Code == orkestra.CodeUpstreamFatal
	}
	return false
}

var _ orkestra.Provider = (*Provider)(nil)
