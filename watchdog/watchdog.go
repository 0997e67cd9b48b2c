// Package watchdog runs the process-wide background maintenance the
// execution engine itself has no business scheduling: periodic persona/
// system-prompt cache refresh and a breaker health sweep. Both are
// read-mostly caches per the concurrency model's "caches → read-mostly,
// refreshed by a dedicated watchdog goroutine" rule — this is that
// goroutine, generalized from the teacher's cmd/sandbox session-cleanup
// ticker into two independently scheduled cron jobs.
//
// The teacher has no cron runner of its own (scheduler.go hand-rolls a
// single 60-second time.Ticker loop, kept as-is for scheduler.Scheduler);
// this package instead reaches for github.com/robfig/cron/v3, the same
// dependency the pack's haasonsaas-nexus repo pulls in for its own task
// scheduler, since a process with two independently-paced maintenance jobs
// is a better fit for a real cron runner than a second hand-rolled ticker.
//
// The breaker sweep only ever reports state; it never flips a circuit
// itself — breaker.Provider already transitions Open→HalfOpen lazily on
// the next real call, so this is purely an operator-visible "is anything
// stuck open" signal between requests.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/breaker"
)

// Config wires a Watchdog to the callbacks it sweeps. Every field is
// optional; a Watchdog with nothing configured runs and does nothing.
type Config struct {
	// RefreshCache reloads whatever read-mostly cache the caller owns (the
	// persona snapshot, the rendered-system-prompt LRU, ...). Called on
	// RefreshInterval. Errors are logged and do not stop the watchdog.
	RefreshCache func(ctx context.Context) error
	// RefreshInterval defaults to 5 minutes.
	RefreshInterval time.Duration

	// Providers returns the current set of live providers (by model name)
	// to sweep for breaker state. Typically engine.Engine.Providers.
	Providers func() map[string]orkestra.Provider
	// SweepInterval defaults to 30 seconds.
	SweepInterval time.Duration

	Logger *slog.Logger
}

// Watchdog owns a robfig/cron runner driving the two maintenance jobs.
type Watchdog struct {
	cfg Config
	cr  *cron.Cron
}

// New builds a Watchdog from cfg, registering whichever jobs cfg provides
// callbacks for. Call Start to begin running them.
func New(cfg Config) *Watchdog {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Watchdog{
		cfg: cfg,
		cr:  cron.New(cron.WithSeconds()),
	}

	if cfg.RefreshCache != nil {
		spec := everySpec(cfg.RefreshInterval)
		if _, err := w.cr.AddFunc(spec, w.runRefresh); err != nil {
			cfg.Logger.Error("watchdog: invalid refresh schedule", "spec", spec, "error", err)
		}
	}
	if cfg.Providers != nil {
		spec := everySpec(cfg.SweepInterval)
		if _, err := w.cr.AddFunc(spec, w.runSweep); err != nil {
			cfg.Logger.Error("watchdog: invalid sweep schedule", "spec", spec, "error", err)
		}
	}

	return w
}

// Start begins running registered jobs in the background. Stop undoes it.
func (w *Watchdog) Start() { w.cr.Start() }

// Stop blocks until any in-flight job finishes, then halts scheduling.
func (w *Watchdog) Stop(ctx context.Context) {
	stopped := w.cr.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (w *Watchdog) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.cfg.RefreshCache(ctx); err != nil {
		w.cfg.Logger.Warn("watchdog: cache refresh failed", "error", err)
		return
	}
	w.cfg.Logger.Debug("watchdog: cache refreshed")
}

// runSweep logs every provider currently tripped open or half-open. The
// breaker already self-heals on the next real call (allow() transitions
// Open→HalfOpen once the cooldown elapses); this sweep exists purely so an
// operator can see a stuck-open circuit between requests, not to nudge the
// breaker itself.
func (w *Watchdog) runSweep() {
	providers := w.cfg.Providers()
	for model, p := range providers {
		b, ok := p.(*breaker.Provider)
		if !ok {
			continue
		}
		if state := b.Snapshot(); state != breaker.Closed {
			w.cfg.Logger.Warn("watchdog: circuit not closed", "model", model, "provider", b.Name(), "state", state)
		}
	}
}

// everySpec renders d as a robfig/cron "@every" spec, the simplest way to
// express a fixed-interval job against the WithSeconds parser.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
