package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/breaker"
)

type failingProvider struct{ name string }

func (f *failingProvider) Name() string { return f.name }

func (f *failingProvider) ChatStream(ctx context.Context, req orkestra.ChatRequest, ch chan<- orkestra.StreamEvent) (orkestra.ChatResponse, error) {
	defer close(ch)
	return orkestra.ChatResponse{}, orkestra.NewError(orkestra.CodeUpstreamTransit, "boom", &orkestra.ProviderError{Status: 503})
}

func openBreaker(t *testing.T, p *breaker.Provider) {
	t.Helper()
	for i := 0; i < 5; i++ {
		ch := make(chan orkestra.StreamEvent, 1)
		p.ChatStream(context.Background(), orkestra.ChatRequest{}, ch)
	}
	if p.Snapshot() != breaker.Open {
		t.Fatalf("expected breaker to be open, got %s", p.Snapshot())
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRunSweepLogsOnlyNonClosedBreakers(t *testing.T) {
	open := breaker.Wrap(&failingProvider{name: "flaky"})
	openBreaker(t, open)
	closed := breaker.Wrap(&failingProvider{name: "healthy-enough"})

	var swept []string
	w := New(Config{
		Providers: func() map[string]orkestra.Provider {
			return map[string]orkestra.Provider{
				"model-a": open,
				"model-b": closed,
			}
		},
		Logger: discardLoggerCapturing(&swept),
	})

	w.runSweep()

	if len(swept) != 1 || swept[0] != "flaky" {
		t.Errorf("expected exactly one sweep warning for the open breaker, got %v", swept)
	}
}

func TestRunSweepSkipsNonBreakerProviders(t *testing.T) {
	w := New(Config{
		Providers: func() map[string]orkestra.Provider {
			return map[string]orkestra.Provider{"model-a": &failingProvider{name: "raw"}}
		},
		Logger: discardLogger(),
	})
	// Should not panic on a provider that isn't a *breaker.Provider.
	w.runSweep()
}

func TestRunRefreshInvokesCallbackAndLogsError(t *testing.T) {
	var calls int32
	w := New(Config{
		RefreshCache: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
		Logger: discardLogger(),
	})
	w.runRefresh()
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected RefreshCache to be called once, got %d", calls)
	}

	failing := New(Config{
		RefreshCache: func(ctx context.Context) error { return errors.New("boom") },
		Logger:       discardLogger(),
	})
	failing.runRefresh() // must not panic
}

func TestStartRunsRegisteredJobs(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	w := New(Config{
		RefreshCache: func(ctx context.Context) error {
			mu.Lock()
			fired++
			mu.Unlock()
			return nil
		},
		RefreshInterval: 1 * time.Second,
		Logger:          discardLogger(),
	})
	w.Start()
	defer w.Stop(context.Background())

	time.Sleep(1200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired == 0 {
		t.Error("expected at least one refresh to have fired")
	}
}

func TestEverySpecRendersAtEveryDuration(t *testing.T) {
	if got := everySpec(30 * time.Second); got != "@every 30s" {
		t.Errorf("everySpec(30s) = %q, want %q", got, "@every 30s")
	}
}

// discardLoggerCapturing returns a logger whose Warn-level "circuit not
// closed" records append the swept provider name to names, so the sweep
// test can assert on which providers triggered a warning without parsing
// log text.
func discardLoggerCapturing(names *[]string) *slog.Logger {
	return slog.New(&captureHandler{names: names})
}

type captureHandler struct {
	names *[]string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "provider" {
			*h.names = append(*h.names, a.Value.String())
		}
		return true
	})
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }
