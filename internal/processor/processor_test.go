package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sift/internal/generation"
	"github.com/MikeSquared-Agency/sift/internal/hermes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	name string
	run  func(ctx context.Context, req generation.Request) generation.Report

	mu   sync.Mutex
	seen []generation.Request
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Run(ctx context.Context, req generation.Request) generation.Report {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, req)
	}
	return generation.Report{Service: f.name, Outcome: generation.OutcomeDone, Results: 1}
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []hermes.GenerationCompleted
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subject == hermes.SubjectGenerationCompleted {
		r.events = append(r.events, data.(hermes.GenerationCompleted))
	}
	return nil
}

func (r *recordingPublisher) services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Service)
	}
	return out
}

func TestTrigger_RunsEveryServiceInOrder(t *testing.T) {
	a, b := &fakeRunner{name: "a"}, &fakeRunner{name: "b"}
	pub := &recordingPublisher{}
	p := New([]generation.Runner{a, b}, Options{Publisher: pub, Logger: discardLogger()})

	req := generation.Request{OrgID: "acme", UserID: "u1", RequestID: "r1"}
	require.NoError(t, p.Trigger(req))
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, []string{"a", "b"}, pub.services())
	assert.Equal(t, []generation.Request{req}, a.seen)
	assert.Equal(t, "r1", pub.events[0].RequestID)
	assert.Equal(t, []string{"a", "b"}, p.Services())
}

func TestTrigger_OnlyNamedServices(t *testing.T) {
	a, b := &fakeRunner{name: "a"}, &fakeRunner{name: "b"}
	p := New([]generation.Runner{a, b}, Options{Logger: discardLogger()})

	require.NoError(t, p.Trigger(generation.Request{OrgID: "acme"}, "b"))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 0, a.calls())
	assert.Equal(t, 1, b.calls())

	assert.ErrorContains(t, New(nil, Options{}).Trigger(generation.Request{}, "nope"), "unknown service")
}

func TestTrigger_BoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	slow := &fakeRunner{name: "slow", run: func(context.Context, generation.Request) generation.Report {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return generation.Report{Service: "slow", Outcome: generation.OutcomeDone}
	}}
	p := New([]generation.Runner{slow}, Options{MaxConcurrent: 2, Logger: discardLogger()})

	for range 6 {
		require.NoError(t, p.Trigger(generation.Request{OrgID: "acme"}))
	}
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 6, slow.calls())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestShutdown_RejectsNewTriggers(t *testing.T) {
	p := New([]generation.Runner{&fakeRunner{name: "a"}}, Options{Logger: discardLogger()})
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, p.Trigger(generation.Request{OrgID: "acme"}), ErrShuttingDown)
}

func TestShutdown_DeadlineCancelsInFlight(t *testing.T) {
	stuck := &fakeRunner{name: "stuck", run: func(ctx context.Context, _ generation.Request) generation.Report {
		<-ctx.Done()
		return generation.Report{Service: "stuck", Outcome: generation.OutcomeFailed, Error: ctx.Err().Error()}
	}}
	pub := &recordingPublisher{}
	p := New([]generation.Runner{stuck}, Options{Publisher: pub, Logger: discardLogger()})
	require.NoError(t, p.Trigger(generation.Request{OrgID: "acme"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	require.Len(t, pub.events, 1)
	assert.Equal(t, generation.OutcomeFailed, pub.events[0].Outcome)
}

func TestRun_RecoversPanickingService(t *testing.T) {
	boom := &fakeRunner{name: "boom", run: func(context.Context, generation.Request) generation.Report {
		panic("kaboom")
	}}
	after := &fakeRunner{name: "after"}
	p := New([]generation.Runner{boom, after}, Options{Logger: discardLogger()})

	reports, err := p.Run(context.Background(), generation.Request{OrgID: "acme"})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, generation.OutcomeFailed, reports[0].Outcome)
	assert.Equal(t, "kaboom", reports[0].Error)
	assert.Equal(t, generation.OutcomeDone, reports[1].Outcome)
}

type countingMetrics struct {
	mu        sync.Mutex
	triggers  map[string]int
	artifacts map[string]int
}

func (c *countingMetrics) ObserveTrigger(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers[result]++
}
func (c *countingMetrics) TrackInFlight(int) {}
func (c *countingMetrics) ObserveArtifacts(kind string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[kind] += n
}

func TestHandleInteractionsPublished(t *testing.T) {
	a := &fakeRunner{name: "a"}
	m := &countingMetrics{triggers: map[string]int{}, artifacts: map[string]int{}}
	p := New([]generation.Runner{a}, Options{Metrics: m, Logger: discardLogger()})

	p.HandleInteractionsPublished(hermes.SubjectInteractionsPublished, []byte("{not json"))
	p.HandleInteractionsPublished(hermes.SubjectInteractionsPublished, []byte(`{"user_id":"u1"}`))

	evt, err := json.Marshal(hermes.InteractionsPublished{OrgID: "acme", UserID: "u1", RequestID: "r1", Source: "api"})
	require.NoError(t, err)
	p.HandleInteractionsPublished(hermes.SubjectInteractionsPublished, evt)
	require.NoError(t, p.Shutdown(context.Background()))

	require.Equal(t, 1, a.calls())
	assert.Equal(t, "api", a.seen[0].Source)
	assert.Equal(t, 2, m.triggers["invalid"])
	assert.Equal(t, 1, m.triggers["accepted"])
	assert.Equal(t, 1, m.artifacts["a"])
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(string, any) error { return f.err }

func TestPublishers_FanOut(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	boom := errors.New("boom")
	ps := Publishers{a, failingPublisher{err: boom}, b}

	err := ps.Publish(hermes.SubjectGenerationCompleted, hermes.GenerationCompleted{Service: "svc"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"svc"}, a.services())
	assert.Equal(t, []string{"svc"}, b.services(), "a failing member does not stop the rest")
	assert.NoError(t, Publishers(nil).Publish("x", nil))
}
