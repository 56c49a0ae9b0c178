package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/MikeSquared-Agency/sift/internal/generation"
	"github.com/MikeSquared-Agency/sift/internal/hermes"
)

// ErrShuttingDown is returned for triggers that arrive after Shutdown.
var ErrShuttingDown = errors.New("processor is shutting down")

// DefaultMaxConcurrent bounds background trigger processing.
const DefaultMaxConcurrent = 4

// Publisher is the outbound side of the message bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Publishers fans one publish out to every member, joining their errors.
type Publishers []Publisher

func (ps Publishers) Publish(subject string, data any) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(subject, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Metrics receives trigger and artifact counts; observability.Metrics fits.
type Metrics interface {
	ObserveTrigger(result string)
	TrackInFlight(delta int)
	ObserveArtifacts(kind string, n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTrigger(string)        {}
func (nopMetrics) TrackInFlight(int)            {}
func (nopMetrics) ObserveArtifacts(string, int) {}

type Options struct {
	Publisher     Publisher
	Metrics       Metrics
	Logger        *slog.Logger
	MaxConcurrent int
}

// Processor turns trigger events into generation runs. Each accepted trigger
// runs every service in order on one background goroutine.
type Processor struct {
	runners   []generation.Runner
	publisher Publisher
	metrics   Metrics
	logger    *slog.Logger
	sem       *semaphore.Weighted

	// base is cancelled when Shutdown gives up waiting.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func New(runners []generation.Runner, opts Options) *Processor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	p := &Processor{
		runners:   runners,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.base, p.cancel = context.WithCancel(context.Background())
	return p
}

// Services lists the names of the services the processor runs.
func (p *Processor) Services() []string {
	names := make([]string, len(p.runners))
	for i, r := range p.runners {
		names[i] = r.Name()
	}
	return names
}

// HandleInteractionsPublished is the NATS handler for sift.interactions.published.
func (p *Processor) HandleInteractionsPublished(subject string, data []byte) {
	var evt hermes.InteractionsPublished
	if err := json.Unmarshal(data, &evt); err != nil {
		p.metrics.ObserveTrigger("invalid")
		p.logger.Error("failed to parse interactions event", "subject", subject, "error", err)
		return
	}
	if evt.OrgID == "" {
		p.metrics.ObserveTrigger("invalid")
		p.logger.Warn("interactions event without org_id", "request_id", evt.RequestID)
		return
	}
	if err := p.Trigger(evt.Request()); err != nil {
		p.logger.Warn("trigger dropped", "request_id", evt.RequestID, "error", err)
	}
}

// Trigger schedules req on the background pool. It blocks while the pool is
// full, which pushes back on the subscription.
func (p *Processor) Trigger(req generation.Request, only ...string) error {
	runners, err := p.pick(only)
	if err != nil {
		p.metrics.ObserveTrigger("invalid")
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.metrics.ObserveTrigger("rejected")
		return ErrShuttingDown
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	if err := p.sem.Acquire(p.base, 1); err != nil {
		p.inflight.Done()
		p.metrics.ObserveTrigger("rejected")
		return ErrShuttingDown
	}
	p.metrics.ObserveTrigger("accepted")
	p.metrics.TrackInFlight(1)

	go func() {
		defer p.inflight.Done()
		defer p.sem.Release(1)
		defer p.metrics.TrackInFlight(-1)
		p.run(p.base, req, runners)
	}()
	return nil
}

// Run processes req synchronously and returns one report per service.
func (p *Processor) Run(ctx context.Context, req generation.Request, only ...string) ([]generation.Report, error) {
	runners, err := p.pick(only)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, req, runners), nil
}

func (p *Processor) run(ctx context.Context, req generation.Request, runners []generation.Runner) []generation.Report {
	reports := make([]generation.Report, 0, len(runners))
	for _, r := range runners {
		if ctx.Err() != nil {
			break
		}
		report := p.runOne(ctx, r, req)
		reports = append(reports, report)
	}
	return reports
}

func (p *Processor) runOne(ctx context.Context, r generation.Runner, req generation.Request) (report generation.Report) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("service panicked", "service", r.Name(), "panic", rec)
			report = generation.Report{Service: r.Name(), Outcome: generation.OutcomeFailed, Error: fmt.Sprint(rec)}
		}
		p.metrics.ObserveArtifacts(report.Service, report.Results)
		p.publish(req, report)
	}()
	return r.Run(ctx, req)
}

func (p *Processor) publish(req generation.Request, report generation.Report) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(hermes.SubjectGenerationCompleted, hermes.Completed(req, report)); err != nil {
		p.logger.Error("failed to publish generation completed", "service", report.Service, "error", err)
	}
}

func (p *Processor) pick(only []string) ([]generation.Runner, error) {
	if len(only) == 0 {
		return p.runners, nil
	}
	var out []generation.Runner
	for _, name := range only {
		i := slices.IndexFunc(p.runners, func(r generation.Runner) bool { return r.Name() == name })
		if i < 0 {
			return nil, fmt.Errorf("unknown service %q", name)
		}
		out = append(out, p.runners[i])
	}
	return out, nil
}

// Shutdown stops accepting triggers and waits for in-flight runs. When ctx
// expires first, in-flight runs are cancelled and ctx's error returned.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
