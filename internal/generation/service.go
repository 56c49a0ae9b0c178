package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/opstate"
	"github.com/MikeSquared-Agency/sift/internal/orgconfig"
	"github.com/MikeSquared-Agency/sift/internal/sources"
	"github.com/MikeSquared-Agency/sift/internal/stride"
	"github.com/MikeSquared-Agency/sift/internal/window"
)

const DefaultStaleAfter = 15 * time.Minute

type Options struct {
	States   opstate.Store
	Logger   *slog.Logger
	Observer Observer
	// StaleAfter lets a new run take over a lock whose holder never released
	// it, e.g. after a crash.
	StaleAfter time.Duration
}

// Service runs a strategy's extractors for one trigger at a time.
type Service[C ExtractorConfig, R any] struct {
	strategy   Strategy[C, R]
	states     opstate.Store
	logger     *slog.Logger
	observer   Observer
	staleAfter time.Duration
	newHolder  func() string
}

func New[C ExtractorConfig, R any](strategy Strategy[C, R], opts Options) *Service[C, R] {
	s := &Service[C, R]{
		strategy:   strategy,
		states:     opts.States,
		logger:     opts.Logger,
		observer:   opts.Observer,
		staleAfter: opts.StaleAfter,
		newHolder:  uuid.NewString,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	return s
}

func (s *Service[C, R]) Name() string { return s.strategy.ServiceName() }

// Run processes one trigger. It never returns an error: failures are logged
// and reflected in the report.
func (s *Service[C, R]) Run(ctx context.Context, req Request) (report Report) {
	start := time.Now()
	name := s.strategy.ServiceName()
	tracks := s.strategy.TracksInProgress()

	report = Report{Service: name, Outcome: OutcomeDone}
	if tracks {
		report.ScopeID = s.strategy.LockScopeID(req)
	}
	logger := s.logger.With("service", name, "org_id", req.OrgID, "scope_id", report.ScopeID)

	defer func() {
		report.Duration = time.Since(start)
		s.observer.ObserveRun(name, string(report.Outcome))
		logger.Info("generation run finished",
			"outcome", report.Outcome,
			"results", report.Results,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}()

	if tracks {
		if s.states == nil {
			report.Outcome, report.Error = OutcomeFailed, "no operation state store configured"
			return report
		}
		holder := s.newHolder()
		ok, err := s.states.TryAcquire(ctx, name, report.ScopeID, holder, s.staleAfter)
		if err != nil {
			logger.Error("acquire in-progress lock", "error", err)
			report.Outcome, report.Error = OutcomeFailed, err.Error()
			return report
		}
		if !ok {
			logger.Info("generation already in progress, skipping")
			report.Outcome = OutcomeLockDenied
			return report
		}
		defer func() {
			// Release even when ctx was cancelled mid-run.
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.states.Release(relCtx, name, report.ScopeID, holder); err != nil {
				logger.Error("release in-progress lock", "error", err)
			}
		}()
	}

	configs, globals, err := s.strategy.LoadConfigs(ctx, req)
	if errors.Is(err, ErrOutOfScope) {
		logger.Debug("trigger out of scope", "reason", err)
		report.Outcome = OutcomeSkipped
		return report
	}
	if err != nil {
		logger.Error("load extractor configs", "error", err)
		report.Outcome, report.Error = OutcomeFailed, err.Error()
		return report
	}

	var state *opstate.State
	if tracks && !req.Rerun {
		state, err = opstate.Lookup(ctx, s.states, name, report.ScopeID)
		if err != nil {
			// Without bookmarks every extractor sees its whole batch as new.
			logger.Warn("load operation state", "error", err)
		}
	}

	var results []R
	for _, cfg := range configs {
		er, out := s.runExtractor(ctx, logger, req, report.ScopeID, cfg, globals, state)
		s.observer.ObserveExtractor(name, string(er.State), er.Windows)
		report.Extractors = append(report.Extractors, er)
		results = append(results, out...)
	}

	report.Results = len(results)
	if len(results) > 0 {
		if err := s.strategy.ProcessResults(ctx, req, results); err != nil {
			logger.Error("process results", "error", err, "results", len(results))
		}
	}
	return report
}

func (s *Service[C, R]) runExtractor(
	ctx context.Context,
	logger *slog.Logger,
	req Request,
	scopeID string,
	cfg C,
	globals orgconfig.Globals,
	state *opstate.State,
) (er ExtractorReport, results []R) {
	er.Name = cfg.ExtractorName()
	logger = logger.With("extractor", er.Name)
	tracks := s.strategy.TracksInProgress()
	gated := tracks && !req.Rerun

	skip, filter := sources.Resolve(cfg, req.Source, logger)
	if skip {
		er.State = StateSourceFilteredOut
		return er, nil
	}

	var since opstate.Bookmark
	if gated {
		since = state.Bookmark(er.Name)
	}

	batch, err := s.strategy.LoadBatch(ctx, req, filter, since)
	if err != nil {
		logger.Error("load interaction batch", "error", err)
		er.State, er.Error = StateFailed, err.Error()
		return er, nil
	}
	batch = sources.Apply(batch, filter)
	if len(batch) == 0 {
		er.State = StateEmptyBatch
		return er, nil
	}

	size, strideSize := window.Resolve(cfg, globals.WindowSize, globals.WindowStride)
	er.NewInteractions = stride.NewSince(batch, since.LastProcessedAt, since.LastRequestID)
	if gated && !stride.ShouldRun(er.NewInteractions, strideSize) {
		logger.Debug("stride gate closed", "new_interactions", er.NewInteractions, "stride", strideSize)
		er.State = StateStrideGateClosed
		return er, nil
	}

	extractor := s.strategy.CreateExtractor(req, cfg)
	var failures []error
	for idx, units := range window.Slide(batch, size, strideSize) {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		er.Windows++
		out, err := safeExtract(ctx, extractor, window.Window{Index: idx, Units: units})
		if err != nil {
			logger.Error("extractor failed on window", "window", idx, "error", err)
			failures = append(failures, fmt.Errorf("window %d: %w", idx, err))
			continue
		}
		results = append(results, out...)
	}
	er.Results = len(results)

	if len(failures) > 0 {
		er.State, er.Error = StateFailed, errors.Join(failures...).Error()
		return er, results
	}
	er.State = StateRan

	if tracks {
		s.advanceBookmark(ctx, logger, scopeID, er.Name, batch)
	}
	logger.Info("extractor ran",
		"windows", er.Windows,
		"results", er.Results,
		"window_size", size,
		"stride", strideSize,
	)
	return er, results
}

// advanceBookmark moves the extractor's bookmark to the newest request it has
// now fully processed.
func (s *Service[C, R]) advanceBookmark(ctx context.Context, logger *slog.Logger, scopeID, extractor string, batch []interaction.RequestInteractions) {
	newest, ok := interaction.Newest(batch)
	if !ok {
		return
	}
	b := opstate.Bookmark{LastProcessedAt: newest.CreatedAt, LastRequestID: newest.ID}
	if err := s.states.SetBookmark(ctx, s.strategy.ServiceName(), scopeID, extractor, b); err != nil {
		logger.Error("advance bookmark", "error", err)
	}
}

func safeExtract[R any](ctx context.Context, e Extractor[R], w window.Window) (out []R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.Extract(ctx, w)
}
