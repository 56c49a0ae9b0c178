package generation

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/opstate"
	"github.com/MikeSquared-Agency/sift/internal/orgconfig"
	"github.com/MikeSquared-Agency/sift/internal/sources"
	"github.com/MikeSquared-Agency/sift/internal/window"
)

// Request identifies what triggered a run.
type Request struct {
	OrgID        string `json:"org_id"`
	UserID       string `json:"user_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	AgentVersion string `json:"agent_version,omitempty"`
	// Source is the ingestion channel of the triggering request; empty when
	// unknown.
	Source string `json:"source,omitempty"`
	// Rerun reprocesses everything in scope, ignoring bookmarks and the
	// stride gate.
	Rerun bool `json:"rerun,omitempty"`
}

// ExtractorConfig is what every extractor configuration exposes to the
// orchestrator.
type ExtractorConfig interface {
	window.Overrides
	sources.Filterable
	ExtractorName() string
}

// Extractor turns one window of interactions into artifacts.
type Extractor[R any] interface {
	Extract(ctx context.Context, w window.Window) ([]R, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc[R any] func(ctx context.Context, w window.Window) ([]R, error)

func (f ExtractorFunc[R]) Extract(ctx context.Context, w window.Window) ([]R, error) {
	return f(ctx, w)
}

// Strategy supplies everything artifact-specific to a Service.
type Strategy[C ExtractorConfig, R any] interface {
	ServiceName() string
	// TracksInProgress enables the per-scope lock, bookmarks and the stride
	// gate.
	TracksInProgress() bool
	LockScopeID(req Request) string
	LoadConfigs(ctx context.Context, req Request) ([]C, orgconfig.Globals, error)
	// LoadBatch returns the units in scope for req, oldest first, restricted
	// to filter and to requests after since.
	LoadBatch(ctx context.Context, req Request, filter sources.Filter, since opstate.Bookmark) ([]interaction.RequestInteractions, error)
	CreateExtractor(req Request, cfg C) Extractor[R]
	ProcessResults(ctx context.Context, req Request, results []R) error
}

// Outcome is the overall result of a run.
type Outcome string

const (
	OutcomeDone       Outcome = "done"
	OutcomeLockDenied Outcome = "lock_denied"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// ErrOutOfScope is wrapped by LoadConfigs when the trigger lacks what the
// service needs, e.g. profile generation without a user. The run is
// reported as skipped rather than failed.
var ErrOutOfScope = errors.New("trigger out of scope for service")

// ExtractorState is where an extractor stopped during a run.
type ExtractorState string

const (
	StateSourceFilteredOut ExtractorState = "source_filtered_out"
	StateStrideGateClosed  ExtractorState = "stride_gate_closed"
	StateEmptyBatch        ExtractorState = "empty_batch"
	StateRan               ExtractorState = "ran"
	StateFailed            ExtractorState = "failed"
)

type ExtractorReport struct {
	Name            string         `json:"name"`
	State           ExtractorState `json:"state"`
	NewInteractions int            `json:"new_interactions"`
	Windows         int            `json:"windows"`
	Results         int            `json:"results"`
	Error           string         `json:"error,omitempty"`
}

// Report summarises one run.
type Report struct {
	Service    string            `json:"service"`
	ScopeID    string            `json:"scope_id,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Extractors []ExtractorReport `json:"extractors"`
	Results    int               `json:"results"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration_ns"`
}

// Extractor returns the report for the named extractor.
func (r Report) Extractor(name string) (ExtractorReport, bool) {
	for _, e := range r.Extractors {
		if e.Name == name {
			return e, true
		}
	}
	return ExtractorReport{}, false
}

// Runner is the non-generic face of a Service.
type Runner interface {
	Name() string
	Run(ctx context.Context, req Request) Report
}

// Observer receives run and extractor outcomes.
type Observer interface {
	ObserveRun(service, outcome string)
	ObserveExtractor(service, state string, windows int)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, string) {}
func (nopObserver) ObserveExtractor(string, string, int) {}
