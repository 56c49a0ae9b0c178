package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/dedup"
	"github.com/MikeSquared-Agency/sift/internal/generation"
	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/llm"
	"github.com/MikeSquared-Agency/sift/internal/opstate"
	"github.com/MikeSquared-Agency/sift/internal/orgconfig"
	"github.com/MikeSquared-Agency/sift/internal/prompt"
	"github.com/MikeSquared-Agency/sift/internal/sources"
	"github.com/MikeSquared-Agency/sift/internal/window"
)

const ServiceName = "success_evaluation"

// ErrNoRequest is returned when a trigger does not name a request.
var ErrNoRequest = fmt.Errorf("success evaluation requires a request id: %w", generation.ErrOutOfScope)

// SuccessEvaluation is one evaluator's judgement of one request.
type SuccessEvaluation struct {
	OrgID         string    `json:"org_id"`
	RequestID     string    `json:"request_id"`
	AgentVersion  string    `json:"agent_version"`
	EvaluatorName string    `json:"evaluator_name"`
	IsSuccess     bool      `json:"is_success"`
	FailureType   string    `json:"failure_type,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Verdict       Verdict   `json:"regular_vs_shadow,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Store interface {
	interaction.Source
	SaveEvaluations(ctx context.Context, evals []SuccessEvaluation) error
}

type ConfigSource interface {
	Get(ctx context.Context, orgID string) (*orgconfig.Config, error)
}

type Options struct {
	Store   Store
	Configs ConfigSource
	LLM     llm.Client
	Prompts *prompt.Registry
	Model   string
	Logger  *slog.Logger
}

// Strategy evaluates single requests. It runs without the in-progress lock:
// every request is evaluated at most once per trigger.
type Strategy struct {
	store   Store
	configs ConfigSource
	llm     llm.Client
	prompts *prompt.Registry
	model   string
	logger  *slog.Logger

	now func() time.Time
	// coin decides whether the regular rendering is shown as request 1.
	coin func() bool
	// sample returns a value in [0, 1) compared against the sampling rate.
	sample func() float64
}

var _ generation.Strategy[orgconfig.SuccessEvaluatorConfig, SuccessEvaluation] = (*Strategy)(nil)

func NewStrategy(opts Options) *Strategy {
	s := &Strategy{
		store:   opts.Store,
		configs: opts.Configs,
		llm:     opts.LLM,
		prompts: opts.Prompts,
		model:   opts.Model,
		logger:  opts.Logger,
		now:     time.Now,
		coin:    func() bool { return rand.IntN(2) == 0 },
		sample:  rand.Float64,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.prompts == nil {
		s.prompts = prompt.Default()
	}
	return s
}

func NewService(opts Options, genOpts generation.Options) *generation.Service[orgconfig.SuccessEvaluatorConfig, SuccessEvaluation] {
	return generation.New[orgconfig.SuccessEvaluatorConfig, SuccessEvaluation](NewStrategy(opts), genOpts)
}

func (s *Strategy) ServiceName() string    { return ServiceName }
func (s *Strategy) TracksInProgress() bool { return false }

func (s *Strategy) LockScopeID(req generation.Request) string {
	return req.OrgID + "/" + req.RequestID
}

// LoadConfigs returns the evaluators sampled for this request.
func (s *Strategy) LoadConfigs(ctx context.Context, req generation.Request) ([]orgconfig.SuccessEvaluatorConfig, orgconfig.Globals, error) {
	if req.RequestID == "" {
		return nil, orgconfig.Globals{}, ErrNoRequest
	}
	cfg, err := s.configs.Get(ctx, req.OrgID)
	if err != nil {
		return nil, orgconfig.Globals{}, fmt.Errorf("load org config: %w", err)
	}

	var sampled []orgconfig.SuccessEvaluatorConfig
	for _, e := range cfg.SuccessEvaluators {
		if req.Rerun || s.sample() < e.Rate() {
			sampled = append(sampled, e)
			continue
		}
		s.logger.Debug("request not sampled", "evaluator", e.Name, "request_id", req.RequestID, "rate", e.Rate())
	}
	return sampled, cfg.Globals(), nil
}

func (s *Strategy) LoadBatch(ctx context.Context, req generation.Request, filter sources.Filter, _ opstate.Bookmark) ([]interaction.RequestInteractions, error) {
	return s.store.GetRequestInteractions(ctx, interaction.Query{
		OrgID:     req.OrgID,
		RequestID: req.RequestID,
		Sources:   filter,
	})
}

func (s *Strategy) CreateExtractor(req generation.Request, cfg orgconfig.SuccessEvaluatorConfig) generation.Extractor[SuccessEvaluation] {
	logger := s.logger.With("evaluator", cfg.Name, "request_id", req.RequestID)
	return generation.ExtractorFunc[SuccessEvaluation](func(ctx context.Context, w window.Window) ([]SuccessEvaluation, error) {
		return s.evaluate(ctx, logger, req, cfg, w)
	})
}

type judgement struct {
	IsSuccess             bool   `json:"is_success"`
	FailureType           string `json:"failure_type"`
	FailureReason         string `json:"failure_reason"`
	BetterRequest         string `json:"better_request"`
	IsSignificantlyBetter bool   `json:"is_significantly_better"`
}

func (s *Strategy) evaluate(ctx context.Context, logger *slog.Logger, req generation.Request, cfg orgconfig.SuccessEvaluatorConfig, w window.Window) ([]SuccessEvaluation, error) {
	newest, ok := interaction.Newest(w.Units)
	if !ok {
		return nil, nil
	}

	vars := map[string]string{
		"agent_description":  orNone(cfg.AgentDescription),
		"tools":              formatTools(cfg.Tools),
		"success_definition": cfg.SuccessDefinition,
	}

	id := prompt.SuccessEvaluation
	compare := interaction.HasShadow(w.Units)
	var regularIsRequest1 bool
	if compare {
		id = prompt.SuccessComparison
		regular := interaction.FormatHistory(w.Units, interaction.FormatOptions{})
		shadow := interaction.FormatHistory(w.Units, interaction.FormatOptions{Shadow: true})
		regularIsRequest1 = s.coin()
		if regularIsRequest1 {
			vars["request_1"], vars["request_2"] = regular, shadow
		} else {
			vars["request_1"], vars["request_2"] = shadow, regular
		}
	} else {
		vars["history"] = interaction.FormatHistory(w.Units, interaction.FormatOptions{})
	}

	msgs, err := s.prompts.Render(id, vars)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	raw, err := s.llm.GenerateChatResponse(ctx, msgs, s.resolveModel(ctx, req.OrgID), llm.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("llm success evaluation: %w", err)
	}
	var j judgement
	if err := llm.DecodeJSON(raw, &j); err != nil {
		logger.Error("failed to parse evaluation response", "error", err, "raw", raw)
		return nil, fmt.Errorf("parse evaluation: %w", err)
	}

	eval := SuccessEvaluation{
		OrgID:         req.OrgID,
		RequestID:     newest.ID,
		AgentVersion:  newest.AgentVersion,
		EvaluatorName: cfg.Name,
		IsSuccess:     j.IsSuccess,
		CreatedAt:     s.now(),
	}
	if !j.IsSuccess {
		eval.FailureType = strings.TrimSpace(j.FailureType)
		eval.FailureReason = strings.TrimSpace(j.FailureReason)
	}
	if compare {
		eval.Verdict = MapVerdict(regularIsRequest1, strings.TrimSpace(j.BetterRequest), j.IsSignificantlyBetter)
		logger.Debug("shadow comparison",
			"regular_is_request_1", regularIsRequest1,
			"better_request", j.BetterRequest,
			"verdict", eval.Verdict,
		)
	}
	return []SuccessEvaluation{eval}, nil
}

func (s *Strategy) resolveModel(ctx context.Context, orgID string) string {
	if c, err := s.configs.Get(ctx, orgID); err == nil && c.Model != "" {
		return c.Model
	}
	return s.model
}

// ProcessResults keeps the first judgement per request, whichever evaluator
// produced it, and saves them.
func (s *Strategy) ProcessResults(ctx context.Context, req generation.Request, evals []SuccessEvaluation) error {
	evals = dedup.KeepFirst(evals, func(e SuccessEvaluation) string {
		return e.RequestID
	})
	if err := s.store.SaveEvaluations(ctx, evals); err != nil {
		return fmt.Errorf("save evaluations: %w", err)
	}
	s.logger.Info("evaluations saved", "org_id", req.OrgID, "request_id", req.RequestID, "count", len(evals))
	return nil
}

func formatTools(tools []string) string {
	if len(tools) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(tools, "\n- ")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
