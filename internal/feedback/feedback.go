package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

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

const ServiceName = "feedback_generation"

// RawFeedback is one behavioral observation about an agent version.
type RawFeedback struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	AgentVersion string    `json:"agent_version"`
	RequestID    string    `json:"request_id"` // newest request in the source window
	FeedbackName string    `json:"feedback_name"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is what feedback generation needs from storage.
type Store interface {
	interaction.Source
	SaveFeedback(ctx context.Context, items []RawFeedback) error
}

type ConfigSource interface {
	Get(ctx context.Context, orgID string) (*orgconfig.Config, error)
}

type Options struct {
	Store      Store
	Configs    ConfigSource
	LLM        llm.Client
	Prompts    *prompt.Registry
	Model      string
	BatchLimit int
	Logger     *slog.Logger
}

// Strategy plugs feedback extraction into generation.Service. Feedback is
// about the agent, so runs are scoped per agent version.
type Strategy struct {
	store      Store
	configs    ConfigSource
	llm        llm.Client
	prompts    *prompt.Registry
	model      string
	batchLimit int
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

var _ generation.Strategy[orgconfig.FeedbackExtractorConfig, RawFeedback] = (*Strategy)(nil)

func NewStrategy(opts Options) *Strategy {
	s := &Strategy{
		store:      opts.Store,
		configs:    opts.Configs,
		llm:        opts.LLM,
		prompts:    opts.Prompts,
		model:      opts.Model,
		batchLimit: opts.BatchLimit,
		logger:     opts.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.prompts == nil {
		s.prompts = prompt.Default()
	}
	return s
}

func NewService(opts Options, genOpts generation.Options) *generation.Service[orgconfig.FeedbackExtractorConfig, RawFeedback] {
	return generation.New[orgconfig.FeedbackExtractorConfig, RawFeedback](NewStrategy(opts), genOpts)
}

func (s *Strategy) ServiceName() string    { return ServiceName }
func (s *Strategy) TracksInProgress() bool { return true }

func (s *Strategy) LockScopeID(req generation.Request) string {
	return req.OrgID + "/" + req.AgentVersion
}

func (s *Strategy) LoadConfigs(ctx context.Context, req generation.Request) ([]orgconfig.FeedbackExtractorConfig, orgconfig.Globals, error) {
	if req.AgentVersion == "" {
		return nil, orgconfig.Globals{}, fmt.Errorf("feedback generation requires an agent version: %w", generation.ErrOutOfScope)
	}
	cfg, err := s.configs.Get(ctx, req.OrgID)
	if err != nil {
		return nil, orgconfig.Globals{}, fmt.Errorf("load org config: %w", err)
	}
	return cfg.FeedbackExtractors, cfg.Globals(), nil
}

func (s *Strategy) LoadBatch(ctx context.Context, req generation.Request, filter sources.Filter, since opstate.Bookmark) ([]interaction.RequestInteractions, error) {
	return s.store.GetRequestInteractions(ctx, interaction.Query{
		OrgID:          req.OrgID,
		AgentVersion:   req.AgentVersion,
		Sources:        filter,
		AfterTime:      since.LastProcessedAt,
		AfterRequestID: since.LastRequestID,
		Limit:          s.batchLimit,
		Forward:        !req.Rerun,
	})
}

func (s *Strategy) CreateExtractor(req generation.Request, cfg orgconfig.FeedbackExtractorConfig) generation.Extractor[RawFeedback] {
	logger := s.logger.With("extractor", cfg.Name, "agent_version", req.AgentVersion)
	return generation.ExtractorFunc[RawFeedback](func(ctx context.Context, w window.Window) ([]RawFeedback, error) {
		return s.extract(ctx, logger, req, cfg, w)
	})
}

type llmResponse struct {
	Feedbacks []struct {
		Content string `json:"content"`
	} `json:"feedbacks"`
}

func (s *Strategy) extract(ctx context.Context, logger *slog.Logger, req generation.Request, cfg orgconfig.FeedbackExtractorConfig, w window.Window) ([]RawFeedback, error) {
	msgs, err := s.prompts.Render(prompt.FeedbackExtraction, map[string]string{
		"feedback_name":       cfg.Name,
		"feedback_definition": cfg.FeedbackDefinition,
		"history":             interaction.FormatHistory(w.Units, interaction.FormatOptions{IncludeSource: true}),
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := s.llm.GenerateChatResponse(ctx, msgs, s.resolveModel(ctx, req.OrgID), llm.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("llm feedback extraction: %w", err)
	}
	var resp llmResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		logger.Error("failed to parse feedback response", "error", err, "raw", raw)
		return nil, fmt.Errorf("parse feedback: %w", err)
	}

	var requestID string
	if newest, ok := interaction.Newest(w.Units); ok {
		requestID = newest.ID
	}
	now := s.now()
	var out []RawFeedback
	for _, f := range resp.Feedbacks {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		out = append(out, RawFeedback{
			ID:           s.newID(),
			OrgID:        req.OrgID,
			AgentVersion: req.AgentVersion,
			RequestID:    requestID,
			FeedbackName: cfg.Name,
			Content:      content,
			CreatedAt:    now,
		})
	}
	logger.Debug("feedback extracted", "window", w.Index, "count", len(out))
	return out, nil
}

func (s *Strategy) resolveModel(ctx context.Context, orgID string) string {
	if c, err := s.configs.Get(ctx, orgID); err == nil && c.Model != "" {
		return c.Model
	}
	return s.model
}

// ProcessResults drops repeats of the same feedback, which overlapping
// windows produce routinely, and saves the rest.
func (s *Strategy) ProcessResults(ctx context.Context, req generation.Request, items []RawFeedback) error {
	items = dedup.KeepFirst(items, func(f RawFeedback) string {
		return f.FeedbackName + "\x00" + dedup.Normalize(f.Content)
	})
	if len(items) == 0 {
		return nil
	}
	if err := s.store.SaveFeedback(ctx, items); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	s.logger.Info("feedback saved", "org_id", req.OrgID, "agent_version", req.AgentVersion, "count", len(items))
	return nil
}
