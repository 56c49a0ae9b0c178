package profile

import (
	"context"
	"fmt"
	"log/slog"
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
)

const ServiceName = "profile_generation"

// deleteMatchThreshold is how similar a requested deletion must be to an
// existing fact to remove it.
const deleteMatchThreshold = 0.8

type Options struct {
	Store   Store
	Configs ConfigSource
	LLM     llm.Client
	Prompts *prompt.Registry
	// Model is used when the org config does not name one.
	Model      string
	BatchLimit int
	Logger     *slog.Logger
}

// Strategy plugs profile extraction into generation.Service.
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

var _ generation.Strategy[orgconfig.ProfileExtractorConfig, Update] = (*Strategy)(nil)

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

// NewService builds the profile generation service.
func NewService(opts Options, genOpts generation.Options) *generation.Service[orgconfig.ProfileExtractorConfig, Update] {
	return generation.New[orgconfig.ProfileExtractorConfig, Update](NewStrategy(opts), genOpts)
}

func (s *Strategy) ServiceName() string    { return ServiceName }
func (s *Strategy) TracksInProgress() bool { return true }

func (s *Strategy) LockScopeID(req generation.Request) string {
	return req.OrgID + "/" + req.UserID
}

func (s *Strategy) LoadConfigs(ctx context.Context, req generation.Request) ([]orgconfig.ProfileExtractorConfig, orgconfig.Globals, error) {
	if req.UserID == "" {
		return nil, orgconfig.Globals{}, fmt.Errorf("profile generation requires a user id: %w", generation.ErrOutOfScope)
	}
	cfg, err := s.configs.Get(ctx, req.OrgID)
	if err != nil {
		return nil, orgconfig.Globals{}, fmt.Errorf("load org config: %w", err)
	}
	return cfg.ProfileExtractors, cfg.Globals(), nil
}

func (s *Strategy) LoadBatch(ctx context.Context, req generation.Request, filter sources.Filter, since opstate.Bookmark) ([]interaction.RequestInteractions, error) {
	return s.store.GetRequestInteractions(ctx, interaction.Query{
		OrgID:          req.OrgID,
		UserID:         req.UserID,
		Sources:        filter,
		AfterTime:      since.LastProcessedAt,
		AfterRequestID: since.LastRequestID,
		Limit:          s.batchLimit,
		Forward:        !req.Rerun,
	})
}

func (s *Strategy) CreateExtractor(req generation.Request, cfg orgconfig.ProfileExtractorConfig) generation.Extractor[Update] {
	return &Extractor{
		cfg:     cfg,
		orgID:   req.OrgID,
		userID:  req.UserID,
		store:   s.store,
		llm:     s.llm,
		prompts: s.prompts,
		model:   func(ctx context.Context) string { return s.resolveModel(ctx, req.OrgID) },
		logger:  s.logger.With("extractor", cfg.Name, "user_id", req.UserID),
	}
}

// resolveModel prefers the org's configured model.
func (s *Strategy) resolveModel(ctx context.Context, orgID string) string {
	if c, err := s.configs.Get(ctx, orgID); err == nil && c.Model != "" {
		return c.Model
	}
	return s.model
}

// ProcessResults merges the proposed updates into the user's stored profile.
func (s *Strategy) ProcessResults(ctx context.Context, req generation.Request, updates []Update) error {
	existing, err := s.store.ListProfiles(ctx, req.OrgID, req.UserID)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	now := s.now()

	toDelete := make(map[string]struct{})
	for _, p := range existing {
		if p.Expired(now) {
			toDelete[p.ID] = struct{}{}
		}
	}
	for _, u := range updates {
		for _, content := range u.Delete {
			for _, p := range existing {
				if matches(p.Content, content) {
					toDelete[p.ID] = struct{}{}
				}
			}
		}
	}

	// Facts that survive the deletions count as already known.
	known := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		if _, gone := toDelete[p.ID]; !gone {
			known[dedup.Normalize(p.Content)] = struct{}{}
		}
	}

	var adds []UserProfile
	for _, u := range updates {
		for _, a := range u.Add {
			if dedup.Normalize(a.Content) == "" {
				continue
			}
			ttl := a.TimeToLive.Normalize()
			adds = append(adds, UserProfile{
				ID:                     s.newID(),
				OrgID:                  req.OrgID,
				UserID:                 req.UserID,
				Content:                a.Content,
				TTL:                    ttl,
				ExpiresAt:              ttl.ExpiresAt(now),
				SourceExtractor:        u.Extractor,
				GeneratedFromRequestID: u.RequestID,
				LastModified:           now,
			})
		}
	}
	adds = dedup.KeepFirst(adds, func(p UserProfile) string { return dedup.Normalize(p.Content) })
	fresh := adds[:0]
	for _, p := range adds {
		if _, ok := known[dedup.Normalize(p.Content)]; !ok {
			fresh = append(fresh, p)
		}
	}

	if len(toDelete) > 0 {
		ids := make([]string, 0, len(toDelete))
		for _, p := range existing {
			if _, ok := toDelete[p.ID]; ok {
				ids = append(ids, p.ID)
			}
		}
		if err := s.store.DeleteProfiles(ctx, req.OrgID, req.UserID, ids); err != nil {
			return fmt.Errorf("delete profiles: %w", err)
		}
	}
	if len(fresh) > 0 {
		if err := s.store.SaveProfiles(ctx, fresh); err != nil {
			return fmt.Errorf("save profiles: %w", err)
		}
	}

	s.logger.Info("profiles updated",
		"org_id", req.OrgID,
		"user_id", req.UserID,
		"added", len(fresh),
		"deleted", len(toDelete),
	)
	return nil
}

func matches(existing, requested string) bool {
	a, b := dedup.Normalize(existing), dedup.Normalize(requested)
	if a == "" || b == "" {
		return false
	}
	return a == b || dedup.Similarity(a, b) >= deleteMatchThreshold
}
