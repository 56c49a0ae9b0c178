package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/llm"
	"github.com/MikeSquared-Agency/sift/internal/orgconfig"
	"github.com/MikeSquared-Agency/sift/internal/prompt"
	"github.com/MikeSquared-Agency/sift/internal/window"
)

// Extractor proposes profile changes for one user from a window.
type Extractor struct {
	cfg     orgconfig.ProfileExtractorConfig
	orgID   string
	userID  string
	store   Store
	llm     llm.Client
	prompts *prompt.Registry
	model   func(context.Context) string
	logger  *slog.Logger
}

type llmResponse struct {
	Add    []Addition `json:"add"`
	Delete []string   `json:"delete"`
}

func (e *Extractor) Extract(ctx context.Context, w window.Window) ([]Update, error) {
	existing, err := e.store.ListProfiles(ctx, e.orgID, e.userID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	msgs, err := e.prompts.Render(prompt.ProfileUpdate, map[string]string{
		"profile_definition": e.cfg.ProfileContentDefinition,
		"context_prompt":     orNone(e.cfg.ContextPrompt),
		"existing_profiles":  formatProfiles(existing),
		"history":            interaction.FormatHistory(w.Units, interaction.FormatOptions{IncludeSource: true}),
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	e.logger.Debug("extracting profile updates",
		"window", w.Index,
		"requests", len(w.Units),
		"interactions", w.Interactions(),
	)

	raw, err := e.llm.GenerateChatResponse(ctx, msgs, e.model(ctx), llm.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("llm profile extraction: %w", err)
	}

	var resp llmResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		e.logger.Error("failed to parse profile response", "error", err, "raw", raw)
		return nil, fmt.Errorf("parse profile update: %w", err)
	}
	if len(resp.Add) == 0 && len(resp.Delete) == 0 {
		return nil, nil
	}

	var requestID string
	if newest, ok := interaction.Newest(w.Units); ok {
		requestID = newest.ID
	}
	return []Update{{
		Extractor: e.cfg.Name,
		RequestID: requestID,
		Add:       resp.Add,
		Delete:    resp.Delete,
	}}, nil
}

func formatProfiles(profiles []UserProfile) string {
	if len(profiles) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for _, p := range profiles {
		fmt.Fprintf(&sb, "- %s\n", p.Content)
	}
	return sb.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
