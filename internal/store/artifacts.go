package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/sift/internal/evaluation"
	"github.com/MikeSquared-Agency/sift/internal/feedback"
	"github.com/MikeSquared-Agency/sift/internal/profile"
)

// ListProfiles returns a user's profile facts, oldest first.
func (s *Store) ListProfiles(ctx context.Context, orgID, userID string) ([]profile.UserProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, user_id, content, time_to_live, expires_at, source_extractor,
			generated_from_request_id, last_modified
		FROM user_profiles
		WHERE org_id = $1 AND user_id = $2
		ORDER BY last_modified, id`,
		orgID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (profile.UserProfile, error) {
		var p profile.UserProfile
		var ttl string
		var expires *time.Time
		err := row.Scan(&p.ID, &p.OrgID, &p.UserID, &p.Content, &ttl, &expires, &p.SourceExtractor,
			&p.GeneratedFromRequestID, &p.LastModified)
		p.TTL = profile.TTL(ttl)
		if expires != nil {
			p.ExpiresAt = *expires
		}
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}
	return profiles, nil
}

func (s *Store) SaveProfiles(ctx context.Context, profiles []profile.UserProfile) error {
	batch := &pgx.Batch{}
	for _, p := range profiles {
		var expires *time.Time
		if !p.ExpiresAt.IsZero() {
			expires = &p.ExpiresAt
		}
		batch.Queue(`
			INSERT INTO user_profiles (id, org_id, user_id, content, time_to_live, expires_at,
				source_extractor, generated_from_request_id, last_modified)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				time_to_live = EXCLUDED.time_to_live,
				expires_at = EXCLUDED.expires_at,
				last_modified = EXCLUDED.last_modified`,
			p.ID, p.OrgID, p.UserID, p.Content, string(p.TTL), expires,
			p.SourceExtractor, p.GeneratedFromRequestID, p.LastModified,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}
	return nil
}

func (s *Store) DeleteProfiles(ctx context.Context, orgID, userID string, ids []string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM user_profiles WHERE org_id = $1 AND user_id = $2 AND id = ANY($3)`,
		orgID, userID, ids,
	)
	if err != nil {
		return fmt.Errorf("delete profiles: %w", err)
	}
	return nil
}

func (s *Store) SaveFeedback(ctx context.Context, items []feedback.RawFeedback) error {
	batch := &pgx.Batch{}
	for _, f := range items {
		batch.Queue(`
			INSERT INTO raw_feedback (id, org_id, agent_version, request_id, feedback_name, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			f.ID, f.OrgID, f.AgentVersion, f.RequestID, f.FeedbackName, f.Content, f.CreatedAt,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// SaveEvaluations upserts by (org, request, evaluator); a rerun replaces the
// earlier judgement.
func (s *Store) SaveEvaluations(ctx context.Context, evals []evaluation.SuccessEvaluation) error {
	batch := &pgx.Batch{}
	for _, e := range evals {
		batch.Queue(`
			INSERT INTO success_evaluations (org_id, request_id, evaluator_name, agent_version, is_success,
				failure_type, failure_reason, verdict, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (org_id, request_id, evaluator_name) DO UPDATE SET
				is_success = EXCLUDED.is_success,
				failure_type = EXCLUDED.failure_type,
				failure_reason = EXCLUDED.failure_reason,
				verdict = EXCLUDED.verdict,
				created_at = EXCLUDED.created_at`,
			e.OrgID, e.RequestID, e.EvaluatorName, e.AgentVersion, e.IsSuccess,
			e.FailureType, e.FailureReason, string(e.Verdict), e.CreatedAt,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save evaluations: %w", err)
	}
	return nil
}
