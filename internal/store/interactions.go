package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

// SaveRequestInteractions writes a request and its interactions. Existing
// rows are left untouched since interactions are immutable.
func (s *Store) SaveRequestInteractions(ctx context.Context, unit interaction.RequestInteractions) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r := unit.Request
	_, err = tx.Exec(ctx, `
		INSERT INTO requests (id, org_id, user_id, source, agent_version, request_group, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.OrgID, r.UserID, r.Source, r.AgentVersion, r.RequestGroup, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	for _, it := range unit.Interactions {
		var toolName, toolInput *string
		if it.ToolUse != nil {
			toolName, toolInput = &it.ToolUse.Name, &it.ToolUse.Input
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO interactions (id, request_id, user_id, role, content, image_ref, shadow_content,
				user_action, user_action_description, tool_name, tool_input, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING`,
			it.ID, r.ID, it.UserID, string(it.Role), it.Content, it.ImageRef, it.ShadowContent,
			it.UserAction, it.UserActionDescription, toolName, toolInput, it.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert interaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRequestInteractions returns the units matching q, oldest first.
func (s *Store) GetRequestInteractions(ctx context.Context, q interaction.Query) ([]interaction.RequestInteractions, error) {
	sql, args := requestQuery(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	reqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (interaction.Request, error) {
		var r interaction.Request
		err := row.Scan(&r.ID, &r.OrgID, &r.UserID, &r.Source, &r.AgentVersion, &r.RequestGroup, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan requests: %w", err)
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	// Unpositioned queries read newest first so LIMIT keeps the most
	// recent; flip back.
	if !q.Forward {
		slices.Reverse(reqs)
	}

	ids := make([]string, len(reqs))
	units := make([]interaction.RequestInteractions, len(reqs))
	index := make(map[string]int, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
		units[i].Request = r
		index[r.ID] = i
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, request_id, user_id, role, content, image_ref, shadow_content,
			user_action, user_action_description, tool_name, tool_input, created_at
		FROM interactions
		WHERE request_id = ANY($1)
		ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it interaction.Interaction
		var role string
		var toolName, toolInput *string
		if err := rows.Scan(&it.ID, &it.RequestID, &it.UserID, &role, &it.Content, &it.ImageRef, &it.ShadowContent,
			&it.UserAction, &it.UserActionDescription, &toolName, &toolInput, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		it.Role = interaction.Role(role)
		if toolName != nil {
			it.ToolUse = &interaction.ToolUse{Name: *toolName}
			if toolInput != nil {
				it.ToolUse.Input = *toolInput
			}
		}
		i := index[it.RequestID]
		units[i].Interactions = append(units[i].Interactions, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return units, nil
}

func requestQuery(q interaction.Query) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if q.OrgID != "" {
		add("org_id = $%d", q.OrgID)
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.AgentVersion != "" {
		add("agent_version = $%d", q.AgentVersion)
	}
	if q.RequestID != "" {
		add("id = $%d", q.RequestID)
	}
	if len(q.Sources) > 0 {
		add("source = ANY($%d)", q.Sources)
	}
	if !q.AfterTime.IsZero() {
		args = append(args, q.AfterTime, q.AfterRequestID)
		where = append(where, fmt.Sprintf("(created_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	}
	if !q.Before.IsZero() {
		add("created_at < $%d", q.Before)
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, org_id, user_id, source, agent_version, request_group, created_at FROM requests")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if q.Forward {
		sb.WriteString(" ORDER BY created_at, id")
	} else {
		sb.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

// matchesQuery applies q to one request the way requestQuery does in SQL.
func matchesQuery(q interaction.Query, r interaction.Request) bool {
	switch {
	case q.OrgID != "" && r.OrgID != q.OrgID:
		return false
	case q.UserID != "" && r.UserID != q.UserID:
		return false
	case q.AgentVersion != "" && r.AgentVersion != q.AgentVersion:
		return false
	case q.RequestID != "" && r.ID != q.RequestID:
		return false
	case len(q.Sources) > 0 && !slices.Contains(q.Sources, r.Source):
		return false
	case !q.AfterTime.IsZero() && !interaction.After(r, q.AfterTime, q.AfterRequestID):
		return false
	case !q.Before.IsZero() && !r.CreatedAt.Before(q.Before):
		return false
	}
	return true
}

func byCreation(a, b interaction.Request) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
