package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/sift/internal/opstate"
)

const stateColumns = `service_name, scope_id, in_progress, holder, locked_at, bookmarks, updated_at`

func scanState(row pgx.Row) (opstate.State, error) {
	var st opstate.State
	var lockedAt *time.Time
	var bookmarks []byte
	if err := row.Scan(&st.ServiceName, &st.ScopeID, &st.InProgress, &st.Holder, &lockedAt, &bookmarks, &st.UpdatedAt); err != nil {
		return st, err
	}
	if lockedAt != nil {
		st.LockedAt = *lockedAt
	}
	st.Bookmarks = map[string]opstate.Bookmark{}
	if len(bookmarks) > 0 {
		if err := json.Unmarshal(bookmarks, &st.Bookmarks); err != nil {
			return st, fmt.Errorf("decode bookmarks: %w", err)
		}
	}
	return st, nil
}

func (s *Store) Get(ctx context.Context, service, scope string) (*opstate.State, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+stateColumns+`
		FROM operation_state
		WHERE service_name = $1 AND scope_id = $2`,
		service, scope,
	)
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, opstate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation state: %w", err)
	}
	return &st, nil
}

func (s *Store) List(ctx context.Context, service string) ([]opstate.State, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+stateColumns+`
		FROM operation_state
		WHERE $1 = '' OR service_name = $1
		ORDER BY service_name, scope_id`,
		service,
	)
	if err != nil {
		return nil, fmt.Errorf("list operation state: %w", err)
	}
	states, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (opstate.State, error) {
		return scanState(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan operation state: %w", err)
	}
	return states, nil
}

func (s *Store) SetBookmark(ctx context.Context, service, scope, extractor string, b opstate.Bookmark) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bookmark: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO operation_state (service_name, scope_id, bookmarks, updated_at)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::jsonb), now())
		ON CONFLICT (service_name, scope_id)
		DO UPDATE SET
			bookmarks = operation_state.bookmarks || jsonb_build_object($3::text, $4::jsonb),
			updated_at = now()`,
		service, scope, extractor, string(raw),
	)
	if err != nil {
		return fmt.Errorf("set bookmark: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, service, scope string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM operation_state WHERE service_name = $1 AND scope_id = $2`,
		service, scope,
	)
	if err != nil {
		return fmt.Errorf("delete operation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return opstate.ErrNotFound
	}
	return nil
}

// TryAcquire takes the in-progress lock in a single statement: the upsert
// only updates a row whose lock is free or older than staleAfter.
func (s *Store) TryAcquire(ctx context.Context, service, scope, holder string, staleAfter time.Duration) (bool, error) {
	var got string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO operation_state (service_name, scope_id, in_progress, holder, locked_at, updated_at)
		VALUES ($1, $2, true, $3, now(), now())
		ON CONFLICT (service_name, scope_id)
		DO UPDATE SET
			in_progress = true,
			holder = EXCLUDED.holder,
			locked_at = now(),
			updated_at = now()
		WHERE NOT operation_state.in_progress
			OR operation_state.locked_at IS NULL
			OR operation_state.locked_at < now() - $4 * interval '1 second'
		RETURNING holder`,
		service, scope, holder, staleAfter.Seconds(),
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return got == holder, nil
}

func (s *Store) Release(ctx context.Context, service, scope, holder string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE operation_state
		SET in_progress = false, holder = '', locked_at = NULL, updated_at = now()
		WHERE service_name = $1 AND scope_id = $2 AND holder = $3`,
		service, scope, holder,
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
