package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/sift/internal/evaluation"
	"github.com/MikeSquared-Agency/sift/internal/feedback"
	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/opstate"
	"github.com/MikeSquared-Agency/sift/internal/profile"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = opstate.ErrNotFound

// Backend is everything the services need from storage.
type Backend interface {
	opstate.Store
	profile.Store
	feedback.Store
	evaluation.Store
	SaveRequestInteractions(ctx context.Context, unit interaction.RequestInteractions) error
	Close()
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Memory)(nil)
)

// Store is the Postgres backend.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Open returns the Postgres backend, or an in-memory one when databaseURL is
// empty.
func Open(ctx context.Context, databaseURL string) (Backend, error) {
	if databaseURL == "" {
		return NewMemory(), nil
	}
	return New(ctx, databaseURL)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id            TEXT PRIMARY KEY,
	org_id        TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	agent_version TEXT NOT NULL DEFAULT '',
	request_group TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS requests_org_user_idx ON requests (org_id, user_id, created_at, id);
CREATE INDEX IF NOT EXISTS requests_org_version_idx ON requests (org_id, agent_version, created_at, id);

CREATE TABLE IF NOT EXISTS interactions (
	id                      TEXT PRIMARY KEY,
	request_id              TEXT NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
	user_id                 TEXT NOT NULL,
	role                    TEXT NOT NULL,
	content                 TEXT NOT NULL DEFAULT '',
	image_ref               TEXT NOT NULL DEFAULT '',
	shadow_content          TEXT NOT NULL DEFAULT '',
	user_action             TEXT NOT NULL DEFAULT '',
	user_action_description TEXT NOT NULL DEFAULT '',
	tool_name               TEXT,
	tool_input              TEXT,
	created_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS interactions_request_idx ON interactions (request_id, created_at);

CREATE TABLE IF NOT EXISTS operation_state (
	service_name TEXT NOT NULL,
	scope_id     TEXT NOT NULL,
	in_progress  BOOLEAN NOT NULL DEFAULT false,
	holder       TEXT NOT NULL DEFAULT '',
	locked_at    TIMESTAMPTZ,
	bookmarks    JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (service_name, scope_id)
);

CREATE TABLE IF NOT EXISTS user_profiles (
	id                        TEXT PRIMARY KEY,
	org_id                    TEXT NOT NULL,
	user_id                   TEXT NOT NULL,
	content                   TEXT NOT NULL,
	time_to_live              TEXT NOT NULL,
	expires_at                TIMESTAMPTZ,
	source_extractor          TEXT NOT NULL DEFAULT '',
	generated_from_request_id TEXT NOT NULL DEFAULT '',
	last_modified             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS user_profiles_user_idx ON user_profiles (org_id, user_id);

CREATE TABLE IF NOT EXISTS raw_feedback (
	id            TEXT PRIMARY KEY,
	org_id        TEXT NOT NULL,
	agent_version TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	feedback_name TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS success_evaluations (
	org_id         TEXT NOT NULL,
	request_id     TEXT NOT NULL,
	evaluator_name TEXT NOT NULL,
	agent_version  TEXT NOT NULL DEFAULT '',
	is_success     BOOLEAN NOT NULL,
	failure_type   TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	verdict        TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (org_id, request_id, evaluator_name)
);
`
