// Package opstate defines the per-(service, scope) bookkeeping record: the
// in-progress lock and the per-extractor bookmarks that feed the stride gate.
package opstate

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no state exists for the key.
var ErrNotFound = errors.New("operation state not found")

// Bookmark marks the newest request an extractor has fully processed.
type Bookmark struct {
	LastProcessedAt time.Time `json:"last_processed_at"`
	LastRequestID   string    `json:"last_request_id"`
}

// IsZero reports whether the extractor has never completed a run.
func (b Bookmark) IsZero() bool {
	return b.LastProcessedAt.IsZero() && b.LastRequestID == ""
}

// State is the record for one (service, scope) pair.
type State struct {
	ServiceName string              `json:"service_name"`
	ScopeID     string              `json:"scope_id"`
	InProgress  bool                `json:"in_progress"`
	Holder      string              `json:"holder,omitempty"`
	LockedAt    time.Time           `json:"locked_at,omitzero"`
	Bookmarks   map[string]Bookmark `json:"bookmarks"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Bookmark returns the bookmark for an extractor, zero if none.
func (s *State) Bookmark(extractor string) Bookmark {
	if s == nil {
		return Bookmark{}
	}
	return s.Bookmarks[extractor]
}

// Store persists operation state.
//
// TryAcquire is a compare-and-set: it succeeds when no holder has the lock or
// the current lock is older than staleAfter, creating the record if needed.
// Contention is reported as false, never as an error. Release only clears a
// lock still owned by holder.
type Store interface {
	Get(ctx context.Context, service, scope string) (*State, error)
	// List returns every record for service, or all records when empty.
	List(ctx context.Context, service string) ([]State, error)
	SetBookmark(ctx context.Context, service, scope, extractor string, b Bookmark) error
	Delete(ctx context.Context, service, scope string) error
	TryAcquire(ctx context.Context, service, scope, holder string, staleAfter time.Duration) (bool, error)
	Release(ctx context.Context, service, scope, holder string) error
}

// Lookup returns the state for a key, or nil without error when none exists.
func Lookup(ctx context.Context, s Store, service, scope string) (*State, error) {
	st, err := s.Get(ctx, service, scope)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return st, err
}
