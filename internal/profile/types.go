package profile

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/orgconfig"
)

// TTL is how long a profile fact stays valid.
type TTL string

const (
	OneDay     TTL = "one_day"
	OneWeek    TTL = "one_week"
	OneMonth   TTL = "one_month"
	OneQuarter TTL = "one_quarter"
	OneYear    TTL = "one_year"
	Infinity   TTL = "infinity"
)

var ttlDurations = map[TTL]time.Duration{
	OneDay:     24 * time.Hour,
	OneWeek:    7 * 24 * time.Hour,
	OneMonth:   30 * 24 * time.Hour,
	OneQuarter: 90 * 24 * time.Hour,
	OneYear:    365 * 24 * time.Hour,
}

// Normalize maps unknown classes to OneMonth.
func (t TTL) Normalize() TTL {
	if t == Infinity {
		return t
	}
	if _, ok := ttlDurations[t]; ok {
		return t
	}
	return OneMonth
}

// ExpiresAt returns when a fact created at from expires; zero for Infinity.
func (t TTL) ExpiresAt(from time.Time) time.Time {
	d, ok := ttlDurations[t.Normalize()]
	if !ok {
		return time.Time{}
	}
	return from.Add(d)
}

// UserProfile is one remembered fact about a user.
type UserProfile struct {
	ID                     string    `json:"id"`
	OrgID                  string    `json:"org_id"`
	UserID                 string    `json:"user_id"`
	Content                string    `json:"content"`
	TTL                    TTL       `json:"time_to_live"`
	ExpiresAt              time.Time `json:"expires_at,omitzero"`
	SourceExtractor        string    `json:"source_extractor"`
	GeneratedFromRequestID string    `json:"generated_from_request_id"`
	LastModified           time.Time `json:"last_modified"`
}

// Expired reports whether the fact has lapsed at now.
func (p UserProfile) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Addition is a fact the model wants to remember.
type Addition struct {
	Content    string `json:"content"`
	TimeToLive TTL    `json:"time_to_live"`
}

// Update is one extractor's proposal for one window.
type Update struct {
	Extractor string     `json:"extractor"`
	RequestID string     `json:"request_id"` // newest request in the window
	Add       []Addition `json:"add"`
	Delete    []string   `json:"delete"`
}

// Store is what profile generation needs from storage.
type Store interface {
	interaction.Source
	ListProfiles(ctx context.Context, orgID, userID string) ([]UserProfile, error)
	SaveProfiles(ctx context.Context, profiles []UserProfile) error
	DeleteProfiles(ctx context.Context, orgID, userID string, ids []string) error
}

// ConfigSource resolves an organization's config; orgconfig.Cache fits.
type ConfigSource interface {
	Get(ctx context.Context, orgID string) (*orgconfig.Config, error)
}
