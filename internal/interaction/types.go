package interaction

import (
	"context"
	"time"
)

// Role identifies who produced an interaction turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "assistant"
)

// ToolUse records a tool invoked by the agent during a turn.
type ToolUse struct {
	Name  string `json:"tool_name"`
	Input string `json:"tool_input"`
}

// Interaction is one atomic user or agent turn. Immutable once stored.
type Interaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	RequestID     string    `json:"request_id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	ImageRef      string    `json:"image_ref,omitempty"`
	ShadowContent string    `json:"shadow_content,omitempty"` // alternate agent content for A/B comparison
	CreatedAt     time.Time `json:"created_at"`

	UserAction            string   `json:"user_action,omitempty"` // e.g. "click", "scroll"
	UserActionDescription string   `json:"user_action_description,omitempty"`
	ToolUse               *ToolUse `json:"tool_use,omitempty"`
}

// Request is one logical user request arriving through an ingestion channel.
type Request struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	Source       string    `json:"source"` // ingestion channel, e.g. "api", "webhook"
	AgentVersion string    `json:"agent_version"`
	RequestGroup string    `json:"request_group,omitempty"`
}

// RequestInteractions pairs a request with its ordered interactions. It is
// the indivisible unit for windowing: a window holds whole units only.
type RequestInteractions struct {
	Request      Request       `json:"request"`
	Interactions []Interaction `json:"interactions"`
}

// Len returns the number of interactions in the unit.
func (u RequestInteractions) Len() int {
	return len(u.Interactions)
}

// Group returns the request-group label, falling back to the request id so
// ungrouped requests still form their own session.
func (u RequestInteractions) Group() string {
	if u.Request.RequestGroup != "" {
		return u.Request.RequestGroup
	}
	return u.Request.ID
}

// Query selects request units from an interaction source. Zero-valued
// fields do not constrain the result.
type Query struct {
	OrgID        string
	UserID       string
	AgentVersion string
	RequestID    string
	Sources      []string

	// After excludes everything at or before the (AfterTime, AfterRequestID)
	// position, ordering by creation time then request id.
	AfterTime      time.Time
	AfterRequestID string
	Before         time.Time

	// Limit caps the number of requests returned, keeping the newest unless
	// Forward is set.
	Limit   int
	// Forward keeps the oldest requests past the After position instead, so
	// a bookmark walks a backlog larger than Limit in order.
	Forward bool
}

// Source supplies request units ordered oldest first, with each unit's
// interactions in arrival order.
type Source interface {
	GetRequestInteractions(ctx context.Context, q Query) ([]RequestInteractions, error)
}

// Count returns the total number of interactions across units.
func Count(units []RequestInteractions) int {
	n := 0
	for _, u := range units {
		n += u.Len()
	}
	return n
}

// Flatten returns every interaction across units, preserving order.
func Flatten(units []RequestInteractions) []Interaction {
	out := make([]Interaction, 0, Count(units))
	for _, u := range units {
		out = append(out, u.Interactions...)
	}
	return out
}

// HasShadow reports whether any interaction carries shadow content.
func HasShadow(units []RequestInteractions) bool {
	for _, u := range units {
		for _, it := range u.Interactions {
			if it.ShadowContent != "" {
				return true
			}
		}
	}
	return false
}

// Newest returns the request that sorts last by (CreatedAt, ID). ok is false
// for an empty slice.
func Newest(units []RequestInteractions) (req Request, ok bool) {
	for _, u := range units {
		if !ok || After(u.Request, req.CreatedAt, req.ID) {
			req = u.Request
			ok = true
		}
	}
	return req, ok
}

// After reports whether r sorts strictly after the (t, id) position.
func After(r Request, t time.Time, id string) bool {
	if r.CreatedAt.After(t) {
		return true
	}
	return r.CreatedAt.Equal(t) && r.ID > id
}
