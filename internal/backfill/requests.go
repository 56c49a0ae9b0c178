package backfill

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

const (
	maxRequestTurns = 40
	sessionTimeGap  = 5 * time.Minute
	gatewayTimeGap  = 10 * time.Minute
)

// Owner is who the imported requests belong to.
type Owner struct {
	OrgID        string
	UserID       string
	AgentVersion string
	Source       string
}

// SplitRequests groups a transcript's turns into request units. A user turn
// that follows an agent turn opens a new request, as do long silences and
// the turn cap. Every request in one file shares the file's session as its
// request group. Ids derive from sessionRef and position, so importing the
// same file twice yields the same ids.
func SplitRequests(turns []Turn, sessionRef string, format FileFormat, owner Owner) []interaction.RequestInteractions {
	if len(turns) == 0 {
		return nil
	}
	gap := sessionTimeGap
	if format == FormatGateway {
		gap = gatewayTimeGap
	}
	group := stableID(sessionRef, "session")

	var out []interaction.RequestInteractions
	var current []Turn
	flush := func() {
		if len(current) > 0 {
			out = append(out, buildRequest(current, sessionRef, group, len(out), owner))
			current = nil
		}
	}

	for _, t := range turns {
		if len(current) > 0 {
			prev := current[len(current)-1]
			switch {
			case t.Role == interaction.RoleUser && prev.Role == interaction.RoleAgent:
				flush()
			case !t.Timestamp.IsZero() && !prev.Timestamp.IsZero() && t.Timestamp.Sub(prev.Timestamp) > gap:
				flush()
			case len(current) >= maxRequestTurns:
				flush()
			}
		}
		current = append(current, t)
	}
	flush()
	return out
}

func buildRequest(turns []Turn, sessionRef, group string, idx int, owner Owner) interaction.RequestInteractions {
	reqID := stableID(sessionRef, fmt.Sprintf("request-%d", idx))
	created := firstTimestamp(turns)
	unit := interaction.RequestInteractions{
		Request: interaction.Request{
			ID:           reqID,
			OrgID:        owner.OrgID,
			UserID:       owner.UserID,
			CreatedAt:    created,
			Source:       owner.Source,
			AgentVersion: owner.AgentVersion,
			RequestGroup: group,
		},
		Interactions: make([]interaction.Interaction, 0, len(turns)),
	}
	for i, t := range turns {
		at := t.Timestamp
		if at.IsZero() {
			// Keep arrival order for turns without a timestamp.
			at = created.Add(time.Duration(i) * time.Millisecond)
		}
		unit.Interactions = append(unit.Interactions, interaction.Interaction{
			ID:        stableID(reqID, fmt.Sprintf("turn-%d", i)),
			UserID:    owner.UserID,
			RequestID: reqID,
			Role:      t.Role,
			Content:   t.Text,
			ToolUse:   t.Tool,
			CreatedAt: at,
		})
	}
	return unit
}

func firstTimestamp(turns []Turn) time.Time {
	for _, t := range turns {
		if !t.Timestamp.IsZero() {
			return t.Timestamp
		}
	}
	return time.Time{}
}

func stableID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, "#"))).String()
}
