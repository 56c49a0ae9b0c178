package backfill

import (
	"testing"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

var base = time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC)

func turn(role interaction.Role, text string, offset time.Duration) Turn {
	return Turn{Role: role, Text: text, Timestamp: base.Add(offset)}
}

var owner = Owner{OrgID: "acme", UserID: "u1", AgentVersion: "v1", Source: "backfill"}

func TestSplitRequests_UserAfterAgentStartsRequest(t *testing.T) {
	turns := []Turn{
		turn(interaction.RoleUser, "hi", 0),
		turn(interaction.RoleUser, "are you there", time.Second),
		turn(interaction.RoleAgent, "yes", 2*time.Second),
		turn(interaction.RoleAgent, "how can I help", 3*time.Second),
		turn(interaction.RoleUser, "book a table", 4*time.Second),
		turn(interaction.RoleAgent, "done", 5*time.Second),
	}

	units := SplitRequests(turns, "s.jsonl", FormatSession, owner)
	if len(units) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(units))
	}
	if units[0].Len() != 4 || units[1].Len() != 2 {
		t.Errorf("lengths = %d, %d", units[0].Len(), units[1].Len())
	}
	if units[0].Request.RequestGroup == "" || units[0].Request.RequestGroup != units[1].Request.RequestGroup {
		t.Error("requests from one file share a request group")
	}
	r := units[1].Request
	if r.OrgID != "acme" || r.UserID != "u1" || r.Source != "backfill" || r.AgentVersion != "v1" {
		t.Errorf("owner not applied: %+v", r)
	}
	if !r.CreatedAt.Equal(base.Add(4 * time.Second)) {
		t.Errorf("created_at = %v", r.CreatedAt)
	}
	for _, it := range units[1].Interactions {
		if it.RequestID != r.ID || it.UserID != "u1" {
			t.Errorf("interaction not linked: %+v", it)
		}
	}
}

func TestSplitRequests_TimeGapDependsOnFormat(t *testing.T) {
	turns := []Turn{
		turn(interaction.RoleUser, "first", 0),
		turn(interaction.RoleUser, "much later", 7*time.Minute),
	}
	if n := len(SplitRequests(turns, "s.jsonl", FormatSession, owner)); n != 2 {
		t.Errorf("session format: expected 2 requests across a 7m gap, got %d", n)
	}
	if n := len(SplitRequests(turns, "g.jsonl", FormatGateway, owner)); n != 1 {
		t.Errorf("gateway format: expected 1 request within the 10m gap, got %d", n)
	}
}

func TestSplitRequests_TurnCap(t *testing.T) {
	var turns []Turn
	for i := range maxRequestTurns + 5 {
		turns = append(turns, turn(interaction.RoleAgent, "x", time.Duration(i)*time.Second))
	}
	units := SplitRequests(turns, "s.jsonl", FormatSession, owner)
	if len(units) != 2 || units[0].Len() != maxRequestTurns {
		t.Fatalf("expected a full request then the rest, got %d units", len(units))
	}
}

func TestSplitRequests_StableIDs(t *testing.T) {
	turns := []Turn{turn(interaction.RoleUser, "hi", 0), turn(interaction.RoleAgent, "hello", time.Second)}
	a := SplitRequests(turns, "s.jsonl", FormatSession, owner)
	b := SplitRequests(turns, "s.jsonl", FormatSession, owner)
	c := SplitRequests(turns, "other.jsonl", FormatSession, owner)

	if a[0].Request.ID != b[0].Request.ID || a[0].Interactions[1].ID != b[0].Interactions[1].ID {
		t.Error("re-importing a file must yield the same ids")
	}
	if a[0].Request.ID == c[0].Request.ID {
		t.Error("different files must not collide")
	}
	if a[0].Interactions[0].ID == a[0].Interactions[1].ID {
		t.Error("turn ids must be distinct")
	}
}

func TestSplitRequests_MissingTimestampsKeepOrder(t *testing.T) {
	turns := []Turn{
		{Role: interaction.RoleUser, Text: "a", Timestamp: base},
		{Role: interaction.RoleUser, Text: "b"},
	}
	units := SplitRequests(turns, "s.jsonl", FormatSession, owner)
	its := units[0].Interactions
	if !its[1].CreatedAt.After(its[0].CreatedAt) {
		t.Errorf("untimed turn must sort after its predecessor: %v vs %v", its[0].CreatedAt, its[1].CreatedAt)
	}
}

func TestSplitRequests_Empty(t *testing.T) {
	if units := SplitRequests(nil, "s.jsonl", FormatSession, owner); units != nil {
		t.Errorf("expected nil, got %v", units)
	}
}
