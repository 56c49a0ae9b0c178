package store

import (
	"context"
	"slices"
	"sync"

	"github.com/MikeSquared-Agency/sift/internal/evaluation"
	"github.com/MikeSquared-Agency/sift/internal/feedback"
	"github.com/MikeSquared-Agency/sift/internal/interaction"
	"github.com/MikeSquared-Agency/sift/internal/opstate"
	"github.com/MikeSquared-Agency/sift/internal/profile"
)

// Memory keeps everything in process. It backs local runs without
// DATABASE_URL and the end-to-end tests.
type Memory struct {
	*opstate.Memory

	mu          sync.RWMutex
	units       map[string]interaction.RequestInteractions
	profiles    []profile.UserProfile
	feedback    []feedback.RawFeedback
	evaluations []evaluation.SuccessEvaluation
}

func NewMemory() *Memory {
	return &Memory{
		Memory: opstate.NewMemory(),
		units:  make(map[string]interaction.RequestInteractions),
	}
}

func (m *Memory) Close() {}

func (m *Memory) SaveRequestInteractions(_ context.Context, unit interaction.RequestInteractions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.units[unit.Request.ID]
	if !ok {
		existing.Request = unit.Request
	}
	for _, it := range unit.Interactions {
		if !slices.ContainsFunc(existing.Interactions, func(x interaction.Interaction) bool { return x.ID == it.ID }) {
			existing.Interactions = append(existing.Interactions, it)
		}
	}
	m.units[unit.Request.ID] = existing
	return nil
}

func (m *Memory) GetRequestInteractions(_ context.Context, q interaction.Query) ([]interaction.RequestInteractions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []interaction.RequestInteractions
	for _, u := range m.units {
		if matchesQuery(q, u.Request) {
			u.Interactions = slices.Clone(u.Interactions)
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b interaction.RequestInteractions) int {
		return byCreation(a.Request, b.Request)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		if q.Forward {
			out = out[:q.Limit]
		} else {
			out = out[len(out)-q.Limit:]
		}
	}
	for _, u := range out {
		slices.SortStableFunc(u.Interactions, func(a, b interaction.Interaction) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}
	return out, nil
}

func (m *Memory) ListProfiles(_ context.Context, orgID, userID string) ([]profile.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []profile.UserProfile
	for _, p := range m.profiles {
		if p.OrgID == orgID && p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) SaveProfiles(_ context.Context, profiles []profile.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range profiles {
		i := slices.IndexFunc(m.profiles, func(x profile.UserProfile) bool { return x.ID == p.ID })
		if i >= 0 {
			m.profiles[i] = p
			continue
		}
		m.profiles = append(m.profiles, p)
	}
	return nil
}

func (m *Memory) DeleteProfiles(_ context.Context, orgID, userID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = slices.DeleteFunc(m.profiles, func(p profile.UserProfile) bool {
		return p.OrgID == orgID && p.UserID == userID && slices.Contains(ids, p.ID)
	})
	return nil
}

func (m *Memory) SaveFeedback(_ context.Context, items []feedback.RawFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, items...)
	return nil
}

// Feedback returns saved feedback for an agent version.
func (m *Memory) Feedback(orgID, agentVersion string) []feedback.RawFeedback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []feedback.RawFeedback
	for _, f := range m.feedback {
		if f.OrgID == orgID && f.AgentVersion == agentVersion {
			out = append(out, f)
		}
	}
	return out
}

func (m *Memory) SaveEvaluations(_ context.Context, evals []evaluation.SuccessEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range evals {
		i := slices.IndexFunc(m.evaluations, func(x evaluation.SuccessEvaluation) bool {
			return x.OrgID == e.OrgID && x.RequestID == e.RequestID && x.EvaluatorName == e.EvaluatorName
		})
		if i >= 0 {
			m.evaluations[i] = e
			continue
		}
		m.evaluations = append(m.evaluations, e)
	}
	return nil
}

// Evaluations returns saved evaluations for a request.
func (m *Memory) Evaluations(orgID, requestID string) []evaluation.SuccessEvaluation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []evaluation.SuccessEvaluation
	for _, e := range m.evaluations {
		if e.OrgID == orgID && e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}
