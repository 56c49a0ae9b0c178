package opstate

import (
	"context"
	"maps"
	"sync"
	"time"
)

type key struct{ service, scope string }

// Memory is an in-process Store for local use and tests.
type Memory struct {
	mu     sync.Mutex
	states map[key]*State
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{states: make(map[key]*State), now: time.Now}
}

func (m *Memory) Get(_ context.Context, service, scope string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key{service, scope}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	cp.Bookmarks = maps.Clone(st.Bookmarks)
	return &cp, nil
}

func (m *Memory) List(_ context.Context, service string) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []State
	for k, st := range m.states {
		if service != "" && k.service != service {
			continue
		}
		cp := *st
		cp.Bookmarks = maps.Clone(st.Bookmarks)
		out = append(out, cp)
	}
	return out, nil
}

func (m *Memory) SetBookmark(_ context.Context, service, scope, extractor string, b Bookmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.ensure(service, scope)
	st.Bookmarks[extractor] = b
	st.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Delete(_ context.Context, service, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[key{service, scope}]; !ok {
		return ErrNotFound
	}
	delete(m.states, key{service, scope})
	return nil
}

func (m *Memory) TryAcquire(_ context.Context, service, scope, holder string, staleAfter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.ensure(service, scope)
	now := m.now()
	if st.InProgress && now.Sub(st.LockedAt) < staleAfter {
		return false, nil
	}
	st.InProgress = true
	st.Holder = holder
	st.LockedAt = now
	st.UpdatedAt = now
	return true, nil
}

func (m *Memory) Release(_ context.Context, service, scope, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key{service, scope}]
	if !ok || st.Holder != holder {
		return nil
	}
	st.InProgress = false
	st.Holder = ""
	st.LockedAt = time.Time{}
	st.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ensure(service, scope string) *State {
	k := key{service, scope}
	st, ok := m.states[k]
	if !ok {
		st = &State{ServiceName: service, ScopeID: scope, Bookmarks: make(map[string]Bookmark)}
		m.states[k] = st
	}
	return st
}
