package prompt

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/valyala/fasttemplate"

	"github.com/MikeSquared-Agency/sift/internal/llm"
)

var (
	ErrUnknownPrompt   = errors.New("unknown prompt")
	ErrMissingVariable = errors.New("missing prompt variable")
)

// Template is one version of a prompt. Placeholders use {{name}}.
type Template struct {
	ID      string
	Version string
	System  string
	User    string
}

type compiled struct {
	Template
	system *fasttemplate.Template
	user   *fasttemplate.Template
}

// Registry holds every version of every prompt and which version is active.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]map[string]*compiled
	active   map[string]string
}

// NewRegistry compiles templates. For each id the highest version (by string
// order) starts active.
func NewRegistry(templates ...Template) (*Registry, error) {
	r := &Registry{
		versions: make(map[string]map[string]*compiled),
		active:   make(map[string]string),
	}
	for _, t := range templates {
		if err := r.add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(t Template) error {
	if t.ID == "" || t.Version == "" {
		return fmt.Errorf("prompt %q: id and version are required", t.ID)
	}
	c := &compiled{Template: t}
	var err error
	if c.system, err = fasttemplate.NewTemplate(t.System, "{{", "}}"); err != nil {
		return fmt.Errorf("prompt %s@%s system: %w", t.ID, t.Version, err)
	}
	if c.user, err = fasttemplate.NewTemplate(t.User, "{{", "}}"); err != nil {
		return fmt.Errorf("prompt %s@%s user: %w", t.ID, t.Version, err)
	}

	if r.versions[t.ID] == nil {
		r.versions[t.ID] = make(map[string]*compiled)
	}
	r.versions[t.ID][t.Version] = c
	if t.Version > r.active[t.ID] {
		r.active[t.ID] = t.Version
	}
	return nil
}

// SetActive pins the version used by Render for id.
func (r *Registry) SetActive(id, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[id][version]; !ok {
		return fmt.Errorf("%s@%s: %w", id, version, ErrUnknownPrompt)
	}
	r.active[id] = version
	return nil
}

// Versions lists the known versions of id in ascending order.
func (r *Registry) Versions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.versions[id]))
	for v := range r.versions[id] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Render fills the active version of id.
func (r *Registry) Render(id string, vars map[string]string) ([]llm.Message, error) {
	r.mu.RLock()
	version, ok := r.active[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownPrompt)
	}
	return r.RenderVersion(id, version, vars)
}

// RenderVersion fills a specific version of id. Every placeholder must have
// a value in vars.
func (r *Registry) RenderVersion(id, version string, vars map[string]string) ([]llm.Message, error) {
	r.mu.RLock()
	c, ok := r.versions[id][version]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", id, version, ErrUnknownPrompt)
	}

	tag := func(w io.Writer, name string) (int, error) {
		v, ok := vars[strings.TrimSpace(name)]
		if !ok {
			return 0, fmt.Errorf("%s@%s: %w %q", id, version, ErrMissingVariable, strings.TrimSpace(name))
		}
		return io.WriteString(w, v)
	}

	var msgs []llm.Message
	if c.Template.System != "" {
		system, err := c.system.ExecuteFuncStringWithErr(tag)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	user, err := c.user.ExecuteFuncStringWithErr(tag)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: user})
	return msgs, nil
}
