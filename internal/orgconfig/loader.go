package orgconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"
)

// Loader fetches an organization's configuration.
type Loader interface {
	Load(ctx context.Context, orgID string) (*Config, error)
}

// FileLoader reads <Dir>/<orgID>.yaml.
type FileLoader struct {
	Dir string
}

func (l FileLoader) Load(_ context.Context, orgID string) (*Config, error) {
	if orgID == "" || strings.ContainsAny(orgID, `/\`) || strings.Contains(orgID, "..") {
		return nil, fmt.Errorf("org %q: %w", orgID, ErrUnknownOrg)
	}

	data, err := os.ReadFile(filepath.Join(l.Dir, orgID+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("org %q: %w", orgID, ErrUnknownOrg)
	}
	if err != nil {
		return nil, fmt.Errorf("read org config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("org %q: %w", orgID, err)
	}
	if cfg.OrgID == "" {
		cfg.OrgID = orgID
	}
	return cfg, nil
}

// Parse decodes and validates a YAML org config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse org config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate org config: %w", err)
	}
	return &cfg, nil
}

// Cache is a size- and TTL-bounded cache in front of a Loader. Entries are
// evicted least-recently-used when full and dropped once older than the TTL,
// so edits to org config files are picked up within one TTL. Lookup failures
// are not cached.
type Cache struct {
	loader Loader
	lru    *expirable.LRU[string, *Config]
	logger *slog.Logger
}

func NewCache(loader Loader, size int, ttl time.Duration, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		loader: loader,
		lru:    expirable.NewLRU[string, *Config](size, nil, ttl),
		logger: logger,
	}
}

// Get returns the cached config for orgID, loading it on a miss.
func (c *Cache) Get(ctx context.Context, orgID string) (*Config, error) {
	if cfg, ok := c.lru.Get(orgID); ok {
		return cfg, nil
	}
	cfg, err := c.loader.Load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	c.lru.Add(orgID, cfg)
	c.logger.Debug("org config loaded", "org_id", orgID,
		"profile_extractors", len(cfg.ProfileExtractors),
		"feedback_extractors", len(cfg.FeedbackExtractors),
		"success_evaluators", len(cfg.SuccessEvaluators),
	)
	return cfg, nil
}

// Invalidate drops orgID from the cache.
func (c *Cache) Invalidate(orgID string) {
	c.lru.Remove(orgID)
}

// Load lets a Cache stand in wherever a Loader is expected.
func (c *Cache) Load(ctx context.Context, orgID string) (*Config, error) {
	return c.Get(ctx, orgID)
}
