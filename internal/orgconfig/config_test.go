package orgconfig

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sift/internal/sources"
	"github.com/MikeSquared-Agency/sift/internal/window"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const acmeYAML = `
org_id: acme
extraction_window_size: 20
profile_extractors:
  - name: preferences
    profile_content_definition: stable user preferences
    extraction_window_stride_override: 3
    request_sources_enabled: [api, webhook]
feedback_extractors:
  - feedback_name: tone
    feedback_definition: complaints about tone
success_evaluators:
  - name: task_success
    success_definition: the user got what they asked for
    sampling_rate: 0.5
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(acmeYAML))
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.OrgID)
	require.Len(t, cfg.ProfileExtractors, 1)
	p := cfg.ProfileExtractors[0]
	assert.Equal(t, []string{"api", "webhook"}, p.EnabledSources())
	assert.Nil(t, p.WindowSizeOverride())
	require.NotNil(t, p.WindowStrideOverride())

	g := cfg.Globals()
	size, stride := window.Resolve(p, g.WindowSize, g.WindowStride)
	assert.Equal(t, 20, size)
	assert.Equal(t, 3, stride)

	skip, filter := sources.Resolve(p, "api", discardLogger())
	assert.False(t, skip)
	assert.Equal(t, sources.Filter{"api"}, filter)

	require.Len(t, cfg.FeedbackExtractors, 1)
	assert.Equal(t, "tone", cfg.FeedbackExtractors[0].ExtractorName())
	assert.Empty(t, cfg.FeedbackExtractors[0].EnabledSources())

	require.Len(t, cfg.SuccessEvaluators, 1)
	assert.InDelta(t, 0.5, cfg.SuccessEvaluators[0].Rate(), 1e-9)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"duplicate":     "profile_extractors:\n  - name: a\n  - name: a\n",
		"missing name":  "feedback_extractors:\n  - feedback_definition: x\n",
		"sampling rate": "success_evaluators:\n  - name: s\n    sampling_rate: 1.5\n",
		"bad yaml":      "profile_extractors: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSamplingRateDefaultsToAll(t *testing.T) {
	assert.Equal(t, 1.0, SuccessEvaluatorConfig{}.Rate())
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(acmeYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.yaml"), []byte("profile_extractors: []\n"), 0o644))

	l := FileLoader{Dir: dir}
	ctx := context.Background()

	cfg, err := l.Load(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, cfg.ProfileExtractors, 1)

	cfg, err = l.Load(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", cfg.OrgID)

	for _, org := range []string{"missing", "", "../acme", "a/b"} {
		_, err = l.Load(ctx, org)
		assert.ErrorIs(t, err, ErrUnknownOrg, org)
	}
}

type countingLoader struct {
	calls atomic.Int32
}

func (c *countingLoader) Load(_ context.Context, orgID string) (*Config, error) {
	c.calls.Add(1)
	if orgID == "missing" {
		return nil, ErrUnknownOrg
	}
	return &Config{OrgID: orgID}, nil
}

func TestCache(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader, 8, time.Hour, discardLogger())
	ctx := context.Background()

	for range 3 {
		cfg, err := cache.Get(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", cfg.OrgID)
	}
	assert.EqualValues(t, 1, loader.calls.Load())

	cache.Invalidate("acme")
	_, err := cache.Get(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())

	// failures are not cached
	for range 2 {
		_, err = cache.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrUnknownOrg)
	}
	assert.EqualValues(t, 4, loader.calls.Load())
}

func TestCache_Expires(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader, 8, 20*time.Millisecond, discardLogger())
	ctx := context.Background()

	_, err := cache.Get(ctx, "acme")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = cache.Get(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestCache_NilLogger(t *testing.T) {
	cache := NewCache(&countingLoader{}, 0, time.Hour, nil)
	ctx := context.Background()

	cfg, err := cache.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.OrgID)
	_, err = cache.Get(ctx, "acme")
	require.NoError(t, err)
	_, err = cache.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownOrg)
}
