package orgconfig

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/sift/internal/sources"
	"github.com/MikeSquared-Agency/sift/internal/window"
)

// ErrUnknownOrg is returned when no configuration exists for an organization.
var ErrUnknownOrg = errors.New("unknown organization")

// Config is one organization's extraction configuration.
type Config struct {
	OrgID string `yaml:"org_id"`
	Model string `yaml:"model,omitempty"` // overrides the service-wide model

	ExtractionWindowSize   *int `yaml:"extraction_window_size,omitempty"`
	ExtractionWindowStride *int `yaml:"extraction_window_stride,omitempty"`

	ProfileExtractors  []ProfileExtractorConfig  `yaml:"profile_extractors"`
	FeedbackExtractors []FeedbackExtractorConfig `yaml:"feedback_extractors"`
	SuccessEvaluators  []SuccessEvaluatorConfig  `yaml:"success_evaluators"`
}

// Globals holds the org-wide window parameters extractors fall back to.
type Globals struct {
	WindowSize   *int
	WindowStride *int
}

func (c *Config) Globals() Globals {
	return Globals{WindowSize: c.ExtractionWindowSize, WindowStride: c.ExtractionWindowStride}
}

// ExtractorWindow carries the per-extractor window and source settings shared
// by every extractor kind.
type ExtractorWindow struct {
	ExtractionWindowSizeOverride   *int     `yaml:"extraction_window_size_override,omitempty"`
	ExtractionWindowStrideOverride *int     `yaml:"extraction_window_stride_override,omitempty"`
	RequestSourcesEnabled          []string `yaml:"request_sources_enabled,omitempty"`
}

func (w ExtractorWindow) WindowSizeOverride() *int   { return w.ExtractionWindowSizeOverride }
func (w ExtractorWindow) WindowStrideOverride() *int { return w.ExtractionWindowStrideOverride }
func (w ExtractorWindow) EnabledSources() []string   { return w.RequestSourcesEnabled }

// ProfileExtractorConfig describes what a profile extractor should learn
// about a user.
type ProfileExtractorConfig struct {
	Name                     string `yaml:"name"`
	ProfileContentDefinition string `yaml:"profile_content_definition"`
	ContextPrompt            string `yaml:"context_prompt,omitempty"`
	ExtractorWindow          `yaml:",inline"`
}

func (c ProfileExtractorConfig) ExtractorName() string { return c.Name }

// FeedbackExtractorConfig describes one kind of agent feedback to extract.
type FeedbackExtractorConfig struct {
	Name               string `yaml:"feedback_name"`
	FeedbackDefinition string `yaml:"feedback_definition"`
	ExtractorWindow    `yaml:",inline"`
}

func (c FeedbackExtractorConfig) ExtractorName() string { return c.Name }

// SuccessEvaluatorConfig describes how to judge whether a request succeeded.
type SuccessEvaluatorConfig struct {
	Name              string   `yaml:"name"`
	AgentDescription  string   `yaml:"agent_description,omitempty"`
	SuccessDefinition string   `yaml:"success_definition"`
	Tools             []string `yaml:"tools,omitempty"`
	// SamplingRate is the fraction of requests evaluated; nil means all.
	SamplingRate    *float64 `yaml:"sampling_rate,omitempty"`
	ExtractorWindow `yaml:",inline"`
}

func (c SuccessEvaluatorConfig) ExtractorName() string { return c.Name }

// Rate returns the effective sampling rate in [0, 1].
func (c SuccessEvaluatorConfig) Rate() float64 {
	if c.SamplingRate == nil {
		return 1
	}
	return *c.SamplingRate
}

var (
	_ window.Overrides   = ProfileExtractorConfig{}
	_ window.Overrides   = FeedbackExtractorConfig{}
	_ window.Overrides   = SuccessEvaluatorConfig{}
	_ sources.Filterable = ProfileExtractorConfig{}
	_ sources.Filterable = FeedbackExtractorConfig{}
	_ sources.Filterable = SuccessEvaluatorConfig{}
)

// Validate checks names are present and unique per extractor kind and that
// sampling rates are fractions.
func (c *Config) Validate() error {
	if err := uniqueNames("profile extractor", c.ProfileExtractors, ProfileExtractorConfig.ExtractorName); err != nil {
		return err
	}
	if err := uniqueNames("feedback extractor", c.FeedbackExtractors, FeedbackExtractorConfig.ExtractorName); err != nil {
		return err
	}
	if err := uniqueNames("success evaluator", c.SuccessEvaluators, SuccessEvaluatorConfig.ExtractorName); err != nil {
		return err
	}
	for _, e := range c.SuccessEvaluators {
		if r := e.Rate(); r < 0 || r > 1 {
			return fmt.Errorf("success evaluator %q: sampling_rate %v outside [0, 1]", e.Name, r)
		}
	}
	return nil
}

func uniqueNames[T any](kind string, items []T, name func(T) string) error {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		n := name(it)
		if n == "" {
			return fmt.Errorf("%s %d: name is required", kind, i)
		}
		if seen[n] {
			return fmt.Errorf("%s %q: duplicate name", kind, n)
		}
		seen[n] = true
	}
	return nil
}
