package sources

import (
	"log/slog"
	"slices"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

// Filterable is implemented by extractor configs that restrict which request
// sources they accept. An empty list accepts every source.
type Filterable interface {
	EnabledSources() []string
}

// Filter narrows a batch by request source. A nil Filter accepts all.
type Filter []string

// Accepts reports whether source passes the filter.
func (f Filter) Accepts(source string) bool {
	return f == nil || slices.Contains(f, source)
}

// Resolve decides whether an extractor should consider a trigger and which
// sources its batch should draw from. triggeringSource is empty when the
// trigger carries no source, as for reruns.
//
//   - no restriction configured: run, accept all
//   - no triggering source: run, restricted to the configured sources
//   - triggering source configured: run, restricted to that source
//   - otherwise: skip
func Resolve(cfg Filterable, triggeringSource string, logger *slog.Logger) (skip bool, filter Filter) {
	var enabled []string
	if cfg != nil {
		enabled = cfg.EnabledSources()
	}
	if len(enabled) == 0 {
		return false, nil
	}
	if triggeringSource == "" {
		return false, slices.Clone(enabled)
	}
	if slices.Contains(enabled, triggeringSource) {
		return false, Filter{triggeringSource}
	}

	if logger != nil {
		logger.Warn("triggering source not enabled for extractor",
			"source", triggeringSource,
			"enabled_sources", enabled,
		)
	}
	return true, nil
}

// Apply returns the units whose request source passes filter, preserving
// order. A nil filter returns units unchanged.
func Apply(units []interaction.RequestInteractions, filter Filter) []interaction.RequestInteractions {
	if filter == nil {
		return units
	}
	out := make([]interaction.RequestInteractions, 0, len(units))
	for _, u := range units {
		if filter.Accepts(u.Request.Source) {
			out = append(out, u)
		}
	}
	return out
}
