package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/generation"
	"github.com/MikeSquared-Agency/sift/internal/hermes"
)

const alertTimeout = 10 * time.Second

// Alerter posts failed generation runs to Slack. It sits beside the NATS
// client as a processor publisher and ignores every other subject.
type Alerter struct {
	poster *Poster
}

func NewAlerter(poster *Poster) *Alerter {
	return &Alerter{poster: poster}
}

func (a *Alerter) Publish(subject string, data any) error {
	if subject != hermes.SubjectGenerationCompleted {
		return nil
	}
	evt, ok := data.(hermes.GenerationCompleted)
	if !ok || !failed(evt) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	ts, err := a.poster.PostMessage(ctx, formatAlert(evt))
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	a.poster.logger.Info("posted generation alert to slack", "ts", ts, "service", evt.Service, "scope_id", evt.ScopeID)
	return nil
}

func failed(evt hermes.GenerationCompleted) bool {
	if evt.Outcome == generation.OutcomeFailed {
		return true
	}
	for _, e := range evt.Extractors {
		if e.State == generation.StateFailed {
			return true
		}
	}
	return false
}

func formatAlert(evt hermes.GenerationCompleted) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*%s failed* for org `%s`", evt.Service, evt.OrgID)
	if evt.ScopeID != "" {
		fmt.Fprintf(&sb, " scope `%s`", evt.ScopeID)
	}
	if evt.RequestID != "" {
		fmt.Fprintf(&sb, " (request `%s`)", evt.RequestID)
	}
	sb.WriteString("\n")
	if evt.Error != "" {
		fmt.Fprintf(&sb, "*Error:* %s\n", evt.Error)
	}

	for _, e := range evt.Extractors {
		if e.State != generation.StateFailed {
			continue
		}
		fmt.Fprintf(&sb, "- `%s`: %s\n", e.Name, e.Error)
	}
	fmt.Fprintf(&sb, "_Outcome %s after %dms, %d results saved._", evt.Outcome, evt.DurationMS, evt.Results)
	return sb.String()
}
