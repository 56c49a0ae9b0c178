package interaction

import (
	"fmt"
	"sort"
	"strings"
)

// FormatOptions controls history rendering.
type FormatOptions struct {
	// Shadow renders agent turns with their shadow content where present.
	Shadow bool
	// IncludeSource adds the request source label to each request header.
	IncludeSource bool
}

// FormatHistory renders units as a User:/Agent: transcript suitable for a
// prompt variable. Interactions inside a request are rendered in creation
// order regardless of input order.
func FormatHistory(units []RequestInteractions, opts FormatOptions) string {
	var sb strings.Builder
	for i, u := range units {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("=== Request ")
		sb.WriteString(u.Request.ID)
		if opts.IncludeSource && u.Request.Source != "" {
			fmt.Fprintf(&sb, " (source: %s)", u.Request.Source)
		}
		if u.Request.RequestGroup != "" {
			fmt.Fprintf(&sb, " [session: %s]", u.Request.RequestGroup)
		}
		sb.WriteString(" ===\n")

		for _, it := range ordered(u.Interactions) {
			writeTurn(&sb, it, opts.Shadow)
		}
	}
	return sb.String()
}

func writeTurn(sb *strings.Builder, it Interaction, shadow bool) {
	switch it.Role {
	case RoleUser:
		sb.WriteString("User: ")
	case RoleAgent:
		sb.WriteString("Agent: ")
	default:
		sb.WriteString(string(it.Role) + ": ")
	}

	content := it.Content
	if shadow && it.ShadowContent != "" {
		content = it.ShadowContent
	}
	sb.WriteString(content)
	if it.ImageRef != "" {
		fmt.Fprintf(sb, " [image: %s]", it.ImageRef)
	}
	sb.WriteString("\n")

	if it.UserAction != "" {
		fmt.Fprintf(sb, "  (user action: %s", it.UserAction)
		if it.UserActionDescription != "" {
			fmt.Fprintf(sb, " - %s", it.UserActionDescription)
		}
		sb.WriteString(")\n")
	}
	if it.ToolUse != nil {
		fmt.Fprintf(sb, "  (tool: %s %s)\n", it.ToolUse.Name, it.ToolUse.Input)
	}
}

func ordered(in []Interaction) []Interaction {
	out := make([]Interaction, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
