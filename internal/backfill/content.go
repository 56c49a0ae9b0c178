package backfill

import (
	"encoding/json"
	"strings"

	"github.com/MikeSquared-Agency/sift/internal/interaction"
)

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// blockContent is message content after decoding: joined text, the first
// tool call, and whether it carried a tool result.
type blockContent struct {
	text       string
	tool       *interaction.ToolUse
	toolResult bool
}

// decodeContent accepts either a plain string or an array of typed blocks.
// Thinking and other non-text blocks are dropped. toolTypes names the block
// types that carry a tool call.
func decodeContent(raw json.RawMessage, toolTypes ...string) blockContent {
	if len(raw) == 0 {
		return blockContent{}
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return blockContent{text: plain}
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return blockContent{}
	}

	var out blockContent
	var texts []string
	for _, b := range blocks {
		switch {
		case b.Type == "text" && b.Text != "":
			texts = append(texts, b.Text)
		case b.Type == "tool_result":
			out.toolResult = true
		case isToolType(b.Type, toolTypes) && out.tool == nil:
			input := b.Input
			if len(input) == 0 {
				input = b.Arguments
			}
			out.tool = &interaction.ToolUse{Name: b.Name, Input: string(input)}
		}
	}
	out.text = strings.Join(texts, "\n")
	return out
}

func isToolType(t string, toolTypes []string) bool {
	for _, tt := range toolTypes {
		if t == tt {
			return true
		}
	}
	return false
}
