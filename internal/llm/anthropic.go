package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic talks to the Messages API.
type Anthropic struct {
	client    anthropic.Client
	maxTokens int64
}

func NewAnthropic(opts Options) *Anthropic {
	reqOpts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(opts.APIKey))}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, aoption.WithBaseURL(strings.TrimSpace(opts.BaseURL)))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, aoption.WithRequestTimeout(opts.Timeout))
	}
	if opts.MaxRetries != 0 {
		reqOpts = append(reqOpts, aoption.WithMaxRetries(max(opts.MaxRetries, 0)))
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...), maxTokens: maxTokens}
}

func (a *Anthropic) GenerateChatResponse(ctx context.Context, messages []Message, model string, format ResponseFormat) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("anthropic: missing model")
	}
	system, turns := splitSystem(messages)
	if format == FormatJSON {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(model)),
		MaxTokens: a.maxTokens,
		Messages:  buildAnthropicMessages(turns),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}
	return sb.String(), nil
}

func buildAnthropicMessages(turns []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}
