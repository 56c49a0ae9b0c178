package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

// OpenAI talks to the Responses API. It also serves OpenAI-compatible
// endpoints through Options.BaseURL.
type OpenAI struct {
	client    openai.Client
	maxTokens int64
}

func NewOpenAI(opts Options) *OpenAI {
	reqOpts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(opts.APIKey))}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, ooption.WithBaseURL(strings.TrimSpace(opts.BaseURL)))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, ooption.WithRequestTimeout(opts.Timeout))
	}
	if opts.MaxRetries != 0 {
		reqOpts = append(reqOpts, ooption.WithMaxRetries(max(opts.MaxRetries, 0)))
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{client: openai.NewClient(reqOpts...), maxTokens: maxTokens}
}

func (o *OpenAI) GenerateChatResponse(ctx context.Context, messages []Message, model string, format ResponseFormat) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("openai: missing model")
	}
	system, turns := splitSystem(messages)

	items := make(oresponses.ResponseInputParam, 0, len(turns))
	for _, m := range turns {
		role := oresponses.EasyInputMessageRoleUser
		if m.Role == RoleAssistant {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		items = append(items, oresponses.ResponseInputItemParamOfMessage(m.Content, role))
	}
	if len(items) == 0 {
		items = append(items, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}

	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(strings.TrimSpace(model)),
		MaxOutputTokens: openai.Int(o.maxTokens),
		Input:           oresponses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if format == FormatJSON {
		obj := oshared.NewResponseFormatJSONObjectParam()
		params.Text = oresponses.ResponseTextConfigParam{
			Format: oresponses.ResponseFormatTextConfigUnionParam{OfJSONObject: &obj},
		}
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return text, nil
}

func responseText(resp *oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if part.Type != "output_text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
