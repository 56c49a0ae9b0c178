package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one rendered chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the provider for a particular output shape.
type ResponseFormat string

const (
	FormatText ResponseFormat = ""
	FormatJSON ResponseFormat = "json"
)

// ErrEmptyResponse is returned when the provider answers without text.
var ErrEmptyResponse = errors.New("empty response content")

// Client generates one chat completion. Retries and backoff belong to the
// underlying SDK.
type Client interface {
	GenerateChatResponse(ctx context.Context, messages []Message, model string, format ResponseFormat) (string, error)
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	defaultMaxTokens = 4096
)

// Options configures a provider client.
type Options struct {
	Provider  string
	APIKey    string
	BaseURL   string
	MaxTokens int64
	Timeout   time.Duration
	// MaxRetries is passed to the SDK: zero keeps the SDK default, negative
	// disables retries.
	MaxRetries int
}

// New builds the client for opts.Provider.
func New(opts Options) (Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%s: api key required", opts.Provider)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case ProviderAnthropic, "":
		return NewAnthropic(opts), nil
	case ProviderOpenAI:
		return NewOpenAI(opts), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", opts.Provider)
	}
}

// splitSystem separates system messages, joined in order, from the
// conversation turns.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// jsonInstruction is appended to the system prompt for providers without a
// native JSON mode.
const jsonInstruction = "Respond with a single JSON object and nothing else."
