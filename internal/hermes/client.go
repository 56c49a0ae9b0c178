package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/sift/internal/generation"
)

const (
	// SubjectInteractionsPublished carries a trigger for every request that
	// finished ingesting.
	SubjectInteractionsPublished = "sift.interactions.published"
	// SubjectGenerationCompleted carries one summary per service run.
	SubjectGenerationCompleted = "sift.generation.completed"
)

// InteractionsPublished announces a newly stored request.
type InteractionsPublished struct {
	OrgID        string `json:"org_id"`
	UserID       string `json:"user_id"`
	RequestID    string `json:"request_id"`
	AgentVersion string `json:"agent_version"`
	Source       string `json:"source"`
}

// Request converts the event into a generation trigger.
func (e InteractionsPublished) Request() generation.Request {
	return generation.Request{
		OrgID:        e.OrgID,
		UserID:       e.UserID,
		RequestID:    e.RequestID,
		AgentVersion: e.AgentVersion,
		Source:       e.Source,
	}
}

// GenerationCompleted summarises one service run.
type GenerationCompleted struct {
	Service    string                       `json:"service"`
	OrgID      string                       `json:"org_id"`
	ScopeID    string                       `json:"scope_id,omitempty"`
	RequestID  string                       `json:"request_id,omitempty"`
	Outcome    generation.Outcome           `json:"outcome"`
	Results    int                          `json:"results"`
	Extractors []generation.ExtractorReport `json:"extractors,omitempty"`
	Error      string                       `json:"error,omitempty"`
	DurationMS int64                        `json:"duration_ms"`
}

// Completed builds the completion event for a run report.
func Completed(req generation.Request, r generation.Report) GenerationCompleted {
	return GenerationCompleted{
		Service:    r.Service,
		OrgID:      req.OrgID,
		ScopeID:    r.ScopeID,
		RequestID:  req.RequestID,
		Outcome:    r.Outcome,
		Results:    r.Results,
		Extractors: r.Extractors,
		Error:      r.Error,
		DurationMS: r.Duration.Milliseconds(),
	}
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("sift"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	_, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Flush waits until the server has processed everything sent so far.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains subscriptions so in-flight callbacks finish, then closes.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
