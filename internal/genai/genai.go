// Package genai is the completion gateway: it sends an ordered list of
// role-tagged messages to an OpenAI-compatible chat completion API and
// returns the generated reply.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Sampling policy applied to every completion request.
const (
	DefaultModel            = "gpt-3.5-turbo"
	DefaultMaxTokens        = 700
	DefaultTimeout          = 30 * time.Second
	DefaultTemperature      = 0.7
	DefaultPresencePenalty  = 0.7
	DefaultFrequencyPenalty = 0.6
)

// ErrNoChoicesReturned is returned when the API answers without any choice.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ErrorKind classifies gateway failures. Every kind is transient from the
// caller's point of view.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindMalformed   ErrorKind = "malformed"
	KindTransport   ErrorKind = "transport"
)

// Error is the failure type returned by Client.Complete.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps err in an *Error with the matching kind.
func classify(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Err: err}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &Error{Kind: KindTimeout, Err: err}
		}
	}
	if errors.Is(err, ErrNoChoicesReturned) {
		return &Error{Kind: KindMalformed, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completions service to chatService.
type completionsAdapter struct {
	svc openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithMaxTokens caps the generated output length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat      chatService
	model     string
	timeout   time.Duration
	maxTokens int64
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Timeout: DefaultTimeout, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI.NewClient: API key not set")
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI.NewClient: client created", "model", cfg.Model, "timeout", cfg.Timeout, "base_url_set", cfg.BaseURL != "")
	return newClientWithService(completionsAdapter{svc: cli.Chat.Completions}, cfg), nil
}

func newClientWithService(chat chatService, cfg Opts) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Client{chat: chat, model: cfg.Model, timeout: cfg.Timeout, maxTokens: cfg.MaxTokens}
}

// Model returns the configured chat model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends messages in order and returns the first choice's content.
// Any failure is returned as *Error.
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(c.model),
		Messages:         toParams(messages),
		MaxTokens:        openai.Int(c.maxTokens),
		Temperature:      openai.Float(DefaultTemperature),
		PresencePenalty:  openai.Float(DefaultPresencePenalty),
		FrequencyPenalty: openai.Float(DefaultFrequencyPenalty),
	}
	slog.Debug("GenAI.Complete: sending request", "model", c.model, "messages", len(messages))

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		// A parent deadline can surface as a transport error; prefer the context's verdict.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		gwErr := classify(err)
		slog.Error("GenAI.Complete: request failed", "kind", gwErr.Kind, "error", err)
		return "", gwErr
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI.Complete: no choices returned")
		return "", classify(ErrNoChoicesReturned)
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("GenAI.Complete: response received", "length", len(content))
	return content, nil
}

// toParams converts role-tagged messages to SDK message params, preserving order.
func toParams(messages []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
