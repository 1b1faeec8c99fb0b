package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nerrad567/peerlink-core/internal/model"
)

// ParamModel is the envelope parameter that overrides the configured model.
const ParamModel = "model"

// ParamSystemPrompt is the envelope parameter prepended as a system message.
const ParamSystemPrompt = "systemPrompt"

const (
	defaultTimeout = 5 * time.Minute

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// Config configures Client.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Client is a chat completions client for OpenAI-compatible servers.
type Client struct {
	api   openai.Client
	model string
}

// NewClient validates cfg and builds a client. Requests are not retried: a
// failed reply marks the envelope failed and the requester decides.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("inference url cannot be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid inference url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("inference url must include scheme and host")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithBaseURL(base + "/"),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &Client{api: openai.NewClient(opts...), model: cfg.Model}, nil
}

// GenerateReply sends the envelope's conversation and returns the raw reply
// text, reasoning markup included.
func (c *Client) GenerateReply(ctx context.Context, env model.Envelope) (string, error) {
	modelName := c.model
	if m := env.Parameters[ParamModel]; m != "" {
		modelName = m
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelName),
		Messages: buildMessages(env),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}

// buildMessages maps relay messages to chat messages. The full text is sent
// when present so the model sees its earlier reasoning.
func buildMessages(env model.Envelope) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(env.Messages)+1)
	if prompt := env.Parameters[ParamSystemPrompt]; prompt != "" {
		msgs = append(msgs, openai.SystemMessage(prompt))
	}
	for _, m := range env.Messages {
		content := m.Text
		if m.FullText != "" {
			content = m.FullText
		}
		switch m.Role {
		case model.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(content))
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(content))
		default:
			msgs = append(msgs, openai.UserMessage(content))
		}
	}
	return msgs
}

// classify maps an SDK error onto the package errors: server responses
// become *APIError, transport failures ErrNetwork, anything else ErrDecode.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{Status: apiErr.StatusCode, Message: errorMessage(apiErr)}
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return fmt.Errorf("%w: %w", ErrDecode, err)
}

// errorMessage prefers the server's error.message and falls back to the
// start of the raw body.
func errorMessage(apiErr *openai.Error) string {
	if apiErr.Message != "" {
		return apiErr.Message
	}
	if apiErr.Response == nil || apiErr.Response.Body == nil {
		return ""
	}
	body, _ := io.ReadAll(io.LimitReader(apiErr.Response.Body, maxErrorBody)) //nolint:errcheck // best effort

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}
