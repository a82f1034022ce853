// Package transport implements the concrete agent.RoundTripClient the
// iterative loop talks to: one blocking Anthropic Messages API call per
// round trip, with retry/backoff and error classification folded in so the
// loop itself never has to know it's talking to Anthropic.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ralphagent/ralph/internal/agent"
	"github.com/ralphagent/ralph/internal/retry"
	"github.com/ralphagent/ralph/pkg/models"
)

// ToolDefinition is a tool's name, description, and JSON-Schema input shape,
// advertised to the model on every round trip.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Config configures an AnthropicClient.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxRetries   int
	RetryDelay   time.Duration
	Tools        []ToolDefinition
}

// AnthropicClient implements agent.RoundTripClient against the Anthropic
// Messages API.
type AnthropicClient struct {
	client       anthropic.Client
	model        string
	systemPrompt string
	tools        []ToolDefinition
	retryConfig  retry.Config
}

// NewAnthropicClient builds an AnthropicClient from cfg, applying the same
// defaults the rest of the pack applies to its own Anthropic integration.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transport: anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		tools:        cfg.Tools,
		retryConfig:  retry.Exponential(cfg.MaxRetries, cfg.RetryDelay, 30*time.Second),
	}, nil
}

// RoundTrip sends history as one Messages API request and decodes the
// reply into a models.ParsedResponse. Retryable transport failures
// (rate limits, 5xx, connection resets) are retried per retryConfig;
// everything else surfaces immediately.
func (c *AnthropicClient) RoundTrip(ctx context.Context, history models.ConversationHistory, availableResponseTokens int) (models.ParsedResponse, error) {
	params, err := c.buildParams(history, availableResponseTokens)
	if err != nil {
		return models.ParsedResponse{}, fmt.Errorf("transport: %w", err)
	}

	result, outcome := retry.DoWithValue(ctx, c.retryConfig, func() (*anthropic.Message, error) {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil && !isRetryableAPIError(err) {
			return nil, retry.Permanent(err)
		}
		return msg, err
	})
	if outcome.Err != nil {
		return models.ParsedResponse{}, classifyError(outcome.Err)
	}

	decoded := decodeMessage(result)
	if isEmptyResponse(decoded) {
		return models.ParsedResponse{}, fmt.Errorf("api_empty: response carried no text, thinking, or tool calls")
	}
	return decoded, nil
}

// isEmptyResponse reports whether a decoded response carries nothing the
// loop could act on. Such a response is an api_empty transport error, not
// a legitimate end-of-turn.
func isEmptyResponse(r models.ParsedResponse) bool {
	return r.Text == "" && r.Thinking == "" && len(r.ToolCalls) == 0
}

func (c *AnthropicClient) buildParams(history models.ConversationHistory, availableResponseTokens int) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(history.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := int64(availableResponseTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if c.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.systemPrompt}}
	}
	if len(c.tools) > 0 {
		params.Tools = convertTools(c.tools)
	}
	return params, nil
}

func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if call.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", call.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		var message anthropic.MessageParam
		if msg.Role == models.RoleAssistant {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}
	return result, nil
}

func convertTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := def.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result
}

func decodeMessage(msg *anthropic.Message) models.ParsedResponse {
	resp := models.ParsedResponse{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ThinkingBlock:
			resp.Thinking += variant.Thinking
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(args),
			})
		}
	}
	return resp
}

func isRetryableAPIError(err error) bool {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return retry.IsRetryable(err)
	}
	switch apiErr.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return fmt.Errorf("api_auth: %w", err)
		case 429:
			return fmt.Errorf("api_retryable_rate_limit: %w", err)
		case 500, 502, 503, 504:
			return fmt.Errorf("api_retryable_network: %w", err)
		}
	}
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		return fmt.Errorf("api_parse: %w", err)
	}
	return fmt.Errorf("api_retryable_network: %w", err)
}

var _ agent.RoundTripClient = (*AnthropicClient)(nil)
