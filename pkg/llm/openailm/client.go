package openailm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"voiceorb/pkg/llm"
)

// Client is a wrapper around the official OpenAI Go SDK
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	options      map[string]any
}

// NewClient creates a new OpenAI client. extra options are appended to every
// request (tests use it to inject an HTTP client).
func NewClient(provider, apiKey, model, baseURL string, options map[string]any, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	client := openai.NewClient(opts...)
	return &Client{
		client:   &client,
		provider: provider,
		model:    model,
		options:  options,
	}
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "429 too many requests") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	return false
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(messages),
		},
	}

	var opts []option.RequestOption
	if effortStr, ok := c.options[llm.OptionThinkingEffort].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}
	if t, ok := c.options[llm.OptionTemperature].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if maxTok, ok := c.options[llm.OptionMaxTokens].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_output_tokens", int(maxTok)))
	}

	chunkCh := make(chan llm.StreamChunk, 100)
	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params, opts...)
		defer stream.Close()

		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		send := func(chunk llm.StreamChunk) bool {
			return llm.SendChunk(ctx, chunkCh, chunk)
		}

		var lastFinishReason string
		var lastUsage *llm.LLMUsage
		var thinking strings.Builder
		failed := false

		for stream.Next() {
			event := stream.Current()
			if debugger.Enabled() {
				debugger.WriteString(event.RawJSON())
			}

			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				if !send(llm.NewTextChunk(variant.Delta)) {
					return
				}

			case responses.ResponseReasoningTextDeltaEvent:
				thinking.WriteString(variant.Delta)
				if !send(llm.NewThinkingChunk(variant.Delta)) {
					return
				}

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				thinking.WriteString(variant.Delta)
				if !send(llm.NewThinkingChunk(variant.Delta)) {
					return
				}

			case responses.ResponseCompletedEvent:
				lastFinishReason = llm.StopReasonStop
				if variant.Response.Usage.TotalTokens > 0 {
					lastUsage = &llm.LLMUsage{
						PromptTokens:     int(variant.Response.Usage.InputTokens),
						CompletionTokens: int(variant.Response.Usage.OutputTokens),
						TotalTokens:      int(variant.Response.Usage.TotalTokens),
						CachedTokens:     int(variant.Response.Usage.InputTokensDetails.CachedTokens),
						ThoughtsTokens:   int(variant.Response.Usage.OutputTokensDetails.ReasoningTokens),
						StopReason:       llm.StopReasonStop,
					}
				}

			case responses.ResponseIncompleteEvent:
				lastFinishReason = llm.StopReasonLength

			case responses.ResponseFailedEvent:
				failed = true
				send(llm.NewErrorChunk("API response failed", nil))

			case responses.ResponseErrorEvent:
				failed = true
				send(llm.NewErrorChunk(fmt.Sprintf("API error: %s", variant.Message), nil))
			}
		}
		if strings.TrimSpace(thinking.String()) != "" {
			slog.DebugContext(ctx, "Captured full thinking process", "provider", c.provider, "content", thinking.String())
		}

		if err := stream.Err(); err != nil {
			send(llm.NewErrorChunk("stream error", fmt.Errorf("%s stream: %w", c.provider, err)))
			return
		}
		if failed {
			return
		}
		reason := lastFinishReason
		if reason == "" {
			reason = llm.StopReasonStop
		}
		llm.LogUsage(ctx, c.model, lastUsage)
		send(llm.NewFinalChunk(reason, lastUsage))
	}()

	return chunkCh, nil
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, m := range messages {
		var role responses.EasyInputMessageRole
		switch m.Role {
		case llm.RoleSystem:
			role = responses.EasyInputMessageRoleSystem
		case llm.RoleAssistant:
			role = responses.EasyInputMessageRoleAssistant
		default:
			role = responses.EasyInputMessageRoleUser
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, role))
	}
	return items
}
