package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"

	"voiceorb/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	debugEnabled bool
	options      map[string]any
}

// SetDebug enables raw stream logging.
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client with a single model and API key.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string, useThought bool, options map[string]any) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
		options:    options,
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// StreamChat implements llm.LLMClient.StreamChat
func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	contents, systemInstruction := convertMessages(messages)

	gc := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	if g.useThought {
		gc.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if t, ok := g.options[llm.OptionTemperature].(float64); ok {
		gc.Temperature = genai.Ptr(float32(t))
	}
	if maxTok, ok := g.options[llm.OptionMaxTokens].(float64); ok {
		gc.MaxOutputTokens = int32(maxTok)
	}

	chunkCh := make(chan llm.StreamChunk, 100)
	startResultCh := make(chan error, 1)

	slog.DebugContext(ctx, "Streaming", "provider", "gemini", "model", g.model)

	go func() {
		defer close(chunkCh)

		debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
		defer debugger.Close()

		started := false
		var lastUsage *llm.LLMUsage
		stopReason := llm.StopReasonStop

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, gc) {
			if debugger.Enabled() && resp != nil {
				if raw, mErr := json.Marshal(resp); mErr == nil {
					debugger.Write(raw)
				}
			}
			if err != nil {
				slog.WarnContext(ctx, "Stream error", "provider", "gemini", "model", g.model, "error", err)
				if !started {
					startResultCh <- err
				} else {
					llm.SendChunk(ctx, chunkCh, llm.NewErrorChunk("stream interrupted", fmt.Errorf("gemini stream: %w", err)))
				}
				return
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			if u := resp.UsageMetadata; u != nil {
				lastUsage = &llm.LLMUsage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason == genai.FinishReasonMaxTokens {
					stopReason = llm.StopReasonLength
				}
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part.Text == "" {
						continue
					}
					chunk := llm.NewTextChunk(part.Text)
					if part.Thought {
						chunk = llm.NewThinkingChunk(part.Text)
					}
					if !llm.SendChunk(ctx, chunkCh, chunk) {
						return
					}
				}
			}
		}

		if !started {
			// Empty stream; the reader treats it as an empty answer.
			startResultCh <- nil
		}
		if lastUsage != nil {
			lastUsage.StopReason = stopReason
		}
		llm.LogUsage(ctx, g.model, lastUsage)
		llm.SendChunk(ctx, chunkCh, llm.NewFinalChunk(stopReason, lastUsage))
	}()

	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertMessages converts the history to GenAI contents. System messages
// become the system instruction.
func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case llm.RoleSystem:
			systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, systemInstruction
}

// IsTransientError implements the llm.LLMClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(errMsg, "overloaded") {
		return true
	}
	// 429 Too Many Requests
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		return true
	}
	// 500 Internal Error
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "internal error") {
		return true
	}
	return false
}
