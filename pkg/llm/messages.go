package llm

import (
	"errors"
	"strings"

	"voiceorb/pkg/api"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation handed to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one incremental piece of a streamed answer.
type StreamChunk struct {
	// Text is the new answer text carried by this chunk.
	Text string `json:"text,omitempty"`
	// Thinking is reasoning output. It is logged, never spoken.
	Thinking string `json:"thinking,omitempty"`
	// IsFinal marks the last chunk of a successful stream.
	IsFinal bool `json:"is_final"`
	// FinishReason is only set on the final chunk.
	FinishReason string `json:"finish_reason,omitempty"`
	// Usage may arrive early but is always present on the final chunk when known.
	Usage *LLMUsage `json:"usage,omitempty"`
	// Err reports a failure after the stream started.
	Err error `json:"-"`
}

// NewTextChunk creates a chunk of answer text.
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{Text: text}
}

// NewThinkingChunk creates a chunk of reasoning text.
func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{Thinking: text}
}

// NewFinalChunk creates the closing chunk of a stream.
func NewFinalChunk(reason string, usage *LLMUsage) StreamChunk {
	return StreamChunk{IsFinal: true, FinishReason: reason, Usage: usage}
}

// NewErrorChunk creates a chunk reporting a failure. A nil err becomes a
// plain error carrying message.
func NewErrorChunk(message string, err error) StreamChunk {
	if err == nil {
		err = errors.New(message)
	}
	return StreamChunk{Err: err}
}

// FromTranscript converts a session transcript into provider messages.
// System entries are UI notices, not instructions, and are skipped.
func FromTranscript(systemPrompt string, history []api.TranscriptEntry) []Message {
	msgs := make([]Message, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, e := range history {
		switch e.Role {
		case api.RoleUser:
			msgs = append(msgs, Message{Role: RoleUser, Content: e.Content})
		case api.RoleAssistant:
			msgs = append(msgs, Message{Role: RoleAssistant, Content: e.Content})
		}
	}
	return msgs
}
