package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"voiceorb/pkg/api"
)

// ErrEmptyAnswer is returned by Relay.Respond when the model produced no text.
var ErrEmptyAnswer = errors.New("relay produced an empty answer")

// Relay answers voice turns with a language model, using the session
// transcript as the chat history.
type Relay struct {
	client       LLMClient
	systemPrompt string
	timeout      time.Duration
}

// NewRelay wraps client. A zero timeout lets the caller's context decide.
func NewRelay(client LLMClient, systemPrompt string, timeout time.Duration) *Relay {
	return &Relay{client: client, systemPrompt: systemPrompt, timeout: timeout}
}

// Respond streams one answer and returns its full text. history already
// ends with the user's utterance; input is appended only when it does not.
func (r *Relay) Respond(ctx context.Context, history []api.TranscriptEntry, input string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	msgs := FromTranscript(r.systemPrompt, history)
	if n := len(msgs); n == 0 || msgs[n-1].Role != RoleUser || msgs[n-1].Content != input {
		msgs = append(msgs, Message{Role: RoleUser, Content: input})
	}

	ch, err := r.client.StreamChat(ctx, msgs)
	if err != nil {
		return "", err
	}
	return Collect(ctx, ch)
}

// Collect reads a stream and returns the concatenated answer text.
// Thinking output is dropped. Whatever the producer still sends after
// Collect returns is discarded.
func Collect(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	defer Drain(ch)

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return finish(sb.String())
			}
			if chunk.Err != nil {
				return "", chunk.Err
			}
			sb.WriteString(chunk.Text)
			if chunk.IsFinal {
				return finish(sb.String())
			}
		}
	}
}

// Drain discards the rest of ch in the background until the producer
// closes it. Producers stop on their context, so a cancelled stream
// closes promptly.
func Drain(ch <-chan StreamChunk) {
	go func() {
		for range ch {
		}
	}()
}

// SendChunk delivers chunk unless ctx ends first. Producers stop streaming
// once it reports false.
func SendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func finish(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyAnswer
	}
	return text, nil
}
