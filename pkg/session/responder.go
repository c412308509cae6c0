package session

import (
	"context"

	"voiceorb/pkg/api"
	"voiceorb/pkg/mock"
)

// Responder answers a user utterance with text. history holds the transcript
// up to and including the utterance.
type Responder interface {
	Respond(ctx context.Context, history []api.TranscriptEntry, input string) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, history []api.TranscriptEntry, input string) (string, error)

// Respond implements Responder.
func (f ResponderFunc) Respond(ctx context.Context, history []api.TranscriptEntry, input string) (string, error) {
	return f(ctx, history, input)
}

// CannedResponder turns the canned phrase generator into the last voice tier.
func CannedResponder(c *mock.Canned) Responder {
	return ResponderFunc(func(ctx context.Context, _ []api.TranscriptEntry, input string) (string, error) {
		return c.Respond(ctx, input)
	})
}
