package mock

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultCannedResponses are the phrases spoken when no voice service answers.
var DefaultCannedResponses = []string{
	"I understand what you're saying. How can I help you further?",
	"That's interesting. Let me think about that for a moment.",
	"I appreciate your input. Is there anything specific you'd like to know?",
	"Thanks for sharing that. Would you like me to elaborate on any particular aspect?",
	"I've processed your message. What would you like me to do next?",
}

// Canned answers voice turns with a fixed phrase after a short delay.
type Canned struct {
	responses []string
	delay     time.Duration
	pick      func(n int) int
}

// NewCanned creates a canned responder. An empty list selects DefaultCannedResponses.
func NewCanned(delay time.Duration, responses ...string) *Canned {
	if len(responses) == 0 {
		responses = DefaultCannedResponses
	}
	return &Canned{responses: responses, delay: delay, pick: rand.IntN}
}

// WithPicker replaces the random choice, mainly for deterministic tests.
func (c *Canned) WithPicker(pick func(n int) int) *Canned {
	c.pick = pick
	return c
}

// Respond returns one of the canned phrases. The input is not inspected.
func (c *Canned) Respond(ctx context.Context, _ string) (string, error) {
	if err := sleep(ctx, c.delay); err != nil {
		return "", err
	}
	return c.responses[c.pick(len(c.responses))], nil
}
