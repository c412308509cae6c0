// Package mock produces simulated agent replies used whenever the real
// backend is bypassed, so a session always has something to show.
package mock

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"voiceorb/pkg/api"
)

// Reply is a simulated webhook reply.
type Reply struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Mock      bool      `json:"mock"`
}

// Generator echoes user input after a fixed simulated latency.
type Generator struct {
	delay time.Duration
	now   func() time.Time
}

// NewGenerator creates a generator that answers after delay.
func NewGenerator(delay time.Duration) *Generator {
	return &Generator{delay: delay, now: time.Now}
}

// Generate waits for the simulated latency and returns the templated reply.
// It returns ctx.Err() if the context ends first.
func (g *Generator) Generate(ctx context.Context, message string, files []api.FileAttachment) (Reply, error) {
	if err := sleep(ctx, g.delay); err != nil {
		return Reply{}, err
	}
	return Reply{
		Message:   Compose(message, files),
		Timestamp: g.now(),
		Mock:      true,
	}, nil
}

// Compose renders the deterministic mock template for message and files.
func Compose(message string, files []api.FileAttachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This is a mock response to: \"%s\"", message)
	if len(files) > 0 {
		fmt.Fprintf(&b, "\n\nI received %d file(s):", len(files))
		for i, f := range files {
			kb := int64(math.Round(float64(f.SizeBytes()) / 1024))
			fmt.Fprintf(&b, "\n- %d. %s (%d KB)", i+1, f.Filename, kb)
		}
	}
	return b.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
