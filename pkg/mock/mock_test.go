package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceorb/pkg/api"
)

func TestComposeWithoutFiles(t *testing.T) {
	assert.Equal(t, `This is a mock response to: "hello"`, Compose("hello", nil))
}

func TestComposeListsFiles(t *testing.T) {
	files := []api.FileAttachment{
		{Filename: "a.pdf", Size: 2048},
		{Filename: "b.png", Data: make([]byte, 1500)},
	}

	want := "This is a mock response to: \"see attached\"\n\n" +
		"I received 2 file(s):\n" +
		"- 1. a.pdf (2 KB)\n" +
		"- 2. b.png (1 KB)"
	assert.Equal(t, want, Compose("see attached", files))
}

func TestGenerateWaitsForDelay(t *testing.T) {
	g := NewGenerator(30 * time.Millisecond)

	start := time.Now()
	reply, err := g.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, reply.Mock)
	assert.Equal(t, `This is a mock response to: "hi"`, reply.Message)
	assert.False(t, reply.Timestamp.IsZero())
}

func TestGenerateCancelled(t *testing.T) {
	g := NewGenerator(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, "hi", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCannedRespond(t *testing.T) {
	c := NewCanned(0).WithPicker(func(n int) int { return n - 1 })

	text, err := c.Respond(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, DefaultCannedResponses[len(DefaultCannedResponses)-1], text)
}

func TestCannedCustomList(t *testing.T) {
	c := NewCanned(0, "only")
	text, err := c.Respond(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "only", text)
}
