// Package local provides speech backends that run without any remote service:
// terminal line input as recognition, paced console output as synthesis, and
// a recognizer fed by an outside source such as a browser.
package local

import (
	"context"
	"sync"

	"voiceorb/pkg/api"
	"voiceorb/pkg/speech"
)

// StaticMicrophone grants or refuses access without prompting anyone.
type StaticMicrophone struct {
	Denied bool
}

// Acquire implements speech.Microphone.
func (m StaticMicrophone) Acquire(ctx context.Context) (speech.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Denied {
		return nil, api.NewError(api.KindPermissionDenied, "Microphone access was denied", nil)
	}
	return &capture{}, nil
}

// MicrophoneFunc adapts a function to speech.Microphone.
type MicrophoneFunc func(ctx context.Context) (speech.Capture, error)

// Acquire implements speech.Microphone.
func (f MicrophoneFunc) Acquire(ctx context.Context) (speech.Capture, error) {
	return f(ctx)
}

// NewCapture returns a capture handle whose Release runs release once.
func NewCapture(release func()) speech.Capture {
	return &capture{release: release}
}

type capture struct {
	once    sync.Once
	release func()
}

func (c *capture) Release() error {
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
	return nil
}
