package web

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"voiceorb/pkg/api"
	"voiceorb/pkg/speech"
	"voiceorb/pkg/speech/local"
)

var errConnClosed = errors.New("widget connection closed")

// browserMicrophone asks the widget for microphone access.
type browserMicrophone struct {
	c *conn
}

// Acquire implements speech.Microphone.
func (m browserMicrophone) Acquire(ctx context.Context) (speech.Capture, error) {
	c := m.c
	// Drop an answer left over from an earlier prompt
	select {
	case <-c.permission:
	default:
	}
	c.send(OutgoingFrame{Type: FramePermissionRequest})

	select {
	case granted := <-c.permission:
		if !granted {
			return nil, api.NewError(api.KindPermissionDenied, "Microphone access was denied", nil)
		}
		return local.NewCapture(func() { c.send(OutgoingFrame{Type: FrameRelease}) }), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errConnClosed
	}
}

// browserSynthesizer lets the widget speak with its own speech synthesis.
// The widget reports the end of playback with a speak_end frame.
type browserSynthesizer struct {
	c *conn
}

// Speak implements speech.Synthesizer.
func (s browserSynthesizer) Speak(ctx context.Context, text string) error {
	c := s.c
	select {
	case <-c.speakEnd:
	default:
	}
	c.send(OutgoingFrame{Type: FrameSpeak, Text: text})

	// Widgets without speech synthesis never answer
	timer := time.NewTimer(speakTimeout(text))
	defer timer.Stop()

	select {
	case <-c.speakEnd:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		c.send(OutgoingFrame{Type: FrameSpeakCancel})
		return ctx.Err()
	case <-c.done:
		return errConnClosed
	}
}

// speakTimeout estimates how long the browser needs to read text aloud.
func speakTimeout(text string) time.Duration {
	words := len(strings.Fields(text))
	return 2*time.Second + time.Duration(words)*400*time.Millisecond
}

// browserSink forwards audio of the external voice service to the widget.
type browserSink struct {
	c *conn
}

// PlayAudio implements speech.AudioSink.
func (s browserSink) PlayAudio(chunk []byte) error {
	if !s.c.send(OutgoingFrame{Type: FrameAudio, Data: base64.StdEncoding.EncodeToString(chunk)}) {
		return errConnClosed
	}
	return nil
}
