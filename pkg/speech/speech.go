// Package speech abstracts microphone capture, speech recognition, speech
// synthesis and the optional external voice service behind one adapter.
package speech

import (
	"context"
	"time"

	"voiceorb/pkg/api"
)

// Result is one recognition event. Interim results carry the text heard so
// far; at most one Final result closes an utterance. Err reports an engine failure.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Recognizer listens for a single utterance per Listen call. The returned
// channel yields interim results, then at most one final result, and is
// closed when the utterance ends or ctx is cancelled.
type Recognizer interface {
	Listen(ctx context.Context) (<-chan Result, error)
}

// Synthesizer speaks text locally. Speak blocks until playback finished or
// ctx was cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Microphone grants access to audio capture. Acquire blocks until the user
// answered the permission prompt or ctx ends; a refusal is reported as an
// *api.Error of kind KindPermissionDenied.
type Microphone interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is a granted microphone handle.
type Capture interface {
	Release() error
}

// VoiceSettings tunes the remote voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Turn is one user utterance handed to the external voice service.
type Turn struct {
	Text          string
	ModelID       string
	VoiceSettings VoiceSettings
}

// TurnResult is the agent's answer to a Turn. The service speaks it itself.
type TurnResult struct {
	Text string
}

// VoiceStream is a live connection to an external conversational voice service.
type VoiceStream interface {
	Converse(ctx context.Context, turn Turn) (TurnResult, error)
	Close() error
}

// Callbacks report the playback lifecycle of a VoiceStream.
type Callbacks struct {
	OnStarted func()
	OnStopped func()
	OnError   func(error)
}

// AudioSink receives audio chunks produced by a VoiceStream.
type AudioSink interface {
	PlayAudio(chunk []byte) error
}

// StreamConfig holds everything needed to open a VoiceStream.
type StreamConfig struct {
	APIKey        string
	BaseURL       string
	Agent         api.AgentIdentity
	ModelID       string
	VoiceSettings VoiceSettings
	AudioIdle     time.Duration // Silence after which playback counts as stopped
	Callbacks     Callbacks
	Sink          AudioSink
}

// StreamDialer opens a VoiceStream. Any error means the service is unavailable.
type StreamDialer func(ctx context.Context, cfg StreamConfig) (VoiceStream, error)
