package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"voiceorb/pkg/api"
)

// ErrInterrupted is returned by Speak when a newer utterance or Stop cut it short.
var ErrInterrupted = errors.New("speech interrupted")

// AdapterConfig selects and wires the speech backends of one session.
type AdapterConfig struct {
	// Stream configures the external voice service.
	Stream StreamConfig
	// Dialer opens the external voice service. Nil means local speech only.
	Dialer StreamDialer
	// SkipExternal forces the local backend, e.g. after an earlier failure.
	SkipExternal bool
	// Recognizer and Synthesizer form the local backend. Both are required.
	Recognizer  Recognizer
	Synthesizer Synthesizer
}

// Adapter exposes one listen/speak contract regardless of the active backend.
// The backend is chosen once in NewAdapter and never changes afterwards.
type Adapter struct {
	stream      VoiceStream
	unavailable error // why the external backend was abandoned, if it was
	recognizer  Recognizer
	synth       Synthesizer
	modelID     string
	settings    VoiceSettings

	mu          sync.Mutex
	speakCancel context.CancelFunc
	speakSeq    uint64
	stopped     bool
}

// NewAdapter builds the adapter. A failure of the external service is not an
// error: the adapter silently keeps the local backend and reports the cause
// through Unavailable. An error is returned only when no local backend exists.
func NewAdapter(ctx context.Context, cfg AdapterConfig) (*Adapter, error) {
	if cfg.Recognizer == nil || cfg.Synthesizer == nil {
		return nil, api.NewError(api.KindSDKUnavailable, "no local speech backend available", nil)
	}
	a := &Adapter{
		recognizer: cfg.Recognizer,
		synth:      cfg.Synthesizer,
		modelID:    cfg.Stream.ModelID,
		settings:   cfg.Stream.VoiceSettings,
	}

	switch {
	case cfg.SkipExternal || cfg.Dialer == nil:
	case cfg.Stream.APIKey == "" || cfg.Stream.Agent.ID == "":
		a.unavailable = api.NewError(api.KindSDKUnavailable, "voice service credentials missing", nil)
	default:
		stream, err := cfg.Dialer(ctx, cfg.Stream)
		if err != nil {
			a.unavailable = api.NewError(api.KindSDKUnavailable, "voice service unavailable", err)
			slog.WarnContext(ctx, "External voice stream unavailable, using local speech", "error", err)
		} else {
			a.stream = stream
		}
	}
	return a, nil
}

// External reports whether replies come from the external voice service.
func (a *Adapter) External() bool {
	return a.stream != nil
}

// Unavailable returns the SDKUnavailable error that made the adapter fall
// back to local speech, or nil.
func (a *Adapter) Unavailable() error {
	return a.unavailable
}

// Converse hands text to the external voice service and returns its answer.
// The service speaks the answer itself.
func (a *Adapter) Converse(ctx context.Context, text string) (string, error) {
	if a.stream == nil {
		return "", api.NewError(api.KindSDKUnavailable, "external voice service not active", nil)
	}
	res, err := a.stream.Converse(ctx, Turn{Text: text, ModelID: a.modelID, VoiceSettings: a.settings})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Speak says text through local synthesis. Any utterance still playing is
// cancelled first, so at most one is active at a time.
func (a *Adapter) Speak(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrInterrupted
	}
	if a.speakCancel != nil {
		a.speakCancel()
	}
	speakCtx, cancel := context.WithCancel(ctx)
	a.speakCancel = cancel
	a.speakSeq++
	seq := a.speakSeq
	a.mu.Unlock()

	err := a.synth.Speak(speakCtx, text)
	// Read before cancel: only a newer utterance or Stop interrupts this one
	interrupted := speakCtx.Err() != nil

	a.mu.Lock()
	if a.speakSeq == seq {
		a.speakCancel = nil
	}
	a.mu.Unlock()
	cancel()

	if err != nil && interrupted && ctx.Err() == nil {
		return ErrInterrupted
	}
	return err
}

// ListenOnce starts recognition of one utterance.
func (a *Adapter) ListenOnce(ctx context.Context) (<-chan Result, error) {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return nil, ErrInterrupted
	}
	return a.recognizer.Listen(ctx)
}

// Stop halts synthesis and closes the external stream. It is idempotent.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	if a.speakCancel != nil {
		a.speakCancel()
		a.speakCancel = nil
	}
	a.mu.Unlock()

	if a.stream != nil {
		if err := a.stream.Close(); err != nil {
			slog.Debug("Closing voice stream failed", "error", err)
		}
	}
}
