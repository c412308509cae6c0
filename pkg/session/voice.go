package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voiceorb/pkg/api"
	"voiceorb/pkg/mock"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/speech"
	"voiceorb/pkg/utils"
)

const (
	// LocalGreeting is spoken when the session runs on local speech only.
	LocalGreeting = "I'm using a simplified voice conversation mode. How can I help you today?"

	defaultRetryDelay = time.Second
)

// VoiceConfig assembles a voice session. Meeting mode is the same session
// with another Identity, a Header and an OnAssistant hook.
type VoiceConfig struct {
	// Mode names the session for hosts and logs (e.g. "voice-chat", "meeting").
	Mode string
	// Header is a label hosts may show above the conversation.
	Header string
	// Identity selects the remote agent and voice.
	Identity api.AgentIdentity
	// Microphone grants audio capture.
	Microphone speech.Microphone
	// Speech configures the adapter. Its Stream.Agent is overwritten by Identity.
	Speech speech.AdapterConfig
	// Relays are optional responders tried before the canned tier.
	Relays []Responder
	// Canned supplies the last-resort replies. Defaults to mock.NewCanned(time.Second).
	Canned *mock.Canned
	// Observer receives render updates.
	Observer api.SessionObserver
	// OnAssistant is called with every assistant entry after it was appended.
	OnAssistant func(api.TranscriptEntry)
	// RetryDelay is the pause before listening again after a recognition error.
	RetryDelay time.Duration
	// TurnTimeout bounds the wait for the external voice service. Zero waits until Stop.
	TurnTimeout time.Duration
}

// VoiceSession is the voice conversation state machine:
// disconnected → connecting → connected → disconnected, with error reachable
// from any state and left only through Start.
//
// Every asynchronous step captures the epoch current when it started; Stop
// and Destroy bump the epoch, so late results are dropped instead of landing
// in a torn-down conversation.
type VoiceSession struct {
	id         string
	cfg        VoiceConfig
	transcript *Transcript
	observer   api.SessionObserver
	canned     Responder

	base       context.Context
	baseCancel context.CancelFunc

	mu                sync.Mutex
	state             api.ConversationState
	caption           string
	epoch             uint64
	pending           bool // permission request or adapter setup in flight
	cancel            context.CancelFunc
	capture           speech.Capture
	adapter           *speech.Adapter
	externalAbandoned bool
	destroyed         bool
}

// NewVoiceSession creates a disconnected voice session.
func NewVoiceSession(cfg VoiceConfig) *VoiceSession {
	if cfg.Mode == "" {
		cfg.Mode = "voice-chat"
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Canned == nil {
		cfg.Canned = mock.NewCanned(time.Second)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = api.ObserverFuncs{}
	}

	id := utils.GenerateID()
	base, cancel := context.WithCancel(monitor.WithSessionID(context.Background(), id))
	return &VoiceSession{
		id:         id,
		cfg:        cfg,
		transcript: NewTranscript(),
		observer:   observer,
		canned:     CannedResponder(cfg.Canned),
		base:       base,
		baseCancel: cancel,
		state:      api.ConversationState{Status: api.StatusDisconnected},
	}
}

// ID implements api.Session.
func (s *VoiceSession) ID() string { return s.id }

// Mode implements api.Session.
func (s *VoiceSession) Mode() string { return s.cfg.Mode }

// Header returns the label configured for the session.
func (s *VoiceSession) Header() string { return s.cfg.Header }

// Identity returns the agent the session binds to.
func (s *VoiceSession) Identity() api.AgentIdentity { return s.cfg.Identity }

// Transcript implements api.Session.
func (s *VoiceSession) Transcript() []api.TranscriptEntry { return s.transcript.Entries() }

// State returns a snapshot of the conversation state.
func (s *VoiceSession) State() api.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Caption returns the live caption of the utterance being recognized.
func (s *VoiceSession) Caption() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caption
}

// ExternalActive reports whether replies currently come from the external voice service.
func (s *VoiceSession) ExternalActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter != nil && s.adapter.External()
}

// Start requests the microphone, sets up speech and begins listening.
// It is valid from disconnected or error; otherwise ErrInvalidTransition is
// returned without side effects. On failure the session ends in error and
// Start may be called again. A concurrent Stop makes Start return ErrStopped.
// Waiting for permission or the voice service is cancelled only by Stop or Destroy.
func (s *VoiceSession) Start() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.pending || s.state.Status == api.StatusConnecting || s.state.Status == api.StatusConnected {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	var reset *api.ConversationState
	if s.state.Status == api.StatusError {
		s.state = api.ConversationState{Status: api.StatusDisconnected}
		st := s.state
		reset = &st
	}
	s.epoch++
	epoch := s.epoch
	runCtx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.pending = true
	abandoned := s.externalAbandoned
	s.mu.Unlock()

	if reset != nil {
		s.observer.OnState(s.id, *reset)
	}

	capture, err := s.cfg.Microphone.Acquire(runCtx)
	if err != nil {
		if !api.IsKind(err, api.KindPermissionDenied) && runCtx.Err() == nil {
			err = api.NewError(api.KindPermissionDenied, "Microphone access is unavailable", err)
		}
		return s.failStart(epoch, err, nil, nil)
	}

	if !s.transition(epoch, api.StatusConnecting) {
		_ = capture.Release()
		return ErrStopped
	}

	adapterCfg := s.cfg.Speech
	adapterCfg.Stream.Agent = s.cfg.Identity
	adapterCfg.SkipExternal = adapterCfg.SkipExternal || abandoned
	adapterCfg.Stream.Callbacks = speech.Callbacks{
		OnStarted: func() { s.setSpeaking(epoch, true) },
		OnStopped: func() { s.setSpeaking(epoch, false) },
		OnError: func(err error) {
			s.reportIssue(epoch, "Voice service error: "+err.Error())
		},
	}

	adapter, err := speech.NewAdapter(runCtx, adapterCfg)
	if err != nil {
		return s.failStart(epoch, err, capture, nil)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		adapter.Stop()
		_ = capture.Release()
		return ErrStopped
	}
	s.pending = false
	s.capture = capture
	s.adapter = adapter
	unavailable := adapter.Unavailable()
	if unavailable != nil && adapterCfg.Dialer != nil {
		s.externalAbandoned = true
	}
	s.state = api.ConversationState{Status: api.StatusConnected}
	st := s.state
	s.mu.Unlock()

	s.observer.OnState(s.id, st)
	slog.InfoContext(runCtx, "Voice session connected",
		"mode", s.cfg.Mode, "agent", s.cfg.Identity.ID, "external", adapter.External())

	if unavailable != nil {
		s.appendEntry(epoch, api.TranscriptEntry{
			Role:    api.RoleSystem,
			Content: fmt.Sprintf("Voice service unavailable (%s). Using local speech instead.", api.UserMessage(unavailable)),
		})
	}

	go s.listenLoop(runCtx, epoch, adapter)
	return nil
}

// failStart moves the session to error unless Stop already took over.
func (s *VoiceSession) failStart(epoch uint64, cause error, capture speech.Capture, adapter *speech.Adapter) error {
	if adapter != nil {
		adapter.Stop()
	}
	if capture != nil {
		_ = capture.Release()
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrStopped
	}
	cancel := s.cancel
	s.cancel = nil
	s.pending = false
	s.state = api.ConversationState{Status: api.StatusError, Error: api.UserMessage(cause)}
	st := s.state
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	slog.WarnContext(s.base, "Voice session failed to start", "mode", s.cfg.Mode, "error", cause)
	s.observer.OnState(s.id, st)
	return cause
}

// Stop ends the conversation from any state. It releases the microphone,
// halts synthesis and recognition and leaves the session disconnected.
// It never fails and may be called repeatedly.
func (s *VoiceSession) Stop() {
	s.mu.Lock()
	s.epoch++
	cancel, capture, adapter := s.cancel, s.capture, s.adapter
	s.cancel, s.capture, s.adapter = nil, nil, nil
	s.pending = false
	changed := s.state != api.ConversationState{Status: api.StatusDisconnected}
	hadCaption := s.caption != ""
	s.state = api.ConversationState{Status: api.StatusDisconnected}
	s.caption = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if adapter != nil {
		adapter.Stop()
	}
	if capture != nil {
		if err := capture.Release(); err != nil {
			slog.DebugContext(s.base, "Releasing microphone failed", "error", err)
		}
	}
	if hadCaption {
		s.observer.OnCaption(s.id, "")
	}
	if changed {
		s.observer.OnState(s.id, api.ConversationState{Status: api.StatusDisconnected})
	}
}

// Destroy stops the session and seals its transcript. It is idempotent.
func (s *VoiceSession) Destroy() {
	s.Stop()
	s.mu.Lock()
	already := s.destroyed
	s.destroyed = true
	s.mu.Unlock()
	if already {
		return
	}
	s.baseCancel()
	s.transcript.Seal()
}

func (s *VoiceSession) listenLoop(ctx context.Context, epoch uint64, adapter *speech.Adapter) {
	if !adapter.External() {
		if _, ok := s.appendEntry(epoch, api.TranscriptEntry{Role: api.RoleAssistant, Content: LocalGreeting}); ok {
			s.speakLocal(ctx, epoch, adapter, LocalGreeting)
		}
	}

	for ctx.Err() == nil {
		results, err := adapter.ListenOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.recognitionFailed(epoch, err)
			if !sleep(ctx, s.cfg.RetryDelay) {
				return
			}
			continue
		}

		s.setListening(epoch, true)
		text, heard, err := s.consume(epoch, results)
		s.setListening(epoch, false)

		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			s.recognitionFailed(epoch, err)
			if !sleep(ctx, s.cfg.RetryDelay) {
				return
			}
		case text != "":
			s.respond(ctx, epoch, adapter, text)
		case !heard:
			// Recognizer ended without producing anything; avoid spinning.
			if !sleep(ctx, s.cfg.RetryDelay) {
				return
			}
		}
	}
}

// consume reads one utterance. Interim results only update the caption.
func (s *VoiceSession) consume(epoch uint64, results <-chan speech.Result) (text string, heard bool, err error) {
	for r := range results {
		heard = true
		if r.Err != nil {
			s.setCaption(epoch, "")
			return "", heard, r.Err
		}
		if !r.Final {
			s.setCaption(epoch, r.Text)
			continue
		}
		s.setCaption(epoch, "")
		return strings.TrimSpace(r.Text), heard, nil
	}
	return "", heard, nil
}

// respond runs the reply pipeline for one final utterance: external voice
// service, then relays, then canned phrases.
func (s *VoiceSession) respond(ctx context.Context, epoch uint64, adapter *speech.Adapter, text string) {
	s.clearIssue(epoch)
	if _, ok := s.appendEntry(epoch, api.TranscriptEntry{Role: api.RoleUser, Content: text}); !ok {
		return
	}

	if adapter.External() {
		reply, err := s.converse(ctx, adapter, text)
		if err == nil && strings.TrimSpace(reply) != "" {
			s.appendEntry(epoch, api.TranscriptEntry{Role: api.RoleAssistant, Content: reply})
			return
		}
		if ctx.Err() != nil {
			return
		}
		slog.WarnContext(ctx, "Voice service turn failed, answering locally", "error", err)
	}

	history := s.transcript.Entries()
	tiers := append(append([]Responder(nil), s.cfg.Relays...), s.canned)
	for i, tier := range tiers {
		reply, err := tier.Respond(ctx, history, text)
		if ctx.Err() != nil {
			return
		}
		if err != nil || strings.TrimSpace(reply) == "" {
			slog.WarnContext(ctx, "Responder failed, trying next tier", "tier", i, "error", err)
			continue
		}
		if _, ok := s.appendEntry(epoch, api.TranscriptEntry{Role: api.RoleAssistant, Content: reply}); ok {
			s.speakLocal(ctx, epoch, adapter, reply)
		}
		return
	}
}

func (s *VoiceSession) converse(ctx context.Context, adapter *speech.Adapter, text string) (string, error) {
	if s.cfg.TurnTimeout <= 0 {
		return adapter.Converse(ctx, text)
	}
	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()
	return adapter.Converse(turnCtx, text)
}

func (s *VoiceSession) speakLocal(ctx context.Context, epoch uint64, adapter *speech.Adapter, text string) {
	s.setSpeaking(epoch, true)
	err := adapter.Speak(ctx, text)
	s.setSpeaking(epoch, false)
	if err != nil && !errors.Is(err, speech.ErrInterrupted) && ctx.Err() == nil {
		slog.WarnContext(ctx, "Speech synthesis failed", "error", err)
		s.reportIssue(epoch, "Speech synthesis failed: "+err.Error())
	}
}

func (s *VoiceSession) recognitionFailed(epoch uint64, err error) {
	if api.KindOf(err) == "" {
		err = api.NewError(api.KindRecognition, "Speech recognition error", err)
	}
	slog.WarnContext(s.base, "Speech recognition failed", "error", err)
	s.reportIssue(epoch, err.Error())
}

// appendEntry adds an entry if the session is still connected in epoch.
func (s *VoiceSession) appendEntry(epoch uint64, entry api.TranscriptEntry) (api.TranscriptEntry, bool) {
	s.mu.Lock()
	if s.epoch != epoch || s.state.Status != api.StatusConnected {
		s.mu.Unlock()
		slog.DebugContext(s.base, "Discarding late transcript entry", "role", entry.Role)
		return entry, false
	}
	entry, ok := s.transcript.Append(entry)
	s.mu.Unlock()
	if !ok {
		return entry, false
	}

	s.observer.OnEntry(s.id, entry)
	if entry.Role == api.RoleAssistant && s.cfg.OnAssistant != nil {
		s.cfg.OnAssistant(entry)
	}
	return entry, true
}

// transition moves between non-connected statuses of the current epoch.
func (s *VoiceSession) transition(epoch uint64, status api.Status) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.state = api.ConversationState{Status: status}
	st := s.state
	s.mu.Unlock()
	s.observer.OnState(s.id, st)
	return true
}

// updateConnected applies fn to the state when it belongs to epoch and is
// connected, notifying the observer if anything changed.
func (s *VoiceSession) updateConnected(epoch uint64, fn func(st *api.ConversationState)) {
	s.mu.Lock()
	if s.epoch != epoch || s.state.Status != api.StatusConnected {
		s.mu.Unlock()
		return
	}
	before := s.state
	fn(&s.state)
	st := s.state
	s.mu.Unlock()
	if st != before {
		s.observer.OnState(s.id, st)
	}
}

func (s *VoiceSession) setListening(epoch uint64, v bool) {
	s.updateConnected(epoch, func(st *api.ConversationState) { st.IsListening = v })
}

func (s *VoiceSession) setSpeaking(epoch uint64, v bool) {
	s.updateConnected(epoch, func(st *api.ConversationState) { st.IsSpeaking = v })
}

func (s *VoiceSession) reportIssue(epoch uint64, msg string) {
	s.updateConnected(epoch, func(st *api.ConversationState) { st.Error = msg })
}

func (s *VoiceSession) clearIssue(epoch uint64) {
	s.updateConnected(epoch, func(st *api.ConversationState) { st.Error = "" })
}

func (s *VoiceSession) setCaption(epoch uint64, text string) {
	s.mu.Lock()
	if s.epoch != epoch || s.caption == text {
		s.mu.Unlock()
		return
	}
	s.caption = text
	s.mu.Unlock()
	s.observer.OnCaption(s.id, text)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
