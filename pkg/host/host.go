// Package host owns the session a surface is currently showing. At most one
// session is active per Host; activating another mode destroys the previous
// session before the new one is built.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"voiceorb/pkg/api"
	"voiceorb/pkg/config"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/session"
	"voiceorb/pkg/speech"
)

// ErrClosed is returned by Activate after Close.
var ErrClosed = errors.New("host closed")

// Host manages the active session of one widget instance.
type Host struct {
	store      *config.Store
	system     *config.SystemConfig
	devices    Devices
	relays     []session.Responder
	dialer     speech.StreamDialer
	observer   api.SessionObserver
	monitor    monitor.Monitor
	httpClient *http.Client
	surface    string
	notes      *MeetingNotes

	switchMu sync.Mutex // serializes Activate and Close
	mu       sync.RWMutex
	active   api.Session
	closed   bool
}

// Activate destroys the active session, if any, and builds a new one for mode.
// The configuration is read from the store at this moment, so reloads apply
// to sessions activated afterwards. On failure no session is active.
func (h *Host) Activate(mode string) (api.Session, error) {
	factory, ok := GetModeFactory(mode)
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	h.switchMu.Lock()
	defer h.switchMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	prev := h.active
	h.active = nil
	h.mu.Unlock()

	if prev != nil {
		slog.Debug("Destroying previous session", "surface", h.surface, "mode", prev.Mode(), "session", prev.ID())
		prev.Destroy()
	}

	env := Env{
		Config:     h.store.Get(),
		System:     h.system,
		Devices:    h.devices,
		Relays:     h.relays,
		Dialer:     h.dialer,
		Observer:   h.observerFor(mode),
		HTTPClient: h.httpClient,
		Surface:    h.surface,
		Notes:      h.notes,
	}
	s, err := factory.Create(env)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s session: %w", mode, err)
	}

	h.mu.Lock()
	h.active = s
	h.mu.Unlock()
	slog.Info("Session activated", "surface", h.surface, "mode", mode, "session", s.ID())
	return s, nil
}

// Active returns the active session or nil.
func (h *Host) Active() api.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Text returns the active session when it is a text session.
func (h *Host) Text() (*session.TextSession, bool) {
	s, ok := h.Active().(*session.TextSession)
	return s, ok
}

// Voice returns the active session when it is a voice session.
func (h *Host) Voice() (*session.VoiceSession, bool) {
	s, ok := h.Active().(*session.VoiceSession)
	return s, ok
}

// MeetingNotes returns the action items collected by meeting sessions of this host.
func (h *Host) MeetingNotes() []string {
	return h.notes.Items()
}

// Config returns the configuration new sessions would be built from.
func (h *Host) Config() *config.Config {
	return h.store.Get()
}

// Close destroys the active session. Later activations fail with ErrClosed.
func (h *Host) Close() {
	h.switchMu.Lock()
	defer h.switchMu.Unlock()

	h.mu.Lock()
	prev := h.active
	h.active = nil
	h.closed = true
	h.mu.Unlock()

	if prev != nil {
		prev.Destroy()
	}
}

func (h *Host) observerFor(mode string) api.SessionObserver {
	var obs api.MultiObserver
	if h.observer != nil {
		obs = append(obs, h.observer)
	}
	if h.monitor != nil {
		obs = append(obs, monitorObserver{monitor: h.monitor, mode: mode, surface: h.surface})
	}
	return obs
}

// monitorObserver mirrors transcript entries to an operator monitor.
type monitorObserver struct {
	monitor monitor.Monitor
	mode    string
	surface string
}

func (m monitorObserver) OnEntry(sessionID string, e api.TranscriptEntry) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	m.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp: ts,
		Role:      string(e.Role),
		Mode:      m.mode,
		SessionID: sessionID,
		Surface:   m.surface,
		Content:   e.Content,
		Fallback:  e.Fallback,
	})
}

func (monitorObserver) OnState(string, api.ConversationState) {}
func (monitorObserver) OnCaption(string, string) {}
func (monitorObserver) OnProgress(string, int) {}
