// Package elevenlabs connects a voice session to an ElevenLabs conversational
// agent over its websocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/speech"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultBaseURL is the conversational agent websocket endpoint.
	DefaultBaseURL = "wss://api.elevenlabs.io/v1/convai/conversation"

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	defaultAudioIdle = 600 * time.Millisecond
)

// ErrClosed is returned by Converse once the stream is closed.
var ErrClosed = errors.New("voice stream closed")

// Stream is a live conversation with one agent. Turns are serialized: a
// Converse call waits for the agent's text answer while the audio of that
// answer keeps flowing to the configured sink.
type Stream struct {
	conn      *websocket.Conn
	cfg       speech.StreamConfig
	writeMu   sync.Mutex
	turnMu    sync.Mutex
	responses chan string
	abandoned int // turns given up on whose answer has not arrived; guarded by turnMu

	done      chan struct{}
	closeOnce sync.Once
	closing   chan struct{}
	readErr   error

	mu             sync.Mutex
	speaking       bool
	idleTimer      *time.Timer
	conversationID string
}

// Dial opens a conversation with cfg.Agent and waits for the service to
// acknowledge it. It satisfies speech.StreamDialer.
func Dial(ctx context.Context, cfg speech.StreamConfig) (speech.VoiceStream, error) {
	s, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func dial(ctx context.Context, cfg speech.StreamConfig) (*Stream, error) {
	if cfg.AudioIdle <= 0 {
		cfg.AudioIdle = defaultAudioIdle
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid voice service url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", cfg.Agent.ID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("xi-api-key", cfg.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("voice service handshake failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("voice service dial failed: %w", err)
	}

	s := &Stream{
		conn:      conn,
		cfg:       cfg,
		responses: make(chan string, 4),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}

	if err := s.initiate(dialCtx); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop()
	slog.InfoContext(ctx, "Voice stream connected", "agent", cfg.Agent.ID, "conversation", s.conversationID)
	return s, nil
}

// initiate sends the session overrides and waits for the metadata event.
func (s *Stream) initiate(ctx context.Context) error {
	init := initiationMessage{
		Type: "conversation_initiation_client_data",
		ConversationConfigOverride: configOverride{
			TTS: ttsOverride{
				VoiceID:         s.cfg.Agent.VoiceID,
				ModelID:         s.cfg.ModelID,
				Stability:       s.cfg.VoiceSettings.Stability,
				SimilarityBoost: s.cfg.VoiceSettings.SimilarityBoost,
			},
		},
	}
	if err := s.writeJSON(init); err != nil {
		return fmt.Errorf("send conversation init: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await conversation metadata: %w", err)
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "conversation_initiation_metadata":
			if ev.Metadata != nil {
				s.conversationID = ev.Metadata.ConversationID
			}
			return nil
		case "ping":
			s.pong(ev)
		}
	}
}

// ConversationID returns the id assigned by the service.
func (s *Stream) ConversationID() string {
	return s.conversationID
}

// Converse sends the user's text and waits for the agent's text answer.
func (s *Stream) Converse(ctx context.Context, turn speech.Turn) (speech.TurnResult, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	// Answers already queued belong to earlier turns.
	for {
		select {
		case <-s.responses:
			if s.abandoned > 0 {
				s.abandoned--
			}
			continue
		default:
		}
		break
	}

	if err := s.writeJSON(userMessage{Type: "user_message", Text: turn.Text}); err != nil {
		return speech.TurnResult{}, fmt.Errorf("send user message: %w", err)
	}

	for {
		select {
		case text := <-s.responses:
			if s.abandoned > 0 {
				// The service answers in order, so this one is late.
				s.abandoned--
				slog.Debug("Discarding answer to an abandoned turn", "pending", s.abandoned)
				continue
			}
			return speech.TurnResult{Text: text}, nil
		case <-s.done:
			if s.readErr != nil {
				return speech.TurnResult{}, fmt.Errorf("voice stream ended: %w", s.readErr)
			}
			return speech.TurnResult{}, ErrClosed
		case <-ctx.Done():
			s.abandoned++
			return speech.TurnResult{}, ctx.Err()
		}
	}
}

// Close ends the conversation and waits for the reader to exit. It is idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
		s.stopSpeaking()
	})
	return err
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				s.readErr = err
				slog.Warn("Voice stream read failed", "error", err)
				if s.cfg.Callbacks.OnError != nil {
					s.cfg.Callbacks.OnError(err)
				}
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("Ignoring malformed voice event", "error", err)
			continue
		}
		s.handle(ev)
	}
}

func (s *Stream) handle(ev serverEvent) {
	switch ev.Type {
	case "ping":
		s.pong(ev)
	case "agent_response":
		if ev.AgentResponse == nil {
			return
		}
		select {
		case s.responses <- ev.AgentResponse.Text:
		default:
			slog.Warn("Dropping agent response, no turn waiting")
		}
	case "audio":
		if ev.Audio == nil || ev.Audio.AudioBase64 == "" {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(ev.Audio.AudioBase64)
		if err != nil {
			slog.Debug("Ignoring undecodable audio chunk", "error", err)
			return
		}
		s.markSpeaking()
		if s.cfg.Sink != nil {
			if err := s.cfg.Sink.PlayAudio(chunk); err != nil {
				slog.Warn("Audio sink rejected chunk", "error", err)
			}
		}
	case "interruption":
		s.stopSpeaking()
	case "user_transcript", "agent_response_correction", "vad_score", "internal_tentative_agent_response":
		// Informational only.
	default:
		slog.Debug("Unhandled voice event", "type", ev.Type)
	}
}

func (s *Stream) pong(ev serverEvent) {
	if ev.Ping == nil {
		return
	}
	if err := s.writeJSON(pongMessage{Type: "pong", EventID: ev.Ping.EventID}); err != nil {
		slog.Debug("Failed to answer ping", "error", err)
	}
}

func (s *Stream) markSpeaking() {
	s.mu.Lock()
	started := !s.speaking
	s.speaking = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.AudioIdle, s.stopSpeaking)
	s.mu.Unlock()

	if started && s.cfg.Callbacks.OnStarted != nil {
		s.cfg.Callbacks.OnStarted()
	}
}

func (s *Stream) stopSpeaking() {
	s.mu.Lock()
	wasSpeaking := s.speaking
	s.speaking = false
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	if wasSpeaking && s.cfg.Callbacks.OnStopped != nil {
		s.cfg.Callbacks.OnStopped()
	}
}

func (s *Stream) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
