package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceorb/pkg/api"
	"voiceorb/pkg/speech"
)

// fakeAgent emulates the conversational agent endpoint.
type fakeAgent struct {
	t *testing.T

	mu       sync.Mutex
	apiKey   string
	agentID  string
	init     initiationMessage
	pongs    []int
	messages []string

	// dropAfterMessage closes the connection instead of answering.
	dropAfterMessage bool
	// firstAnswerDelay holds back the answer to the first message.
	firstAnswerDelay time.Duration
}

func (f *fakeAgent) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.apiKey = r.Header.Get("xi-api-key")
	f.agentID = r.URL.Query().Get("agent_id")
	f.mu.Unlock()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var init initiationMessage
	if err := conn.ReadJSON(&init); err != nil {
		return
	}
	f.mu.Lock()
	f.init = init
	f.mu.Unlock()

	_ = conn.WriteJSON(map[string]any{
		"type": "conversation_initiation_metadata",
		"conversation_initiation_metadata_event": map[string]any{
			"conversation_id":           "conv-1",
			"agent_output_audio_format": "pcm_16000",
		},
	})

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg["type"] {
		case "pong":
			f.mu.Lock()
			f.pongs = append(f.pongs, int(msg["event_id"].(float64)))
			f.mu.Unlock()
		case "user_message":
			text, _ := msg["text"].(string)
			f.mu.Lock()
			f.messages = append(f.messages, text)
			drop := f.dropAfterMessage
			delay := time.Duration(0)
			if len(f.messages) == 1 {
				delay = f.firstAnswerDelay
			}
			f.mu.Unlock()
			if drop {
				return
			}
			time.Sleep(delay)
			_ = conn.WriteJSON(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 7}})
			_ = conn.WriteJSON(map[string]any{
				"type":        "audio",
				"audio_event": map[string]any{"audio_base_64": base64.StdEncoding.EncodeToString([]byte("pcm")), "event_id": 1},
			})
			_ = conn.WriteJSON(map[string]any{
				"type":                 "agent_response",
				"agent_response_event": map[string]any{"agent_response": "You said: " + text},
			})
		}
	}
}

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (s *recordingSink) PlayAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return nil
}

func startAgent(t *testing.T, agent *fakeAgent) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(agent.handler))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func baseConfig(url string) speech.StreamConfig {
	return speech.StreamConfig{
		APIKey:        "xi-key",
		BaseURL:       url,
		Agent:         api.AgentIdentity{ID: "agent-42", VoiceID: "voice-7"},
		ModelID:       "eleven_turbo_v2",
		VoiceSettings: speech.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.8},
		AudioIdle:     30 * time.Millisecond,
	}
}

func TestConverseRoundTrip(t *testing.T) {
	agent := &fakeAgent{t: t}
	url := startAgent(t, agent)

	var (
		mu       sync.Mutex
		started  int
		stopped  int
		sink     = &recordingSink{}
		stoppedC = make(chan struct{}, 1)
	)
	cfg := baseConfig(url)
	cfg.Sink = sink
	cfg.Callbacks = speech.Callbacks{
		OnStarted: func() { mu.Lock(); started++; mu.Unlock() },
		OnStopped: func() {
			mu.Lock()
			stopped++
			mu.Unlock()
			select {
			case stoppedC <- struct{}{}:
			default:
			}
		},
	}

	s, err := dial(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "conv-1", s.ConversationID())

	res, err := s.Converse(context.Background(), speech.Turn{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", res.Text)

	select {
	case <-stoppedC:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never reported as stopped")
	}

	mu.Lock()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
	mu.Unlock()

	sink.mu.Lock()
	require.Len(t, sink.chunks, 1)
	assert.Equal(t, []byte("pcm"), sink.chunks[0])
	sink.mu.Unlock()

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, "xi-key", agent.apiKey)
	assert.Equal(t, "agent-42", agent.agentID)
	assert.Equal(t, "conversation_initiation_client_data", agent.init.Type)
	assert.Equal(t, "voice-7", agent.init.ConversationConfigOverride.TTS.VoiceID)
	assert.Equal(t, 0.8, agent.init.ConversationConfigOverride.TTS.SimilarityBoost)
	assert.Equal(t, []string{"hello"}, agent.messages)
}

func TestLateAnswerIsNotReturnedForNextTurn(t *testing.T) {
	agent := &fakeAgent{t: t, firstAnswerDelay: 200 * time.Millisecond}
	s, err := dial(context.Background(), baseConfig(startAgent(t, agent)))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Converse(ctx, speech.Turn{Text: "slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	res, err := s.Converse(context.Background(), speech.Turn{Text: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "You said: fast", res.Text)

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, []string{"slow", "fast"}, agent.messages)
}

func TestPingIsAnswered(t *testing.T) {
	agent := &fakeAgent{t: t}
	s, err := dial(context.Background(), baseConfig(startAgent(t, agent)))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Converse(context.Background(), speech.Turn{Text: "ping me"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return len(agent.pongs) == 1 && agent.pongs[0] == 7
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConverseFailsWhenConnectionDrops(t *testing.T) {
	agent := &fakeAgent{t: t, dropAfterMessage: true}
	errs := make(chan error, 1)
	cfg := baseConfig(startAgent(t, agent))
	cfg.Callbacks.OnError = func(err error) { errs <- err }

	s, err := dial(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Converse(context.Background(), speech.Turn{Text: "hello"})
	require.Error(t, err)

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("OnError was not called")
	}
}

func TestConverseAfterClose(t *testing.T) {
	s, err := dial(context.Background(), baseConfig(startAgent(t, &fakeAgent{t: t})))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, err = s.Converse(context.Background(), speech.Turn{Text: "late"})
	assert.Error(t, err)
}

func TestDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), baseConfig("ws"+strings.TrimPrefix(srv.URL, "http")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
