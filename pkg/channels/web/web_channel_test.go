package web

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceorb/pkg/api"
	"voiceorb/pkg/config"
	"voiceorb/pkg/gateway"
	"voiceorb/pkg/host"
	"voiceorb/pkg/session"
)

func fastSystem() *config.SystemConfig {
	sys := config.DefaultSystemConfig()
	sys.MockDelayMs = 0
	sys.CannedDelayMs = 0
	sys.RecognitionRetryDelayMs = 10
	return sys
}

func newServer(t *testing.T, cfg *config.Config) (*httptest.Server, *gateway.GatewayManager) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	gw := gateway.NewGatewayManager(config.NewStore(cfg, ""), fastSystem())
	ch := NewWebChannel(WebConfig{})
	srv := httptest.NewServer(ch.Handler(gw))
	t.Cleanup(func() {
		srv.Close()
		ch.Stop()
		gw.StopAll()
	})
	return srv, gw
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func write(t *testing.T, ws *websocket.Conn, f IncomingFrame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, ws *websocket.Conn, typ string) OutgoingFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s frame", typ)
		var f OutgoingFrame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == typ {
			return f
		}
	}
}

func TestConfigEndpointStripsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.ElevenLabs.APIKey = "xi-secret"
	cfg.Webhooks.TextChat = "https://agent.example.com/chat"
	srv, _ := newServer(t, cfg)

	resp, err := http.Get(srv.URL + "/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotContains(t, string(body), "xi-secret")
	assert.Contains(t, string(body), "https://agent.example.com/chat")
}

func TestTextConversation(t *testing.T) {
	srv, gw := newServer(t, nil)
	ws := dial(t, srv, "")

	welcome := next(t, ws, FrameEntry)
	assert.Equal(t, api.RoleSystem, welcome.Entry.Role)
	assert.Equal(t, session.WelcomeMessage, welcome.Entry.Content)
	mode := next(t, ws, FrameMode)
	assert.Equal(t, host.ModeTextChat, mode.Mode)
	assert.Equal(t, welcome.Session, mode.Session)
	assert.Equal(t, 1, gw.OpenHosts())

	write(t, ws, IncomingFrame{Type: FrameText, Text: "hello"})
	user := next(t, ws, FrameEntry)
	assert.Equal(t, api.RoleUser, user.Entry.Role)
	assert.Equal(t, "hello", user.Entry.Content)

	reply := next(t, ws, FrameEntry)
	assert.Equal(t, api.RoleAssistant, reply.Entry.Role)
	assert.True(t, reply.Entry.Fallback)
	assert.NotEmpty(t, reply.Entry.Content)

	write(t, ws, IncomingFrame{Type: FrameText})
	errFrame := next(t, ws, FrameError)
	assert.Equal(t, session.ErrEmptyMessage.Error(), errFrame.Error)
}

func TestAttachAndRemoveFiles(t *testing.T) {
	srv, _ := newServer(t, nil)
	ws := dial(t, srv, "")
	next(t, ws, FrameMode)

	pdf := WireFile{Name: "notes.pdf", Data: base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))}
	write(t, ws, IncomingFrame{Type: FrameAttach, Files: []WireFile{pdf}})
	pending := next(t, ws, FramePending)
	require.Len(t, pending.Files, 1)
	assert.Equal(t, "notes.pdf", pending.Files[0].Name)

	exe := WireFile{Name: "setup.exe", Data: base64.StdEncoding.EncodeToString([]byte("MZ"))}
	write(t, ws, IncomingFrame{Type: FrameAttach, Files: []WireFile{exe}})
	rejected := next(t, ws, FrameError)
	assert.Equal(t, string(api.KindAttachmentRejected), rejected.Kind)
	assert.Len(t, next(t, ws, FramePending).Files, 1)

	write(t, ws, IncomingFrame{Type: FrameRemoveFile, Index: 0})
	assert.Empty(t, next(t, ws, FramePending).Files)

	write(t, ws, IncomingFrame{Type: FrameStart})
	assert.Equal(t, string(api.KindConfiguration), next(t, ws, FrameError).Kind)
}

func TestVoiceConversation(t *testing.T) {
	srv, _ := newServer(t, nil)
	ws := dial(t, srv, "?mode="+host.ModeVoiceChat)

	mode := next(t, ws, FrameMode)
	assert.Equal(t, host.ModeVoiceChat, mode.Mode)
	assert.Equal(t, api.StatusDisconnected, next(t, ws, FrameState).State.Status)

	write(t, ws, IncomingFrame{Type: FrameStart})
	next(t, ws, FramePermissionRequest)
	write(t, ws, IncomingFrame{Type: FramePermission, Granted: true})

	greeting := next(t, ws, FrameEntry)
	assert.Equal(t, api.RoleAssistant, greeting.Entry.Role)
	assert.Equal(t, session.LocalGreeting, greeting.Entry.Content)
	assert.Equal(t, session.LocalGreeting, next(t, ws, FrameSpeak).Text)
	write(t, ws, IncomingFrame{Type: FrameSpeakEnd})

	write(t, ws, IncomingFrame{Type: FrameSpeech, Text: "what is"})
	assert.Equal(t, "what is", *next(t, ws, FrameCaption).Caption)
	write(t, ws, IncomingFrame{Type: FrameSpeech, Text: "what is new", Final: true})

	user := next(t, ws, FrameEntry)
	assert.Equal(t, api.RoleUser, user.Entry.Role)
	assert.Equal(t, "what is new", user.Entry.Content)
	reply := next(t, ws, FrameEntry)
	assert.Equal(t, api.RoleAssistant, reply.Entry.Role)
	next(t, ws, FrameSpeak)

	write(t, ws, IncomingFrame{Type: FrameStop})
	for {
		st := next(t, ws, FrameState)
		if st.State.Status == api.StatusDisconnected {
			break
		}
	}
}

func TestVoicePermissionDenied(t *testing.T) {
	srv, _ := newServer(t, nil)
	ws := dial(t, srv, "?mode="+host.ModeMeeting)

	mode := next(t, ws, FrameMode)
	assert.Equal(t, host.MeetingHeader, mode.Header)
	assert.Equal(t, host.MeetingStatus, mode.Status)

	write(t, ws, IncomingFrame{Type: FrameStart})
	next(t, ws, FramePermissionRequest)
	write(t, ws, IncomingFrame{Type: FramePermission, Granted: false})

	for {
		st := next(t, ws, FrameState)
		if st.State.Status == api.StatusError {
			assert.NotEmpty(t, st.State.Error)
			break
		}
	}
	errFrame := next(t, ws, FrameError)
	assert.Equal(t, string(api.KindPermissionDenied), errFrame.Kind)
}

func TestDisconnectReleasesHost(t *testing.T) {
	srv, gw := newServer(t, nil)
	ws := dial(t, srv, "")
	next(t, ws, FrameMode)
	require.Equal(t, 1, gw.OpenHosts())

	ws.Close()
	require.Eventually(t, func() bool { return gw.OpenHosts() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownModeAndFrame(t *testing.T) {
	srv, _ := newServer(t, nil)
	ws := dial(t, srv, "")
	next(t, ws, FrameMode)

	write(t, ws, IncomingFrame{Type: FrameMode, Mode: "karaoke"})
	assert.Contains(t, next(t, ws, FrameError).Error, "karaoke")

	write(t, ws, IncomingFrame{Type: "dance"})
	assert.Contains(t, next(t, ws, FrameError).Error, "dance")
}

func TestFactory(t *testing.T) {
	f := &WebFactory{}
	ch, err := f.Create([]byte(`{"port":9999,"default_mode":"voice-chat"}`), nil)
	require.NoError(t, err)
	wc := ch.(*WebChannel)
	assert.Equal(t, 9999, wc.config.Port)
	assert.Equal(t, host.ModeVoiceChat, wc.config.DefaultMode)

	_, err = f.Create([]byte(`{"default_mode":"karaoke"}`), nil)
	assert.Error(t, err)
}

func TestWaitEndsWithStop(t *testing.T) {
	ch := NewWebChannel(WebConfig{})
	require.NoError(t, ch.Wait(), "never started")

	gw := gateway.NewGatewayManager(config.NewStore(config.Default(), ""), fastSystem())
	require.NoError(t, ch.Start(gw))

	waited := make(chan error, 1)
	go func() { waited <- ch.Wait() }()
	require.NoError(t, ch.Stop())

	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}
