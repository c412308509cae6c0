package ollama

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceorb/pkg/llm"
)

func TestStreamChatCollectsAnswer(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"Costs \$5"},"done":false}`+"\n")
		io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":" today."},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":3}`+"\n")
	}))
	defer srv.Close()

	client, err := NewOllamaClient("m", srv.URL, map[string]any{"max_tokens": float64(64), "debug": true}, nil)
	require.NoError(t, err)

	relay := llm.NewRelay(client, "Be brief.", 0)
	text, err := relay.Respond(context.Background(), nil, "price?")
	require.NoError(t, err)
	assert.Equal(t, "Costs $5 today.", text)
	assert.Contains(t, gotBody, `"num_predict":64`)
	assert.Contains(t, gotBody, `"Be brief."`)
	assert.NotContains(t, gotBody, `"debug"`)
}

func TestStreamChatStartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model 'm' not found"}`)
	}))
	defer srv.Close()

	client, err := NewOllamaClient("m", srv.URL, nil, nil)
	require.NoError(t, err)
	_, err = client.StreamChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.False(t, client.IsTransientError(err))
	assert.False(t, client.IsTransientError(io.ErrUnexpectedEOF))
	assert.True(t, client.IsTransientError(errStr("dial tcp: connection refused")))
}

type errStr string

func (e errStr) Error() string { return string(e) }

func TestJSONFixingReadCloser(t *testing.T) {
	r := &jsonFixingReadCloser{body: io.NopCloser(strings.NewReader(`{"a":"\$1 and \n"}`))}
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"$1 and \n"}`, string(b))
}
