package session

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceorb/pkg/api"
	"voiceorb/pkg/attachment"
	"voiceorb/pkg/mock"
	"voiceorb/pkg/webhook"
)

const hookURL = "https://agent.example.com/hook"

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// replying answers every webhook call in-process with the given response.
func replying(hits *int32, status int, contentType, body string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(hits, 1)
		_, _ = io.Copy(io.Discard, r.Body)
		rec := httptest.NewRecorder()
		if contentType != "" {
			rec.Header().Set("Content-Type", contentType)
		}
		rec.WriteHeader(status)
		_, _ = io.WriteString(rec, body)
		return rec.Result(), nil
	})}
}

func newTextSession(t *testing.T, opts webhook.Options, rec *recorder) *TextSession {
	t.Helper()
	gen := mock.NewGenerator(0)
	if opts.Mock == nil {
		opts.Mock = gen
	}
	s := NewTextSession(TextConfig{
		Client:    webhook.NewClient(opts),
		Validator: attachment.NewValidator(10485760, []string{".pdf", ".png"}),
		Mock:      gen,
		Observer:  rec,
	})
	t.Cleanup(s.Destroy)
	return s
}

func TestTextWelcome(t *testing.T) {
	s := newTextSession(t, webhook.Options{Fallback: true}, &recorder{})
	assert.Equal(t, []string{"system:" + WelcomeMessage}, contents(s.Transcript()))
	assert.Equal(t, "text-chat", s.Mode())
}

func TestTextSendJSONReply(t *testing.T) {
	var hits int32
	rec := &recorder{}
	s := newTextSession(t, webhook.Options{URL: hookURL, HTTPClient: replying(&hits, 200, "application/json", `{"message":"Hi"}`)}, rec)

	errs := s.AddFiles(api.FileAttachment{Filename: "notes.pdf", MimeType: "application/pdf", Data: []byte("%PDF")})
	require.Len(t, errs, 1)
	require.NoError(t, errs[0])
	require.Len(t, s.Pending(), 1)

	reply, err := s.Send("hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi", reply.Content)
	assert.False(t, reply.Fallback)
	assert.Equal(t, int32(1), hits)
	assert.Empty(t, s.Pending())

	entries := s.Transcript()
	assert.Equal(t, []string{"system:" + WelcomeMessage, "user:hello", "assistant:Hi"}, contents(entries))
	require.Len(t, entries[1].Attachments, 1)
	assert.Equal(t, "notes.pdf", entries[1].Attachments[0].Name)

	progress := rec.progressList()
	require.NotEmpty(t, progress)
	assert.Equal(t, 0, progress[0])
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestTextRejectsOversizedFile(t *testing.T) {
	s := newTextSession(t, webhook.Options{Fallback: true}, &recorder{})
	errs := s.AddFiles(
		api.FileAttachment{Filename: "big.pdf", Size: 20 << 20},
		api.FileAttachment{Filename: "tool.exe", Size: 10},
	)
	require.Len(t, errs, 2)
	var e *api.Error
	require.True(t, errors.As(errs[0], &e))
	assert.Equal(t, api.ReasonSize, e.Reason)
	require.True(t, errors.As(errs[1], &e))
	assert.Equal(t, api.ReasonType, e.Reason)
	assert.Empty(t, s.Pending())
}

func TestTextRemoveFile(t *testing.T) {
	s := newTextSession(t, webhook.Options{Fallback: true}, &recorder{})
	s.AddFiles(
		api.FileAttachment{Filename: "a.png", Size: 1},
		api.FileAttachment{Filename: "b.png", Size: 1},
	)
	assert.False(t, s.RemoveFile(5))
	assert.True(t, s.RemoveFile(0))
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "b.png", pending[0].Name)
}

func TestTextSendGuards(t *testing.T) {
	s := newTextSession(t, webhook.Options{Fallback: true}, &recorder{})
	_, err := s.Send("   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	s.Destroy()
	_, err = s.Send("hi")
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestTextMockWithoutWebhook(t *testing.T) {
	s := newTextSession(t, webhook.Options{Fallback: true}, &recorder{})
	reply, err := s.Send("ping")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, `This is a mock response to: "ping"`, reply.Content)

	entries := s.Transcript()
	require.Len(t, entries, 3)
	assert.True(t, entries[2].Fallback)
}

func TestTextHTMLReplyPromotesFallbackOnce(t *testing.T) {
	var hits int32
	s := newTextSession(t, webhook.Options{URL: hookURL, HTTPClient: replying(&hits, 200, "text/html", "<html></html>")}, &recorder{})

	reply, err := s.Send("first")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, webhook.HTMLExplanation, reply.Content)
	assert.True(t, s.FallbackEnabled())

	reply, err = s.Send("second")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, `This is a mock response to: "second"`, reply.Content)

	notices := 0
	for _, e := range s.Transcript() {
		if e.Content == AutoFallbackNotice {
			notices++
		}
	}
	assert.Equal(t, 1, notices)
	assert.Equal(t, []string{
		"system:" + WelcomeMessage,
		"user:first",
		"system:" + AutoFallbackNotice,
		"assistant:" + webhook.HTMLExplanation,
		"user:second",
		"assistant:" + `This is a mock response to: "second"`,
	}, contents(s.Transcript()))
}

func TestTextHardErrorRecoversWithMock(t *testing.T) {
	failing := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	})}
	s := newTextSession(t, webhook.Options{URL: hookURL, HTTPClient: failing}, &recorder{})
	s.AddFiles(api.FileAttachment{Filename: "a.png", Size: 2048})

	reply, err := s.Send("hello")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Contains(t, reply.Content, "I received 1 file(s):")
	assert.True(t, s.FallbackEnabled())
	assert.Empty(t, s.Pending())

	assert.Equal(t, []string{
		"system:" + WelcomeMessage,
		"user:hello",
		"system:" + RecoveryNotice,
		"assistant:" + reply.Content,
	}, contents(s.Transcript()))
}

func TestTextMalformedJSONRecovers(t *testing.T) {
	var hits int32
	s := newTextSession(t, webhook.Options{URL: hookURL, HTTPClient: replying(&hits, 200, "application/json", "{nope")}, &recorder{})
	reply, err := s.Send("hello")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, "system:"+RecoveryNotice, contents(s.Transcript())[2])
}

func TestTextServerErrorRestoresFiles(t *testing.T) {
	var hits int32
	s := newTextSession(t, webhook.Options{URL: hookURL, HTTPClient: replying(&hits, 500, "application/json", `{}`)}, &recorder{})
	s.AddFiles(api.FileAttachment{Filename: "a.png", Size: 1})

	_, err := s.Send("hello")
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindServer))
	assert.Len(t, s.Pending(), 1)
	assert.False(t, s.FallbackEnabled())

	entries := s.Transcript()
	require.Len(t, entries, 3)
	assert.Equal(t, api.RoleSystem, entries[2].Role)
	assert.Contains(t, entries[2].Content, "Error: ")
	assert.False(t, s.Sending())
}

func TestTextConfigurationError(t *testing.T) {
	s := newTextSession(t, webhook.Options{}, &recorder{})
	_, err := s.Send("hello")
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindConfiguration))
}

func TestTextBusyWhileSending(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		close(entered)
		<-release
		rec := httptest.NewRecorder()
		rec.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(rec, `{"response":"done"}`)
		return rec.Result(), nil
	})}
	s := newTextSession(t, webhook.Options{URL: hookURL, HTTPClient: blocking}, &recorder{})

	type result struct {
		reply api.WebhookReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		r, err := s.Send("first")
		done <- result{r, err}
	}()
	<-entered

	_, err := s.Send("second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, s.Sending())

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "done", res.reply.Content)
}

func TestTextDestroyDiscardsLateReply(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		close(entered)
		<-release
		rec := httptest.NewRecorder()
		rec.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(rec, `{"message":"late"}`)
		return rec.Result(), nil
	})}
	s := newTextSession(t, webhook.Options{URL: hookURL, HTTPClient: slow}, &recorder{})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Send("hello")
		errc <- err
	}()
	<-entered
	s.Destroy()
	close(release)

	assert.ErrorIs(t, <-errc, ErrDestroyed)
	for _, e := range s.Transcript() {
		assert.NotEqual(t, "late", e.Content)
	}
}
