package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"voiceorb/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRecognizer struct{}

func (fakeRecognizer) Listen(ctx context.Context) (<-chan Result, error) {
	ch := make(chan Result, 2)
	ch <- Result{Text: "hi"}
	ch <- Result{Text: "hi there", Final: true}
	close(ch)
	return ch, nil
}

// blockingSynth blocks every Speak until its context ends.
type blockingSynth struct {
	mu     sync.Mutex
	spoken []string
	start  chan struct{}
}

func (s *blockingSynth) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	if s.start != nil {
		s.start <- struct{}{}
	}
	<-ctx.Done()
	return ctx.Err()
}

type instantSynth struct{ err error }

func (s instantSynth) Speak(ctx context.Context, text string) error { return s.err }

type fakeStream struct {
	reply  string
	err    error
	turns  []Turn
	closed int
}

func (f *fakeStream) Converse(ctx context.Context, turn Turn) (TurnResult, error) {
	f.turns = append(f.turns, turn)
	return TurnResult{Text: f.reply}, f.err
}

func (f *fakeStream) Close() error {
	f.closed++
	return nil
}

func streamConfig() StreamConfig {
	return StreamConfig{
		APIKey:        "key",
		Agent:         api.AgentIdentity{ID: "agent", VoiceID: "voice"},
		ModelID:       "eleven_turbo_v2",
		VoiceSettings: VoiceSettings{Stability: 0.5, SimilarityBoost: 0.8},
	}
}

func TestNewAdapterRequiresLocalBackend(t *testing.T) {
	_, err := NewAdapter(context.Background(), AdapterConfig{Recognizer: fakeRecognizer{}})
	assert.True(t, api.IsKind(err, api.KindSDKUnavailable))
}

func TestNewAdapterSelectsExternal(t *testing.T) {
	stream := &fakeStream{reply: "agent says hi"}
	var dialed StreamConfig
	a, err := NewAdapter(context.Background(), AdapterConfig{
		Stream: streamConfig(),
		Dialer: func(ctx context.Context, cfg StreamConfig) (VoiceStream, error) {
			dialed = cfg
			return stream, nil
		},
		Recognizer:  fakeRecognizer{},
		Synthesizer: instantSynth{},
	})
	require.NoError(t, err)
	assert.True(t, a.External())
	assert.NoError(t, a.Unavailable())
	assert.Equal(t, "agent", dialed.Agent.ID)

	text, err := a.Converse(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "agent says hi", text)
	require.Len(t, stream.turns, 1)
	assert.Equal(t, Turn{Text: "hello", ModelID: "eleven_turbo_v2", VoiceSettings: VoiceSettings{0.5, 0.8}}, stream.turns[0])

	a.Stop()
	a.Stop()
	assert.Equal(t, 1, stream.closed)
}

func TestNewAdapterFallsBackWhenDialFails(t *testing.T) {
	a, err := NewAdapter(context.Background(), AdapterConfig{
		Stream: streamConfig(),
		Dialer: func(ctx context.Context, cfg StreamConfig) (VoiceStream, error) {
			return nil, errors.New("sdk failed to load")
		},
		Recognizer:  fakeRecognizer{},
		Synthesizer: instantSynth{},
	})
	require.NoError(t, err)
	assert.False(t, a.External())
	assert.True(t, api.IsKind(a.Unavailable(), api.KindSDKUnavailable))

	_, err = a.Converse(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNewAdapterSkipsExternal(t *testing.T) {
	dialed := false
	a, err := NewAdapter(context.Background(), AdapterConfig{
		Stream:       streamConfig(),
		SkipExternal: true,
		Dialer: func(ctx context.Context, cfg StreamConfig) (VoiceStream, error) {
			dialed = true
			return &fakeStream{}, nil
		},
		Recognizer:  fakeRecognizer{},
		Synthesizer: instantSynth{},
	})
	require.NoError(t, err)
	assert.False(t, dialed)
	assert.False(t, a.External())
	assert.NoError(t, a.Unavailable())
}

func TestNewAdapterMissingCredentials(t *testing.T) {
	cfg := streamConfig()
	cfg.APIKey = ""
	a, err := NewAdapter(context.Background(), AdapterConfig{
		Stream:      cfg,
		Dialer:      func(ctx context.Context, cfg StreamConfig) (VoiceStream, error) { return &fakeStream{}, nil },
		Recognizer:  fakeRecognizer{},
		Synthesizer: instantSynth{},
	})
	require.NoError(t, err)
	assert.False(t, a.External())
	assert.Error(t, a.Unavailable())
}

func TestSpeakCancelsPreviousUtterance(t *testing.T) {
	synth := &blockingSynth{start: make(chan struct{})}
	a, err := NewAdapter(context.Background(), AdapterConfig{Recognizer: fakeRecognizer{}, Synthesizer: synth})
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() { first <- a.Speak(context.Background(), "first") }()
	<-synth.start

	second := make(chan error, 1)
	go func() { second <- a.Speak(context.Background(), "second") }()
	<-synth.start

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("first utterance was not cancelled")
	}

	a.Stop()
	select {
	case err := <-second:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the active utterance")
	}

	assert.ErrorIs(t, a.Speak(context.Background(), "late"), ErrInterrupted)
}

func TestSpeakReportsFailure(t *testing.T) {
	boom := errors.New("audio device busy")
	a, err := NewAdapter(context.Background(), AdapterConfig{Recognizer: fakeRecognizer{}, Synthesizer: instantSynth{err: boom}})
	require.NoError(t, err)
	assert.ErrorIs(t, a.Speak(context.Background(), "x"), boom)
}

func TestListenOnce(t *testing.T) {
	a, err := NewAdapter(context.Background(), AdapterConfig{Recognizer: fakeRecognizer{}, Synthesizer: instantSynth{}})
	require.NoError(t, err)

	ch, err := a.ListenOnce(context.Background())
	require.NoError(t, err)
	var results []Result
	for r := range ch {
		results = append(results, r)
	}
	require.Len(t, results, 2)
	assert.True(t, results[1].Final)

	a.Stop()
	_, err = a.ListenOnce(context.Background())
	assert.ErrorIs(t, err, ErrInterrupted)
}
