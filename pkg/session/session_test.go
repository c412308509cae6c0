package session

import (
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

// recorder collects every observer update.
type recorder struct {
	mu       sync.Mutex
	entries  []api.TranscriptEntry
	states   []api.ConversationState
	captions []string
	progress []int
}

func (r *recorder) OnEntry(_ string, e api.TranscriptEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorder) OnState(_ string, s api.ConversationState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) OnCaption(_ string, c string) {
	r.mu.Lock()
	r.captions = append(r.captions, c)
	r.mu.Unlock()
}

func (r *recorder) OnProgress(_ string, p int) {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	r.mu.Unlock()
}

func (r *recorder) statuses() []api.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.Status, 0, len(r.states))
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func (r *recorder) captionList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.captions...)
}

func (r *recorder) progressList() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

func contents(entries []api.TranscriptEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Role) + ":" + e.Content
	}
	return out
}

func TestTranscriptAppendOrder(t *testing.T) {
	tr := NewTranscript()
	for _, c := range []string{"a", "b", "c"} {
		e, ok := tr.Append(api.TranscriptEntry{Role: api.RoleUser, Content: c})
		require.True(t, ok)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, []string{"user:a", "user:b", "user:c"}, contents(tr.Entries()))

	got := tr.Entries()
	got[0].Content = "mutated"
	assert.Equal(t, "a", tr.Entries()[0].Content)

	tr.Seal()
	_, ok := tr.Append(api.TranscriptEntry{Role: api.RoleUser, Content: "d"})
	assert.False(t, ok)
	assert.Equal(t, 3, tr.Len())
}

func TestTranscriptKeepsGivenTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e, ok := NewTranscript().Append(api.TranscriptEntry{Role: api.RoleSystem, Content: "x", Timestamp: ts})
	require.True(t, ok)
	assert.Equal(t, ts, e.Timestamp)
}
