package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"voiceorb/pkg/api"
)

// Transcript is the append-only conversation log of one session.
// Entries are never mutated, removed or reordered once appended.
type Transcript struct {
	entries []api.TranscriptEntry
	sealed  bool
	mu      sync.RWMutex
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		entries: make([]api.TranscriptEntry, 0),
	}
}

// Append stamps the entry with an id and timestamp when missing and adds it.
// It returns false once the transcript has been sealed.
func (t *Transcript) Append(entry api.TranscriptEntry) (api.TranscriptEntry, bool) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if len(entry.Attachments) > 0 {
		entry.Attachments = append([]api.Attachment(nil), entry.Attachments...)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return entry, false
	}
	t.entries = append(t.entries, entry)
	return entry, true
}

// Entries returns a copy of the transcript in append order.
func (t *Transcript) Entries() []api.TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cp := make([]api.TranscriptEntry, len(t.entries))
	copy(cp, t.entries)
	return cp
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Seal stops the transcript from accepting entries.
func (t *Transcript) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}
