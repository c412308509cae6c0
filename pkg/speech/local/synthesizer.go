package local

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ConsoleSynthesizer "speaks" by printing text and holding for roughly the
// time it would take to say it.
type ConsoleSynthesizer struct {
	mu      sync.Mutex
	w       io.Writer
	perWord time.Duration
}

// NewConsoleSynthesizer creates a synthesizer writing to w at the given pace.
// A non-positive wordsPerMinute disables pacing.
func NewConsoleSynthesizer(w io.Writer, wordsPerMinute int) *ConsoleSynthesizer {
	var perWord time.Duration
	if wordsPerMinute > 0 {
		perWord = time.Minute / time.Duration(wordsPerMinute)
	}
	return &ConsoleSynthesizer{w: w, perWord: perWord}
}

// Speak implements speech.Synthesizer.
func (s *ConsoleSynthesizer) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	_, err := fmt.Fprintf(s.w, "🔊 %s\n", text)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	d := s.perWord * time.Duration(len(strings.Fields(text)))
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
