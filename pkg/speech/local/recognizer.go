package local

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"voiceorb/pkg/speech"
)

// LineRecognizer treats every line read from r as one spoken utterance.
// Words are revealed one at a time as interim results before the final one.
type LineRecognizer struct {
	lines chan string
	done  chan struct{}
	start sync.Once
	r     io.Reader
}

// NewLineRecognizer creates a recognizer reading from r. Reading starts with
// the first Listen call.
func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{
		lines: make(chan string),
		done:  make(chan struct{}),
		r:     r,
	}
}

// Done is closed once the underlying reader is exhausted.
func (l *LineRecognizer) Done() <-chan struct{} {
	return l.done
}

func (l *LineRecognizer) scan() {
	defer close(l.done)
	scanner := bufio.NewScanner(l.r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.lines <- line
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Line recognizer input failed", "error", err)
	}
}

// Listen implements speech.Recognizer.
func (l *LineRecognizer) Listen(ctx context.Context) (<-chan speech.Result, error) {
	l.start.Do(func() { go l.scan() })

	out := make(chan speech.Result, 1)
	go func() {
		defer close(out)
		var line string
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			select {
			case out <- speech.Result{Err: io.EOF}:
			case <-ctx.Done():
			}
			return
		case line = <-l.lines:
		}

		words := strings.Fields(line)
		for i := 1; i < len(words); i++ {
			select {
			case out <- speech.Result{Text: strings.Join(words[:i], " ")}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- speech.Result{Text: line, Final: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// FeedRecognizer relays results pushed by an outside engine, typically the
// browser's speech recognition forwarded over a websocket.
type FeedRecognizer struct {
	feed chan speech.Result
}

// NewFeedRecognizer creates a recognizer buffering up to size pushed results.
func NewFeedRecognizer(size int) *FeedRecognizer {
	if size <= 0 {
		size = 64
	}
	return &FeedRecognizer{feed: make(chan speech.Result, size)}
}

// Push hands a result to the active listener. It never blocks; results that
// overflow the buffer are dropped.
func (f *FeedRecognizer) Push(r speech.Result) bool {
	select {
	case f.feed <- r:
		return true
	default:
		slog.Warn("Recognition feed full, dropping result", "final", r.Final)
		return false
	}
}

// Listen implements speech.Recognizer. The utterance ends with the first
// final or failed result.
func (f *FeedRecognizer) Listen(ctx context.Context) (<-chan speech.Result, error) {
	out := make(chan speech.Result, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-f.feed:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
				if r.Final || r.Err != nil {
					return
				}
			}
		}
	}()
	return out, nil
}
