package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voiceorb/pkg/api"
	"voiceorb/pkg/attachment"
	"voiceorb/pkg/config"
	"voiceorb/pkg/mock"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/utils"
	"voiceorb/pkg/webhook"
)

const (
	// WelcomeMessage opens every text conversation.
	WelcomeMessage = "How can I help you today?"
	// AutoFallbackNotice is shown once when a degraded reply switches the session to mock replies.
	AutoFallbackNotice = "Development mode has been automatically enabled due to webhook configuration issues. You will now receive mock responses."
	// RecoveryNotice is shown when a hard webhook failure is retried with a mock reply.
	RecoveryNotice = "Webhook configuration issue detected. Development mode has been enabled. Retrying with mock response..."
)

// TextConfig assembles a text session.
type TextConfig struct {
	Mode      string
	Client    *webhook.Client
	Validator *attachment.Validator
	// Mock answers the retry after a hard webhook failure.
	Mock     *mock.Generator
	Observer api.SessionObserver
	// Welcome overrides WelcomeMessage. Set NoWelcome to open without one.
	Welcome   string
	NoWelcome bool
}

// TextSession is a turn based conversation over the webhook client. Files
// are validated when added and stay pending until a send succeeds.
type TextSession struct {
	id         string
	cfg        TextConfig
	transcript *Transcript
	observer   api.SessionObserver

	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   []api.FileAttachment
	sending   bool
	epoch     uint64
	destroyed bool
}

// NewTextSession creates the session and appends the welcome entry.
func NewTextSession(cfg TextConfig) *TextSession {
	if cfg.Mode == "" {
		cfg.Mode = "text-chat"
	}
	if cfg.Mock == nil {
		cfg.Mock = mock.NewGenerator(1500 * time.Millisecond)
	}
	if cfg.Validator == nil {
		cfg.Validator = attachment.NewValidator(config.DefaultMaxFileSize, config.DefaultAllowedFileTypes)
	}
	if cfg.Client == nil {
		cfg.Client = webhook.NewClient(webhook.Options{Fallback: true, Mock: cfg.Mock})
	}
	observer := cfg.Observer
	if observer == nil {
		observer = api.ObserverFuncs{}
	}

	id := utils.GenerateID()
	base, cancel := context.WithCancel(monitor.WithSessionID(context.Background(), id))
	s := &TextSession{
		id:         id,
		cfg:        cfg,
		transcript: NewTranscript(),
		observer:   observer,
		base:       base,
		cancel:     cancel,
	}

	if !cfg.NoWelcome {
		welcome := cfg.Welcome
		if welcome == "" {
			welcome = WelcomeMessage
		}
		s.append(0, api.TranscriptEntry{Role: api.RoleSystem, Content: welcome})
	}
	return s
}

// ID implements api.Session.
func (s *TextSession) ID() string { return s.id }

// Mode implements api.Session.
func (s *TextSession) Mode() string { return s.cfg.Mode }

// Transcript implements api.Session.
func (s *TextSession) Transcript() []api.TranscriptEntry { return s.transcript.Entries() }

// FallbackEnabled reports whether replies currently come from the mock generator.
func (s *TextSession) FallbackEnabled() bool { return s.cfg.Client.FallbackEnabled() }

// AddFiles validates each file and adds the accepted ones to the pending set.
// The returned slice holds one entry per file: nil when accepted, otherwise
// the rejection.
func (s *TextSession) AddFiles(files ...api.FileAttachment) []error {
	errs := make([]error, len(files))
	var accepted []api.FileAttachment
	for i, f := range files {
		if err := s.cfg.Validator.Validate(f); err != nil {
			errs[i] = err
			slog.InfoContext(s.base, "Attachment rejected", "file", f.Filename, "error", err)
			continue
		}
		accepted = append(accepted, f)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		for i := range errs {
			if errs[i] == nil {
				errs[i] = ErrDestroyed
			}
		}
		return errs
	}
	s.pending = append(s.pending, accepted...)
	s.mu.Unlock()
	return errs
}

// RemoveFile drops the pending file at index.
func (s *TextSession) RemoveFile(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending || index < 0 || index >= len(s.pending) {
		return false
	}
	s.pending = append(s.pending[:index:index], s.pending[index+1:]...)
	return true
}

// Pending describes the files waiting to be sent.
func (s *TextSession) Pending() []api.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Attachment, len(s.pending))
	for i, f := range s.pending {
		out[i] = f.Attachment()
	}
	return out
}

// Sending reports whether a send is in flight.
func (s *TextSession) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Send appends the user entry with the pending files and waits for the reply.
// Webhook problems are recovered with mock replies whenever possible; only a
// configuration or server failure with fallback disabled is returned, in
// which case the pending files are restored. A reply that arrives after
// Destroy is discarded and ErrDestroyed returned.
func (s *TextSession) Send(text string) (api.WebhookReply, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	switch {
	case s.destroyed:
		s.mu.Unlock()
		return api.WebhookReply{}, ErrDestroyed
	case s.sending:
		s.mu.Unlock()
		return api.WebhookReply{}, ErrBusy
	case text == "" && len(s.pending) == 0:
		s.mu.Unlock()
		return api.WebhookReply{}, ErrEmptyMessage
	}
	s.sending = true
	epoch := s.epoch
	files := s.pending
	s.pending = nil
	s.mu.Unlock()
	defer s.finishSend()

	attachments := make([]api.Attachment, len(files))
	for i, f := range files {
		attachments[i] = f.Attachment()
	}
	entry, ok := s.append(epoch, api.TranscriptEntry{Role: api.RoleUser, Content: text, Attachments: attachments})
	if !ok {
		return api.WebhookReply{}, ErrDestroyed
	}

	ctx := s.base
	progress := func(percent int) { s.observer.OnProgress(s.id, percent) }
	reply, err := s.cfg.Client.Send(ctx, entry, files, progress)
	if ctx.Err() != nil {
		return api.WebhookReply{}, ErrDestroyed
	}

	if err != nil {
		switch api.KindOf(err) {
		case api.KindInvalidResponseFormat, api.KindNetwork:
			reply, err = s.recoverWithMock(ctx, epoch, entry, files, err)
			if err != nil {
				return api.WebhookReply{}, err
			}
		default:
			slog.ErrorContext(ctx, "Message could not be delivered", "error", err)
			s.append(epoch, api.TranscriptEntry{Role: api.RoleSystem, Content: "Error: " + api.UserMessage(err)})
			s.restore(epoch, files)
			return api.WebhookReply{}, err
		}
	} else if reply.Fallback && s.cfg.Client.EnableFallback() {
		slog.WarnContext(ctx, "Degraded webhook reply, switching to mock responses", "error_code", reply.Error)
		if _, ok := s.append(epoch, api.TranscriptEntry{Role: api.RoleSystem, Content: AutoFallbackNotice}); !ok {
			return api.WebhookReply{}, ErrDestroyed
		}
	}

	if _, ok := s.append(epoch, replyEntry(reply)); !ok {
		return api.WebhookReply{}, ErrDestroyed
	}
	return reply, nil
}

// recoverWithMock turns a malformed or unreachable webhook into a mock reply and
// keeps the session in mock mode from then on.
func (s *TextSession) recoverWithMock(ctx context.Context, epoch uint64, entry api.TranscriptEntry, files []api.FileAttachment, cause error) (api.WebhookReply, error) {
	slog.WarnContext(ctx, "Webhook failed, retrying with mock response", "kind", api.KindOf(cause), "error", cause)
	s.cfg.Client.EnableFallback()
	if _, ok := s.append(epoch, api.TranscriptEntry{Role: api.RoleSystem, Content: RecoveryNotice}); !ok {
		return api.WebhookReply{}, ErrDestroyed
	}
	r, err := s.cfg.Mock.Generate(ctx, entry.Content, files)
	if err != nil {
		if ctx.Err() != nil {
			return api.WebhookReply{}, ErrDestroyed
		}
		return api.WebhookReply{}, err
	}
	return api.WebhookReply{Content: r.Message, Fallback: true, Timestamp: r.Timestamp}, nil
}

func replyEntry(reply api.WebhookReply) api.TranscriptEntry {
	content := reply.Content
	if content == "" {
		content = webhook.NoResponsePlaceholder
	}
	return api.TranscriptEntry{
		Role:      api.RoleAssistant,
		Content:   content,
		Timestamp: reply.Timestamp,
		Fallback:  reply.Fallback,
	}
}

// restore puts files back in front of anything added while the send was in flight.
func (s *TextSession) restore(epoch uint64, files []api.FileAttachment) {
	if len(files) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.epoch != epoch {
		return
	}
	s.pending = append(append([]api.FileAttachment(nil), files...), s.pending...)
}

func (s *TextSession) finishSend() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
}

func (s *TextSession) append(epoch uint64, entry api.TranscriptEntry) (api.TranscriptEntry, bool) {
	s.mu.Lock()
	if s.destroyed || s.epoch != epoch {
		s.mu.Unlock()
		slog.DebugContext(s.base, "Discarding late transcript entry", "role", entry.Role)
		return entry, false
	}
	entry, ok := s.transcript.Append(entry)
	s.mu.Unlock()
	if ok {
		s.observer.OnEntry(s.id, entry)
	}
	return entry, ok
}

// Destroy cancels any in-flight send and seals the transcript. It is idempotent.
func (s *TextSession) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.epoch++
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.transcript.Seal()
}

var _ api.Session = (*TextSession)(nil)
var _ api.Session = (*VoiceSession)(nil)

