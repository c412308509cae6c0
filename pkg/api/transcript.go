package api

import (
	"bytes"
	"io"
	"os"
	"time"
)

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TimestampLayout is the ISO-8601 layout used for every timestamp that leaves
// the process (webhook fields, websocket frames).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// TranscriptEntry is one immutable line of a conversation. Entries are handed
// around by value; once appended to a transcript they are never changed.
type TranscriptEntry struct {
	ID          string       `json:"id"`                    // Unique entry identifier (uuid)
	Role        Role         `json:"role"`                  // Author of the entry
	Content     string       `json:"content"`               // Text shown to the user
	Timestamp   time.Time    `json:"timestamp"`             // Moment the entry was created
	Attachments []Attachment `json:"attachments,omitempty"` // Files sent alongside a user entry
	Fallback    bool         `json:"fallback,omitempty"`    // Marks a degraded or simulated reply
}

// FormattedTimestamp renders the entry time in TimestampLayout (UTC).
func (e TranscriptEntry) FormattedTimestamp() string {
	return e.Timestamp.UTC().Format(TimestampLayout)
}

// Attachment is the metadata of a file that passed validation.
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url,omitempty"`
}

// FileAttachment represents a candidate upload selected by the user.
// Either Data or Path carries the content.
type FileAttachment struct {
	Filename string // Original name of the file, including its extension
	MimeType string // MIME type descriptor (e.g., "image/jpeg", "application/pdf")
	Size     int64  // Size in bytes; derived from Data when zero
	Data     []byte // Raw binary content of the file (nil if Path is set)
	Path     string // Path to the file on disk (omits need for Data)
}

// SizeBytes reports the size of the file, falling back to len(Data) or a
// stat of Path when Size was not filled in.
func (f FileAttachment) SizeBytes() int64 {
	if f.Size > 0 {
		return f.Size
	}
	if f.Data != nil {
		return int64(len(f.Data))
	}
	if f.Path != "" {
		if info, err := os.Stat(f.Path); err == nil {
			return info.Size()
		}
	}
	return 0
}

// Open returns a reader over the file content.
func (f FileAttachment) Open() (io.ReadCloser, error) {
	if f.Data != nil || f.Path == "" {
		return io.NopCloser(bytes.NewReader(f.Data)), nil
	}
	return os.Open(f.Path)
}

// Attachment converts the candidate into the metadata stored on a transcript entry.
func (f FileAttachment) Attachment() Attachment {
	return Attachment{
		Name:      f.Filename,
		MimeType:  f.MimeType,
		SizeBytes: f.SizeBytes(),
	}
}

// AgentIdentity selects the remote agent and voice a session binds to.
type AgentIdentity struct {
	ID      string `json:"id"`
	VoiceID string `json:"voice_id"`
}

// WebhookReply is the normalized answer of the messaging transport,
// whatever shape the server actually returned.
type WebhookReply struct {
	Content   string    // Reply text to show
	Fallback  bool      // True for degraded or simulated replies
	Error     string    // Optional error code reported by the server (e.g. "html_response")
	Timestamp time.Time // When the reply was produced
}
