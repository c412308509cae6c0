// Package webhook sends user messages to the configured agent webhook and
// normalizes whatever comes back. When its fallback policy is enabled it
// never fails: every transport or format problem turns into a mock reply.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/api"
	"voiceorb/pkg/mock"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// HTMLExplanation is the degraded reply shown when the webhook returns a web page.
	HTMLExplanation = "The server returned HTML instead of JSON. Please check your webhook configuration or enable development mode."
	// NonJSONPlaceholder replaces an empty non-JSON body.
	NonJSONPlaceholder = "Server responded with non-JSON content"
	// NoResponsePlaceholder is used when a reply carries no text at all.
	NoResponsePlaceholder = "No response received"
	// ErrorCodeHTML is the error code attached to the HTML degraded reply.
	ErrorCodeHTML = "html_response"
)

// Options configures a Client.
type Options struct {
	// URL is the text_chat webhook. Empty means "not configured".
	URL string
	// UploadURL, when set, receives sends that carry attachments.
	UploadURL string
	// Fallback enables the mock policy from the start (devMode).
	Fallback bool
	// Timeout bounds one round trip. Zero means no timeout.
	Timeout time.Duration
	// RawReplyLimit bounds the characters echoed from a non-JSON body.
	RawReplyLimit int
	// ReadLimit bounds the bytes read from a response body.
	ReadLimit int64
	// SandboxHosts extends the hosts treated as non-production.
	SandboxHosts []string
	// FallbackExpiry lets an automatically enabled fallback expire. Zero keeps it forever.
	FallbackExpiry time.Duration
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
	// Mock produces the simulated replies.
	Mock *mock.Generator
}

// Client is the messaging transport of a text session.
type Client struct {
	opts Options
	http *http.Client
	mock *mock.Generator
	now  func() time.Time

	mu            sync.Mutex
	fallback      bool
	autoEnabledAt time.Time // zero unless fallback was switched on by EnableFallback
}

// NewClient creates a client. Missing limits take the widget defaults.
func NewClient(opts Options) *Client {
	if opts.RawReplyLimit <= 0 {
		opts.RawReplyLimit = 500
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 4 << 20
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	gen := opts.Mock
	if gen == nil {
		gen = mock.NewGenerator(1500 * time.Millisecond)
	}
	return &Client{
		opts:     opts,
		http:     httpClient,
		mock:     gen,
		now:      time.Now,
		fallback: opts.Fallback,
	}
}

// FallbackEnabled reports whether the mock policy is active.
func (c *Client) FallbackEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallback && !c.autoEnabledAt.IsZero() && c.opts.FallbackExpiry > 0 &&
		c.now().Sub(c.autoEnabledAt) >= c.opts.FallbackExpiry {
		slog.Info("Fallback window expired, trying the webhook again", "url", c.opts.URL)
		c.fallback = false
		c.autoEnabledAt = time.Time{}
	}
	return c.fallback
}

// EnableFallback switches the mock policy on. It reports whether the call
// changed anything, so callers can notify the user exactly once.
func (c *Client) EnableFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallback {
		return false
	}
	c.fallback = true
	c.autoEnabledAt = c.now()
	return true
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c.opts.URL != ""
}

// Send delivers entry and files to the webhook and returns the normalized reply.
// While the fallback policy is enabled the only possible error is the
// cancellation of ctx. Without fallback it returns an *api.Error describing
// the configuration, server, network or format problem.
func (c *Client) Send(ctx context.Context, entry api.TranscriptEntry, files []api.FileAttachment, progress ProgressFunc) (api.WebhookReply, error) {
	fallback := c.FallbackEnabled()
	target := c.endpoint(len(files) > 0)

	if target == "" {
		if fallback {
			return c.mockReply(ctx, entry.Content, files)
		}
		return api.WebhookReply{}, api.NewError(api.KindConfiguration, "Webhook URL not configured", nil)
	}

	if fallback && IsNonProduction(target, c.opts.SandboxHosts...) {
		slog.InfoContext(ctx, "Webhook is not a production endpoint, using mock reply", "url", target)
		return c.mockReply(ctx, entry.Content, files)
	}

	reply, err := c.post(ctx, target, entry, files, progress, fallback)
	if err != nil && fallback && ctx.Err() == nil {
		slog.WarnContext(ctx, "Webhook failed, using mock reply", "kind", api.KindOf(err), "error", err)
		return c.mockReply(ctx, entry.Content, files)
	}
	return reply, err
}

func (c *Client) endpoint(hasFiles bool) string {
	if hasFiles && c.opts.UploadURL != "" {
		return c.opts.UploadURL
	}
	return c.opts.URL
}

func (c *Client) mockReply(ctx context.Context, message string, files []api.FileAttachment) (api.WebhookReply, error) {
	r, err := c.mock.Generate(ctx, message, files)
	if err != nil {
		return api.WebhookReply{}, err
	}
	return api.WebhookReply{Content: r.Message, Fallback: true, Timestamp: r.Timestamp}, nil
}

// post performs the multipart round trip. Errors it returns are always *api.Error
// unless ctx itself was cancelled.
func (c *Client) post(ctx context.Context, target string, entry api.TranscriptEntry, files []api.FileAttachment, progress ProgressFunc, fallback bool) (api.WebhookReply, error) {
	body, contentType, err := encodeMultipart(entry, files)
	if err != nil {
		return api.WebhookReply{}, api.NewError(api.KindNetwork, "failed to prepare upload", err)
	}

	reqCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target,
		newProgressReader(bytes.NewReader(body), int64(len(body)), progress))
	if err != nil {
		return api.WebhookReply{}, api.NewError(api.KindConfiguration, "invalid webhook URL", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	slog.DebugContext(ctx, "Posting to webhook", "url", target, "files", len(files), "bytes", len(body))
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return api.WebhookReply{}, ctx.Err()
		}
		return api.WebhookReply{}, api.NewError(api.KindNetwork, "could not reach the webhook", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.ReadLimit))
	if err != nil {
		if ctx.Err() != nil {
			return api.WebhookReply{}, ctx.Err()
		}
		return api.WebhookReply{}, api.NewError(api.KindNetwork, "failed to read webhook response", err)
	}
	slog.DebugContext(ctx, "Webhook responded",
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"preview", preview(raw, 200))

	reply, err := c.classify(resp.StatusCode, resp.Status, resp.Header.Get("Content-Type"), raw, fallback)
	if err != nil {
		return api.WebhookReply{}, err
	}
	reply.Timestamp = c.now()
	return reply, nil
}

func encodeMultipart(entry api.TranscriptEntry, files []api.FileAttachment) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	role := entry.Role
	if role == "" {
		role = api.RoleUser
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := [][2]string{
		{"message", entry.Content},
		{"timestamp", ts.UTC().Format(api.TimestampLayout)},
		{"role", string(role)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	for i, f := range files {
		if err := writeFilePart(w, fmt.Sprintf("file_%d", i), f); err != nil {
			return nil, "", fmt.Errorf("attach %s: %w", f.Filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(w *multipart.Writer, field string, f api.FileAttachment) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Filename)))
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(part, src)
	return err
}

func preview(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// errMalformed marks a JSON body that failed to decode.
var errMalformed = errors.New("malformed JSON body")
