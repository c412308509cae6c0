package webhook

import (
	"fmt"
	"mime"
	"strings"

	"voiceorb/pkg/api"
)

// classify turns a raw HTTP result into a reply. Outcomes that the fallback
// policy should absorb are returned as errors; Send replaces them with a mock
// reply when fallback is enabled.
func (c *Client) classify(status int, statusText, contentType string, body []byte, fallback bool) (api.WebhookReply, error) {
	if status < 200 || status > 299 {
		return api.WebhookReply{}, api.NewServerError(status, statusText)
	}

	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		doc, err := decode(body)
		if err != nil {
			return api.WebhookReply{}, api.NewError(api.KindInvalidResponseFormat, "webhook returned malformed JSON", err)
		}
		return normalize(doc, body), nil

	case mediaType == "text/html":
		if fallback {
			return api.WebhookReply{}, api.NewError(api.KindInvalidResponseFormat, "webhook returned HTML instead of JSON", nil)
		}
		return api.WebhookReply{Content: HTMLExplanation, Error: ErrorCodeHTML, Fallback: true}, nil

	default:
		if doc, err := decode(body); err == nil {
			return normalize(doc, body), nil
		}
		raw := strings.TrimSpace(string(body))
		if fallback {
			if raw == "" {
				raw = NonJSONPlaceholder
			}
			return api.WebhookReply{Content: raw, Fallback: true}, nil
		}
		if raw == "" {
			return api.WebhookReply{Content: NonJSONPlaceholder, Fallback: true}, nil
		}
		return api.WebhookReply{Content: truncate(raw, c.opts.RawReplyLimit), Fallback: true}, nil
	}
}

func decode(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return doc, nil
}

// normalize extracts the reply text following message, response, raw text,
// placeholder priority. fallback/mock flags in the body mark the reply degraded.
func normalize(doc any, body []byte) api.WebhookReply {
	var reply api.WebhookReply
	switch v := doc.(type) {
	case map[string]any:
		reply.Content = stringField(v, "message")
		if reply.Content == "" {
			reply.Content = stringField(v, "response")
		}
		reply.Error = stringField(v, "error")
		reply.Fallback = boolField(v, "fallback") || boolField(v, "mock")
	case string:
		reply.Content = v
	}
	if reply.Content == "" {
		reply.Content = strings.TrimSpace(string(body))
	}
	if reply.Content == "" {
		reply.Content = NoResponsePlaceholder
	}
	return reply
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
