package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNonProduction(t *testing.T) {
	cases := map[string]bool{
		"http://localhost:5678/webhook/abc":        true,
		"http://127.0.0.1:8080/hook":               true,
		"http://[::1]:8080/hook":                   true,
		"http://app.localhost/hook":                true,
		"https://example.com/widget/index.html":    true,
		"https://example.com/page.HTM":             true,
		"https://example.com/api/dummy/chat":       true,
		"https://httpbin.org/post":                 true,
		"https://eu.httpbin.org/anything":          true,
		"https://postman-echo.com/post":            true,
		"https://hooks.example.com/webhook/abc":    false,
		"https://n8n.example.com/webhook/chat-123": false,
		"https://example.com/api/dummyish/chat":    false,
		"not a url with localhost inside":          true,
	}
	for raw, want := range cases {
		assert.Equal(t, want, IsNonProduction(raw), raw)
	}
}

func TestIsNonProductionExtraHosts(t *testing.T) {
	assert.False(t, IsNonProduction("https://webhook.site/abc"))
	assert.True(t, IsNonProduction("https://webhook.site/abc", "webhook.site"))
}
