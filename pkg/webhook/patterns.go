package webhook

import (
	"net"
	"net/url"
	"strings"
)

// DefaultSandboxHosts are public echo services that never run a real agent.
var DefaultSandboxHosts = []string{"httpbin.org", "postman-echo.com"}

// IsNonProduction reports whether rawURL points at an endpoint that cannot be
// a real agent webhook: a loopback host, a static HTML page, a dummy API path
// or a known sandbox echo service. extraHosts extends the sandbox list.
func IsNonProduction(rawURL string, extraHosts ...string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	u, err := url.Parse(lower)
	if err != nil || u.Host == "" {
		// Unparseable: fall back to plain substring checks.
		return strings.Contains(lower, "localhost") ||
			strings.HasSuffix(lower, ".html") ||
			strings.Contains(lower, "/api/dummy/") ||
			matchesAnyHost(lower, DefaultSandboxHosts, extraHosts)
	}

	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsUnspecified()) {
		return true
	}
	if strings.HasSuffix(u.Path, ".html") || strings.HasSuffix(u.Path, ".htm") {
		return true
	}
	if strings.Contains(u.Path, "/api/dummy/") {
		return true
	}
	for _, list := range [][]string{DefaultSandboxHosts, extraHosts} {
		for _, h := range list {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" && (host == h || strings.HasSuffix(host, "."+h)) {
				return true
			}
		}
	}
	return false
}

func matchesAnyHost(s string, lists ...[]string) bool {
	for _, list := range lists {
		for _, h := range list {
			if h != "" && strings.Contains(s, strings.ToLower(h)) {
				return true
			}
		}
	}
	return false
}
