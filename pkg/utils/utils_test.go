package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		assert.Len(t, id, 24)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectMime("report.PDF", nil))
	assert.Equal(t, "image/png", DetectMime("noext", []byte("\x89PNG\r\n\x1a\n0000")))
	assert.Equal(t, "application/octet-stream", DetectMime("noext", nil))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".pdf", ExtensionFor("application/pdf"))
	assert.Equal(t, "", ExtensionFor("application/x-unknown-thing"))
}
