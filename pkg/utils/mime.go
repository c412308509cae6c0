package utils

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const defaultMime = "application/octet-stream"

// DetectMime determines the MIME type of an upload. The file extension wins
// when it is known; otherwise the first bytes of data are sniffed.
func DetectMime(filename string, data []byte) string {
	if ext := filepath.Ext(filename); ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			return t
		}
	}
	if len(data) > 0 {
		if len(data) > 512 {
			data = data[:512]
		}
		return http.DetectContentType(data)
	}
	return defaultMime
}

// ExtensionFor converts a MIME type to its first standard extension, or "" if unknown.
func ExtensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
