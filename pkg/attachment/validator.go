// Package attachment enforces the upload policy before any file is queued for sending.
package attachment

import (
	"fmt"
	"path/filepath"
	"strings"

	"voiceorb/pkg/api"
)

// Validator checks candidate uploads against a size limit and an extension
// allow-list. It performs no I/O and is safe for concurrent use.
type Validator struct {
	maxFileSize int64
	allowed     map[string]bool
}

// NewValidator builds a validator. Extensions are matched case-insensitively
// and may be given with or without the leading dot.
func NewValidator(maxFileSize int64, allowedTypes []string) *Validator {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, ext := range allowedTypes {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	return &Validator{maxFileSize: maxFileSize, allowed: allowed}
}

// Validate returns nil when the file is accepted, or an *api.Error of kind
// KindAttachmentRejected whose Reason is ReasonSize or ReasonType.
// The size limit is checked first, regardless of type.
func (v *Validator) Validate(f api.FileAttachment) error {
	if size := f.SizeBytes(); size > v.maxFileSize {
		return api.NewRejection(api.ReasonSize,
			fmt.Sprintf("File %q exceeds maximum size of %sMB", f.Filename, formatMB(v.maxFileSize)))
	}
	ext := Extension(f.Filename)
	if !v.allowed[ext] {
		return api.NewRejection(api.ReasonType, fmt.Sprintf("File type %q is not allowed", ext))
	}
	return nil
}

// MaxFileSize returns the configured size limit in bytes.
func (v *Validator) MaxFileSize() int64 {
	return v.maxFileSize
}

// Extension returns the lowercase extension of name including the dot, or "".
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func formatMB(bytes int64) string {
	mb := float64(bytes) / (1024 * 1024)
	if mb == float64(int64(mb)) {
		return fmt.Sprintf("%d", int64(mb))
	}
	return fmt.Sprintf("%.1f", mb)
}
