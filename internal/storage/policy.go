package storage

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// FilePolicy represents attachment upload constraints
type FilePolicy struct {
	MaxFileMB  float64  `yaml:"max_file_mb"`
	MimeTypes  []string `yaml:"mime"`
	Extensions []string `yaml:"extensions"`
}

// DefaultPolicy allows common office documents and images up to 25 MB
func DefaultPolicy() *FilePolicy {
	return &FilePolicy{
		MaxFileMB:  25,
		MimeTypes:  []string{"application/pdf", "image/*", "text/plain", "application/octet-stream"},
		Extensions: nil,
	}
}

// MaxBytes returns the per-file limit in bytes, or 0 for no limit
func (fp *FilePolicy) MaxBytes() int64 {
	if fp == nil || fp.MaxFileMB <= 0 {
		return 0
	}
	return int64(fp.MaxFileMB * 1024 * 1024)
}

// ValidateFile validates a file against the policy
func (fp *FilePolicy) ValidateFile(fileName, contentType string, fileSizeBytes int64) error {
	if fp == nil {
		return nil // No policy means no restrictions
	}

	if maxBytes := fp.MaxBytes(); maxBytes > 0 && fileSizeBytes > maxBytes {
		return fmt.Errorf("file size %d bytes exceeds maximum %d bytes (%.2f MB)",
			fileSizeBytes, maxBytes, fp.MaxFileMB)
	}

	if len(fp.MimeTypes) > 0 && !fp.matchesMimeType(contentType) {
		return fmt.Errorf("content type %s is not allowed. Allowed types: %v",
			contentType, fp.MimeTypes)
	}

	if len(fp.Extensions) > 0 && !fp.matchesExtension(fileName) {
		return fmt.Errorf("file extension is not allowed. Allowed extensions: %v",
			fp.Extensions)
	}

	return nil
}

// matchesMimeType checks if contentType matches any of the allowed MIME type patterns
func (fp *FilePolicy) matchesMimeType(contentType string) bool {
	// Handle parameters like "text/plain; charset=utf-8"
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	for _, allowed := range fp.MimeTypes {
		// Support wildcard patterns like "image/*"
		if strings.HasSuffix(allowed, "/*") {
			prefix := strings.TrimSuffix(allowed, "/*")
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
		} else if mediaType == allowed {
			return true
		}
	}
	return false
}

// matchesExtension checks if fileName has an allowed extension
func (fp *FilePolicy) matchesExtension(fileName string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" {
		return false
	}

	for _, allowed := range fp.Extensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}
