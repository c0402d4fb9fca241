// Package storage holds uploaded file bytes outside the database.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotExist is returned when an object's bytes are missing.
var ErrNotExist = errors.New("storage: object does not exist")

// Storage stores objects under slash-separated names such as
// "tasks/<taskID>/<file>".
type Storage interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Remove succeeds when the object is already absent.
	Remove(ctx context.Context, name string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename keeps the base name of an uploaded file and strips path
// separators, traversal sequences and unusual characters.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base("/" + name)
	name = unsafeChars.ReplaceAllString(name, "_")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 120 {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:120-len(ext)] + ext
	}
	return name
}

// UniqueName returns "<uuid>_<sanitized original>".
func UniqueName(original string) string {
	return uuid.NewString() + "_" + SanitizeFilename(original)
}

// ValidObjectName rejects names that could escape the storage root.
func ValidObjectName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
