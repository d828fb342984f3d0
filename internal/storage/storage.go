// Package storage persists uploaded chat attachments and returns their public URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object describes a file to be stored.
type Object struct {
	// Kind is the upload category ("image", "voice", "file"); it becomes the key prefix.
	Kind        string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Storage writes an object and returns the URL clients should use to fetch it.
type Storage interface {
	Put(ctx context.Context, obj Object) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds a collision-free key such as "voice/2026/10/16/<uuid>-note.webm".
func ObjectKey(kind, fileName string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "upload"
	}
	if len(base) > 80 {
		base = base[len(base)-80:]
	}
	if kind == "" {
		kind = "file"
	}
	return fmt.Sprintf("%s/%s/%s-%s", kind, now.UTC().Format("2006/01/02"), uuid.NewString(), base)
}
