package drive

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

type EntryType string

const (
	TypeFile   EntryType = "file"
	TypeFolder EntryType = "folder"
)

// Entry is one item of a listing. Path is slash-rooted and relative to the
// drive root.
type Entry struct {
	Name       string
	Path       string
	Type       EntryType
	Size       int64
	ModifiedAt time.Time
	MimeType   string
}

// Content is a document body. Truncated is set when the body was longer
// than the backend's read limit and Data holds only its beginning.
type Content struct {
	Data      []byte
	MimeType  string
	Truncated bool
}

// Drive is the hierarchical file store capability. Implementations return
// capability.NotFound for missing paths, capability.ErrConflict when a move
// target already exists, and *capability.Error for backend faults.
//
// List on a folder returns its children; List on a file returns the file
// itself as a single entry.
type Drive interface {
	List(ctx context.Context, p string) ([]Entry, error)
	Delete(ctx context.Context, p string) error
	Move(ctx context.Context, source, destination string) error
	Read(ctx context.Context, p string) (Content, error)
}

// Google-native document types are exported as text on read.
var nativeDocumentTypes = map[string]bool{
	"application/vnd.google-apps.document":     true,
	"application/vnd.google-apps.spreadsheet":  true,
	"application/vnd.google-apps.presentation": true,
}

var textLikeTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/x-yaml":     true,
	"application/yaml":       true,
	"application/javascript": true,
	"application/rtf":        true,
}

// IsDocument reports whether e can be read and summarized as text.
func IsDocument(e Entry) bool {
	if e.Type != TypeFile {
		return false
	}
	mt := baseMimeType(e.MimeType)
	if mt == "" {
		mt = MimeTypeByName(e.Name)
	}
	return strings.HasPrefix(mt, "text/") || textLikeTypes[mt] || nativeDocumentTypes[mt]
}

// MimeTypeByName guesses a MIME type from the file extension.
func MimeTypeByName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".log":
		return "text/plain"
	}
	return baseMimeType(mime.TypeByExtension(ext))
}

func baseMimeType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(strings.ToLower(mt))
}

// Join builds a child path under a slash-rooted parent.
func Join(parent, name string) string {
	if parent == "" || parent == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// readCapped reads at most limit bytes from r and reports whether more
// remained.
func readCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
