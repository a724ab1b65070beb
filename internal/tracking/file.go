package tracking

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnrecognizedContent is returned by CreateFile when the content type
// cannot be determined from the data itself.
var ErrUnrecognizedContent = errors.New("unrecognized file content")

// File is a binary attachment uploaded to a run.
type File struct {
	Content     []byte
	Extension   string // without the leading dot
	ContentType string
}

// FileFromContent wraps raw bytes with an explicit extension.
func FileFromContent(content []byte, extension string) File {
	extension = strings.TrimPrefix(extension, ".")
	contentType := "application/octet-stream"
	if extension != "" {
		if mt := mimetype.Lookup(extensionMIME(extension)); mt != nil {
			contentType = mt.String()
		}
	}
	return File{
		Content:     content,
		Extension:   extension,
		ContentType: contentType,
	}
}

// CreateFile builds a File from a loaded value whose type can be detected
// from its bytes. Strings are uploaded as text. Values of any other type,
// and bytes that are plain text or of no recognised format, return an error
// so the caller can fall back to FileFromContent.
func CreateFile(data any) (File, error) {
	switch v := data.(type) {
	case File:
		return v, nil
	case string:
		return File{Content: []byte(v), Extension: "txt", ContentType: "text/plain; charset=utf-8"}, nil
	case []byte:
		mt := mimetype.Detect(v)
		if mt.Is("application/octet-stream") || mt.Is("text/plain") || mt.Extension() == "" {
			return File{}, ErrUnrecognizedContent
		}
		return File{
			Content:     v,
			Extension:   strings.TrimPrefix(mt.Extension(), "."),
			ContentType: mt.String(),
		}, nil
	default:
		return File{}, fmt.Errorf("%w: cannot build a file from %T", ErrUnrecognizedContent, data)
	}
}

// FileFromPath reads a file from disk; the extension comes from its name.
func FileFromPath(path string) (File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return FileFromContent(content, filepath.Ext(path)), nil
}

// extensionMIME maps common extensions to the MIME names mimetype knows.
func extensionMIME(ext string) string {
	switch strings.ToLower(ext) {
	case "json":
		return "application/json"
	case "csv":
		return "text/csv"
	case "txt", "md", "py", "go", "yml", "yaml", "toml":
		return "text/plain"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "html":
		return "text/html"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
