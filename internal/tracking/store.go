package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/spachava753/kedro-neptune/internal/models"
)

// Store persists run metadata. Implementations must be safe for concurrent
// use by several runs.
type Store interface {
	// OpenRun resumes the run registered under req.CustomRunID, or creates a
	// new one when there is none (or no custom id was given).
	OpenRun(ctx context.Context, req RunRequest) (models.RunInfo, error)

	PutField(ctx context.Context, runID string, f Field) error
	// Fields returns the field at path and every field below it.
	Fields(ctx context.Context, runID, path string) ([]Field, error)

	AppendPoint(ctx context.Context, runID, path string, p Point) error
	Points(ctx context.Context, runID, path string) ([]Point, error)

	PutFile(ctx context.Context, runID, path string, f File) error
	GetFile(ctx context.Context, runID, path string) (File, error)

	// Exists reports whether anything (field, series or file) is stored at
	// path or below it.
	Exists(ctx context.Context, runID, path string) (bool, error)

	Close() error
}

// RunRequest describes the run to open.
type RunRequest struct {
	Project     string
	CustomRunID string
	Mode        string
}

// Field is a single atom value at a path.
type Field struct {
	Path string
	Kind Kind
	Data []byte // JSON encoded value
}

// Point is one entry of a float series.
type Point struct {
	Step      int64
	Value     float64
	Timestamp time.Time
}

// projectKey derives the short run id prefix from a project name of the form
// "workspace/project".
func projectKey(project string) string {
	name := project
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var key []rune
	for _, r := range name {
		if unicode.IsLetter(r) {
			key = append(key, unicode.ToUpper(r))
		}
		if len(key) == 3 {
			break
		}
	}
	if len(key) == 0 {
		return "RUN"
	}
	return string(key)
}

func formatRunID(project string, seq int64) string {
	return fmt.Sprintf("%s-%d", projectKey(project), seq)
}
