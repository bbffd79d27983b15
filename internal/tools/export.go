package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/libris-ai/libris/internal/log"
)

// exportNameMax caps an export file name length.
const exportNameMax = 128

// ErrInvalidExportName is returned when an export or download file name
// fails validation.
var ErrInvalidExportName = errors.New("invalid export file name")

// allowedExportExts lists the extensions export_markdown will write.
// Anything else would let the model drop executable content into a
// directory the HTTP server serves.
var allowedExportExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".html":     true,
}

// ExportInput is the model-facing input for export_markdown.
type ExportInput struct {
	Filename string `json:"filename" jsonschema_description:"File name for the export, e.g. notes.md"`
	Content  string `json:"content" jsonschema_description:"Full document content to write"`
}

// Exporter writes model-produced documents into the export directory.
type Exporter struct {
	dir    string
	logger log.Logger
}

// NewExporter resolves and creates the export directory.
func NewExporter(dir string, logger log.Logger) (*Exporter, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving export dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}
	return &Exporter{dir: abs, logger: logger}, nil
}

// Export writes the content under a sanitized name and returns a
// libris:// link for the streaming layer to rewrite into a download
// URL.
func (e *Exporter) Export(ctx context.Context, in ExportInput) (string, error) {
	name, err := SanitizeExportName(in.Filename)
	if err != nil {
		return "", err
	}
	if in.Content == "" {
		return "", errors.New("content is required")
	}

	// The tool is parallelizable, so concurrent exports serialize on a
	// directory-level file lock.
	lock := flock.New(filepath.Join(e.dir, ".export.lock"))
	if _, err := lock.TryLockContext(ctx, 50*time.Millisecond); err != nil {
		return "", fmt.Errorf("acquiring export lock: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(e.dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(in.Content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("writing export file: %w", err)
	}
	dest := filepath.Join(e.dir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("saving export file: %w", err)
	}

	e.logger.Info("document exported", "name", name, "bytes", len(in.Content))

	return fmt.Sprintf("Saved %s (%d bytes). Download link: libris://export/%s",
		name, len(in.Content), name), nil
}

// SanitizeExportName validates a file name for the export directory and
// returns the name to use. Names are restricted to letters, digits,
// dots, hyphens and underscores so they survive unescaped in URLs and
// cannot traverse out of the export directory; a missing extension
// defaults to .md. The download handler runs requested names through
// the same check, so nothing outside this shape is ever served.
func SanitizeExportName(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidExportName)
	}
	if len(name) > exportNameMax {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidExportName, exportNameMax)
	}
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidExportName, name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return "", fmt.Errorf("%w: %q may only contain letters, digits, dots, hyphens and underscores", ErrInvalidExportName, name)
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return name + ".md", nil
	}
	if !allowedExportExts[ext] {
		return "", fmt.Errorf("%w: extension %s is not allowed", ErrInvalidExportName, ext)
	}
	return name, nil
}
