package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/log"
)

// DocumentInput is the model-facing input for read_document.
type DocumentInput struct {
	FileID string `json:"file_id" jsonschema_description:"ID of an uploaded file, as given in the conversation"`
}

// DocumentReader returns the extracted text of ingested uploads. The
// streaming layer inlines small attachments directly; this tool covers
// files too large to inline and re-reads of earlier uploads.
type DocumentReader struct {
	store  DocumentStore
	logger log.Logger
}

// Read looks up the file and returns its text with a metadata header.
func (d *DocumentReader) Read(ctx context.Context, in DocumentInput) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(in.FileID))
	if err != nil {
		return "", fmt.Errorf("invalid file id %q", in.FileID)
	}
	file, err := d.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	d.logger.Debug("document read", "file_id", id, "name", file.Name, "bytes", file.Size)

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s (%s, %d bytes)\n\n", file.Name, file.MediaType, file.Size)
	b.WriteString(file.Text)
	return truncateResult(b.String()), nil
}
