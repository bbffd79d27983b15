package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
)

// fileHandler serves POST /api/files.
type fileHandler struct {
	files    *ingest.Store
	maxBytes int64
	logger   log.Logger
}

// upload handles one multipart upload. The file goes through text
// extraction and into the files table; the response carries the ID the
// client attaches to its next turn.
func (h *fileHandler) upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.maxBytes
	if maxBytes <= 0 {
		maxBytes = ingest.DefaultMaxBytes
	}
	// Allow some slack for multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large",
				fmt.Sprintf("upload exceeds %d bytes", maxBytes), h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request",
			`multipart form with a "file" part is required`, h.logger)
		return
	}
	defer file.Close()

	ingested, err := h.files.Ingest(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error(), h.logger)
		case errors.Is(err, ingest.ErrUnsupportedType):
			writeError(w, http.StatusUnsupportedMediaType, "unsupported_type", err.Error(), h.logger)
		default:
			h.logger.Error("ingesting upload", "name", header.Filename, "error", err)
			writeError(w, http.StatusInternalServerError, "ingest_failed", "failed to ingest file", h.logger)
		}
		return
	}

	writeJSON(w, http.StatusCreated, ingested, h.logger)
}
