package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/tools"
)

// downloadHandler serves files produced by export_markdown.
type downloadHandler struct {
	dir    string
	logger log.Logger
}

// download handles GET /api/downloads/{name}. The name passes the same
// validation exports do, so only files the exporter could have written
// are reachable.
func (h *downloadHandler) download(w http.ResponseWriter, r *http.Request) {
	name, err := tools.SanitizeExportName(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error(), h.logger)
		return
	}

	f, err := os.Open(filepath.Join(h.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "not_found", "no such export", h.logger)
			return
		}
		h.logger.Error("opening export", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "download_failed", "failed to open export", h.logger)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not_found", "no such export", h.logger)
		return
	}

	// Exports can contain HTML; force download instead of inline
	// rendering.
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
