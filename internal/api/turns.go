package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/stream"
)

// turnRequestMaxBytes caps the JSON body of a turn submission.
const turnRequestMaxBytes = 1 << 20

// turnHandler serves POST /api/chats/{id}/stream.
type turnHandler struct {
	mux    *stream.Mux
	logger log.Logger
}

// turnRequest is the JSON body of a turn submission.
type turnRequest struct {
	Message string   `json:"message"`
	FileIDs []string `json:"file_ids,omitempty"`
}

// doneFrame terminates a completed stream. It is transport framing, not
// a stream event: it carries the ID under which the assistant turn was
// persisted.
type doneFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// stream submits one turn and writes its event sequence as NDJSON, one
// JSON object per line, flushed per event. Setup failures happen
// before the first byte and still get a plain JSON error response;
// after that the connection is committed to the stream.
func (h *turnHandler) stream(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r, h.logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, turnRequestMaxBytes)
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", h.logger)
		return
	}

	fileIDs := make([]uuid.UUID, 0, len(req.FileIDs))
	for _, raw := range req.FileIDs {
		fid, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_file_id",
				fmt.Sprintf("file id %q must be a UUID", raw), h.logger)
			return
		}
		fileIDs = append(fileIDs, fid)
	}

	ts, err := h.mux.Stream(r.Context(), stream.Request{
		ChatID:        id,
		Message:       req.Message,
		AttachmentIDs: fileIDs,
	})
	if err != nil {
		h.setupError(w, id, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported",
			"response writer does not support streaming", h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev, err := range ts.Events() {
		if err != nil {
			// The sequence already closed with an acknowledgment event;
			// nothing useful is left to write.
			h.logger.Warn("stream error", "chat_id", id, "error", err)
			return
		}
		if err := enc.Encode(ev); err != nil {
			h.logger.Debug("client gone during stream", "chat_id", id, "error", err)
			return
		}
		flusher.Flush()
	}

	if turn := ts.Turn(); turn != nil {
		if err := enc.Encode(doneFrame{Type: "done", MessageID: turn.ID.String()}); err == nil {
			flusher.Flush()
		}
	}
}

// setupError maps turn preparation failures to statuses.
func (h *turnHandler) setupError(w http.ResponseWriter, chatID uuid.UUID, err error) {
	switch {
	case errors.Is(err, conversation.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chat not found", h.logger)
	case errors.Is(err, ingest.ErrFileNotFound):
		writeError(w, http.StatusBadRequest, "unknown_file", err.Error(), h.logger)
	case errors.Is(err, stream.ErrEmptyMessage), errors.Is(err, stream.ErrAttachmentsUnsupported):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
	default:
		h.logger.Error("preparing turn", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "stream_failed", "failed to start turn", h.logger)
	}
}
