package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/log"
)

const (
	chatsDefaultLimit = 50
	chatsMaxLimit     = 200
)

// defaultChatTitle names a chat until its first turn produces a real
// title.
const defaultChatTitle = "New chat"

// chatHandler serves the chat CRUD routes. Responses carry the
// conversation types directly; their JSON tags are the wire format.
type chatHandler struct {
	chats  *conversation.Store
	logger log.Logger
}

type createChatRequest struct {
	Title string `json:"title"`
}

// create handles POST /api/chats. The body is optional; an omitted or
// empty title gets a placeholder until title generation replaces it.
func (h *chatHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", h.logger)
			return
		}
	}
	if req.Title == "" {
		req.Title = defaultChatTitle
	}

	chat, err := h.chats.CreateChat(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating chat", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create chat", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, chat, h.logger)
}

// list handles GET /api/chats, newest activity first.
func (h *chatHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := min(queryInt(r, "limit", chatsDefaultLimit), chatsMaxLimit)
	offset := queryInt(r, "offset", 0)

	chats, err := h.chats.ListChats(r.Context(), int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("listing chats", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list chats", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": chats}, h.logger)
}

// get handles GET /api/chats/{id}.
func (h *chatHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r, h.logger)
	if !ok {
		return
	}

	chat, err := h.chats.GetChat(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("getting chat", "error", err, "chat_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get chat", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chat, h.logger)
}

// delete handles DELETE /api/chats/{id}. Turns go with the chat.
func (h *chatHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.chats.DeleteChat(r.Context(), id); err != nil {
		if errors.Is(err, conversation.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("deleting chat", "error", err, "chat_id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete chat", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// messages handles GET /api/chats/{id}/messages: all persisted turns
// in order, or the most recent ?limit when given.
func (h *chatHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r, h.logger)
	if !ok {
		return
	}

	// Existence check so an unknown chat 404s instead of returning an
	// empty list.
	if _, err := h.chats.GetChat(r.Context(), id); err != nil {
		if errors.Is(err, conversation.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("getting chat", "error", err, "chat_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get chat", h.logger)
		return
	}

	turns, err := h.chats.History(r.Context(), id, int32(queryInt(r, "limit", 0)))
	if err != nil {
		h.logger.Error("loading messages", "error", err, "chat_id", id)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to load messages", h.logger)
		return
	}
	if turns == nil {
		turns = []*conversation.Turn{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": turns}, h.logger)
}

// chatID parses the {id} path value.
func chatID(w http.ResponseWriter, r *http.Request, logger log.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "chat id must be a UUID", logger)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter, falling back
// on def when absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
