package http

import (
	"encoding/json"
	"net/http"

	"github.com/chatreplay/chatreplay/pkg/types"
)

// MaxRequestBytes bounds the size of a chat completion request body.
const MaxRequestBytes = 32 << 20

// Responder produces the reply for a message prefix.
type Responder interface {
	Respond(messages []types.Message) (types.ResponseEnvelope, error)
}

// ChatHandler handles POST /v1/chat/completions requests.
type ChatHandler struct {
	responder Responder
}

// NewChatHandler creates a new chat completion handler.
func NewChatHandler(r Responder) *ChatHandler {
	return &ChatHandler{responder: r}
}

// ServeHTTP answers with the recorded reply, or 404 when none exists.
// Malformed bodies are indistinguishable from misses.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req types.ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes)).Decode(&req); err != nil {
		writeNotFound(w)
		return
	}

	env, err := h.responder.Respond(req.Messages)
	if err != nil {
		writeNotFound(w)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, types.NotFoundMessage)
}
