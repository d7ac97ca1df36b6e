package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/docuflow/doc-chat-api/internal/chat"
	"github.com/docuflow/doc-chat-api/internal/models"
	"github.com/docuflow/doc-chat-api/internal/services"
	"github.com/docuflow/doc-chat-api/internal/utils"
	"github.com/gorilla/mux"
)

const maxMessageLength = 10000

type ChatHandler struct {
	documents    services.DocumentService
	orchestrator *chat.Orchestrator
	logger       *utils.Logger
}

func NewChatHandler(documents services.DocumentService, orchestrator *chat.Orchestrator, logger *utils.Logger) *ChatHandler {
	return &ChatHandler{
		documents:    documents,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Chat answers a question about a document as a server-sent event stream.
// All request validation happens before the stream opens; once streaming
// has started, failures are reported as an error event, not a status code.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	if documentID == "" {
		h.respondError(w, utils.NewBadRequestError("Document ID is required"))
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid request body"))
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		h.respondError(w, utils.NewBadRequestError("Message is required"))
		return
	}
	if len(req.Message) > maxMessageLength {
		h.respondError(w, utils.NewBadRequestError("Message exceeds maximum length"))
		return
	}

	if _, err := h.documents.GetDocument(r.Context(), documentID); err != nil {
		h.respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, utils.NewInternalError("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := chat.NewEventStream(&sseSink{w: w, flusher: flusher})
	h.orchestrator.Chat(r.Context(), documentID, req, stream)
}

// sseSink writes events in the text/event-stream framing and flushes each
// one so tokens reach the client as they are generated.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(event chat.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (h *ChatHandler) respondError(w http.ResponseWriter, err error) {
	var status int
	var message string

	switch e := err.(type) {
	case *utils.AppError:
		status = e.StatusCode
		message = e.Message
	default:
		status = http.StatusInternalServerError
		message = "Internal server error"
	}

	h.logger.Error("Request error", "status", status, "error", message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
