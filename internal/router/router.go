package router

import (
	"net/http"

	"github.com/docuflow/doc-chat-api/internal/handlers"
	"github.com/docuflow/doc-chat-api/internal/middleware"
	"github.com/docuflow/doc-chat-api/internal/utils"

	"github.com/gorilla/mux"
)

func NewRouter(docHandler *handlers.DocumentHandler, chatHandler *handlers.ChatHandler, logger *utils.Logger) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	// Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Document endpoints
	api.HandleFunc("/documents", docHandler.CreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents", docHandler.ListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", docHandler.GetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", docHandler.DeleteDocument).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/files", docHandler.AttachFile).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/chat", chatHandler.Chat).Methods(http.MethodPost)

	// Processing endpoints
	api.HandleFunc("/jobs/{jobId}", docHandler.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/files/{fileId}/reprocess", docHandler.ReprocessFile).Methods(http.MethodPost)

	return r
}
