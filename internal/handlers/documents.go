package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/docuflow/doc-chat-api/internal/services"
	"github.com/docuflow/doc-chat-api/internal/utils"
	"github.com/gorilla/mux"
)

type DocumentHandler struct {
	service     services.DocumentService
	maxFileSize int64
	logger      *utils.Logger
}

func NewDocumentHandler(service services.DocumentService, maxFileSize int64, logger *utils.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// CreateDocument accepts a multipart form with title, optional description
// and a file part, and starts asynchronous processing.
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	upload, cleanup, err := h.parseUpload(w, r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer cleanup()

	title := strings.TrimSpace(r.FormValue("title"))
	description := strings.TrimSpace(r.FormValue("description"))

	resp, err := h.service.CreateDocument(r.Context(), title, description, upload)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, resp)
}

// AttachFile adds another file to an existing document.
func (h *DocumentHandler) AttachFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Document ID is required"))
		return
	}

	upload, cleanup, err := h.parseUpload(w, r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer cleanup()

	resp, err := h.service.AttachFile(r.Context(), id, upload)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Document ID is required"))
		return
	}

	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Document ID is required"))
		return
	}

	if err := h.service.DeleteDocument(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobId"]
	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Job ID is required"))
		return
	}

	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *DocumentHandler) ReprocessFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["fileId"]
	if id == "" {
		h.respondError(w, utils.NewBadRequestError("File ID is required"))
		return
	}

	jobID, err := h.service.ReprocessFile(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// parseUpload extracts the file part of a multipart request as a stream.
// The returned cleanup closes the part and must be deferred by the caller.
func (h *DocumentHandler) parseUpload(w http.ResponseWriter, r *http.Request) (*services.FileUpload, func(), error) {
	noop := func() {}

	if r.ContentLength > h.maxFileSize {
		return nil, noop, utils.NewBadRequestError(sizeLimitMessage(h.maxFileSize))
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)

	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			return nil, noop, utils.NewBadRequestError(sizeLimitMessage(h.maxFileSize))
		}
		return nil, noop, utils.NewBadRequestError("Invalid form data")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, noop, utils.NewBadRequestError("No file provided")
	}

	contentType := determineContentType(header.Filename, header.Header.Get("Content-Type"))

	h.logger.Info("file upload attempt",
		"filename", header.Filename,
		"reported_content_type", header.Header.Get("Content-Type"),
		"determined_content_type", contentType,
		"size", header.Size)

	upload := &services.FileUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Reader:      file,
	}

	return upload, func() { file.Close() }, nil
}

// determineContentType maps the filename extension to a MIME type, falling
// back to the type the client reported.
func determineContentType(filename, headerContentType string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".doc":
		// .doc is not supported; keep the real type for a clearer error
		return "application/msword"
	}

	return headerContentType
}

func sizeLimitMessage(limit int64) string {
	return fmt.Sprintf("File size exceeds %dMB limit", limit>>20)
}

func (h *DocumentHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *DocumentHandler) respondError(w http.ResponseWriter, err error) {
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
