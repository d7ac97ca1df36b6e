package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docuflow/doc-chat-api/internal/extractor"
	"github.com/docuflow/doc-chat-api/internal/models"
	"github.com/docuflow/doc-chat-api/internal/queue"
	"github.com/docuflow/doc-chat-api/internal/repository"
	"github.com/docuflow/doc-chat-api/internal/storage"
	"github.com/docuflow/doc-chat-api/internal/utils"
)

// JobPublisher enqueues processing jobs. Satisfied by *queue.Queue.
type JobPublisher interface {
	Publish(ctx context.Context, job queue.JobPayload) error
}

// FileUpload is an incoming file as a stream with its declared size, so
// large uploads are never buffered whole in memory.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

type DocumentService interface {
	CreateDocument(ctx context.Context, title, description string, upload *FileUpload) (*models.CreateDocumentResponse, error)
	AttachFile(ctx context.Context, documentID string, upload *FileUpload) (*models.AttachFileResponse, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*models.ProcessingJob, error)
	ReprocessFile(ctx context.Context, fileID string) (string, error)
}

type documentService struct {
	docs      repository.DocumentRepository
	jobs      repository.JobRepository
	store     storage.Storage
	publisher JobPublisher
	logger    *utils.Logger
}

func NewDocumentService(
	docs repository.DocumentRepository,
	jobs repository.JobRepository,
	store storage.Storage,
	publisher JobPublisher,
	logger *utils.Logger,
) DocumentService {
	return &documentService{
		docs:      docs,
		jobs:      jobs,
		store:     store,
		publisher: publisher,
		logger:    logger.Component("documents"),
	}
}

// CreateDocument validates the upload, stores the object, creates the
// document/file/job records and enqueues processing. Validation happens
// before any side effect; a bad request creates nothing.
func (s *documentService) CreateDocument(ctx context.Context, title, description string, upload *FileUpload) (*models.CreateDocumentResponse, error) {
	if title == "" {
		return nil, utils.NewBadRequestError("Title is required")
	}
	if err := validateUpload(upload); err != nil {
		return nil, err
	}

	docID := utils.GenerateID()
	now := time.Now()

	doc := &models.Document{
		ID:          docID,
		Title:       title,
		Description: description,
		Status:      models.DocumentStatusCreating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		s.logger.Error("failed to create document", "err", err)
		return nil, utils.NewInternalError("Failed to create document")
	}

	file, jobID, err := s.ingestFile(ctx, docID, upload)
	if err != nil {
		return nil, err
	}

	s.logger.Info("document created",
		"id", docID,
		"filename", upload.Filename,
		"job_id", jobID,
		"size", upload.Size)

	return &models.CreateDocumentResponse{
		ID:        docID,
		Title:     title,
		Status:    doc.Status,
		File:      *file,
		JobID:     jobID,
		CreatedAt: now,
	}, nil
}

// AttachFile adds another source file to an existing document and enqueues
// its processing.
func (s *documentService) AttachFile(ctx context.Context, documentID string, upload *FileUpload) (*models.AttachFileResponse, error) {
	if err := validateUpload(upload); err != nil {
		return nil, err
	}

	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		s.logger.Error("failed to get document", "err", err, "id", documentID)
		return nil, utils.NewInternalError("Failed to retrieve document")
	}
	if doc == nil {
		return nil, utils.NewNotFoundError("Document not found")
	}

	file, jobID, err := s.ingestFile(ctx, documentID, upload)
	if err != nil {
		return nil, err
	}

	return &models.AttachFileResponse{File: *file, JobID: jobID}, nil
}

// ingestFile stores the object, records the file and job, and publishes
// the job descriptor. If enqueueing fails the records are marked failed so
// the caller can re-submit; the upload itself is kept.
func (s *documentService) ingestFile(ctx context.Context, documentID string, upload *FileUpload) (*models.File, string, error) {
	now := time.Now()
	storageKey := fmt.Sprintf("uploads/%d_%s%s", now.Unix(), documentID, filepath.Ext(upload.Filename))

	if err := s.store.Put(ctx, storageKey, upload.Reader, upload.Size, upload.ContentType); err != nil {
		s.logger.Error("failed to store upload", "err", err, "storage_key", storageKey)
		return nil, "", utils.NewUnavailableError("Failed to store document")
	}

	file := &models.File{
		ID:               utils.GenerateID(),
		DocumentID:       documentID,
		Filename:         upload.Filename,
		StorageKey:       storageKey,
		MimeType:         upload.ContentType,
		FileSize:         upload.Size,
		ProcessingStatus: models.FileStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.docs.CreateFile(ctx, file); err != nil {
		s.logger.Error("failed to create file record", "err", err)
		_ = s.store.Delete(ctx, storageKey)
		return nil, "", utils.NewInternalError("Failed to save file metadata")
	}

	jobID := utils.GenerateID()
	job := &models.ProcessingJob{
		ID:         jobID,
		DocumentID: documentID,
		FileID:     file.ID,
		Status:     models.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		s.logger.Error("failed to create processing job", "err", err)
		return nil, "", utils.NewInternalError("Failed to create processing job")
	}

	payload := queue.JobPayload{
		JobID:      jobID,
		DocumentID: documentID,
		FileID:     file.ID,
		StorageKey: storageKey,
		Metadata: queue.JobMetadata{
			OriginalName: upload.Filename,
			MimeType:     upload.ContentType,
			Size:         upload.Size,
		},
	}
	if err := s.publisher.Publish(ctx, payload); err != nil {
		s.logger.Error("failed to enqueue job", "err", err, "job_id", jobID)
		_ = s.jobs.FailJob(ctx, jobID, "failed to enqueue processing job")
		_ = s.docs.UpdateFileStatus(ctx, file.ID, models.FileStatusFailed)
		_ = s.docs.UpdateDocumentStatus(ctx, documentID, models.DocumentStatusFailed)
		return nil, "", utils.NewUnavailableError("Failed to enqueue document processing")
	}

	return file, jobID, nil
}

func (s *documentService) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		s.logger.Error("failed to get document", "err", err, "id", id)
		return nil, utils.NewInternalError("Failed to retrieve document")
	}
	if doc == nil {
		return nil, utils.NewNotFoundError("Document not found")
	}

	return doc, nil
}

func (s *documentService) ListDocuments(ctx context.Context) ([]models.Document, error) {
	docs, err := s.docs.ListDocuments(ctx)
	if err != nil {
		s.logger.Error("failed to list documents", "err", err)
		return nil, utils.NewInternalError("Failed to list documents")
	}

	return docs, nil
}

// DeleteDocument removes the document and everything it owns. Object-store
// cleanup is best effort and idempotent; rerunning a partially failed
// delete converges.
func (s *documentService) DeleteDocument(ctx context.Context, id string) error {
	keys, err := s.docs.DeleteDocument(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return utils.NewNotFoundError("Document not found")
		}
		s.logger.Error("failed to delete document", "err", err, "id", id)
		return utils.NewInternalError("Failed to delete document")
	}

	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete stored object", "err", err, "storage_key", key)
		}
	}

	s.logger.Info("document deleted", "id", id, "files", len(keys))
	return nil
}

func (s *documentService) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		s.logger.Error("failed to get job", "err", err, "id", id)
		return nil, utils.NewInternalError("Failed to retrieve job")
	}
	if job == nil {
		return nil, utils.NewNotFoundError("Job not found")
	}

	return job, nil
}

// ReprocessFile re-submits a file's processing job. This is the explicit
// retry path: redelivery by the broker never retries a terminal failure,
// the caller does, here.
func (s *documentService) ReprocessFile(ctx context.Context, fileID string) (string, error) {
	file, err := s.docs.GetFile(ctx, fileID)
	if err != nil {
		s.logger.Error("failed to get file", "err", err, "id", fileID)
		return "", utils.NewInternalError("Failed to retrieve file")
	}
	if file == nil {
		return "", utils.NewNotFoundError("File not found")
	}

	if err := s.docs.MarkDocumentReprocessing(ctx, file.DocumentID); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return "", utils.NewBadRequestError("Document is already processed")
		}
		s.logger.Error("failed to mark document for reprocessing", "err", err)
		return "", utils.NewInternalError("Failed to reprocess file")
	}

	now := time.Now()
	jobID := utils.GenerateID()
	job := &models.ProcessingJob{
		ID:         jobID,
		DocumentID: file.DocumentID,
		FileID:     file.ID,
		Status:     models.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		s.logger.Error("failed to create reprocess job", "err", err)
		return "", utils.NewInternalError("Failed to create processing job")
	}

	if err := s.docs.UpdateFileStatus(ctx, file.ID, models.FileStatusPending); err != nil {
		s.logger.Error("failed to reset file status", "err", err)
		return "", utils.NewInternalError("Failed to reprocess file")
	}

	payload := queue.JobPayload{
		JobID:      jobID,
		DocumentID: file.DocumentID,
		FileID:     file.ID,
		StorageKey: file.StorageKey,
		Metadata: queue.JobMetadata{
			OriginalName: file.Filename,
			MimeType:     file.MimeType,
			Size:         file.FileSize,
		},
	}
	if err := s.publisher.Publish(ctx, payload); err != nil {
		s.logger.Error("failed to enqueue reprocess job", "err", err, "job_id", jobID)
		_ = s.jobs.FailJob(ctx, jobID, "failed to enqueue processing job")
		return "", utils.NewUnavailableError("Failed to enqueue document processing")
	}

	s.logger.Info("file re-submitted", "file_id", fileID, "job_id", jobID)
	return jobID, nil
}

func validateUpload(upload *FileUpload) error {
	if upload == nil || upload.Filename == "" {
		return utils.NewBadRequestError("No file provided")
	}
	if upload.Size <= 0 {
		return utils.NewBadRequestError("Uploaded file is empty")
	}

	ct := upload.ContentType
	if ct != "application/pdf" && !extractor.IsDOCXContentType(ct) && !extractor.IsTextContentType(ct) {
		return utils.NewBadRequestError(fmt.Sprintf("Unsupported file type '%s'. Only PDF, DOCX and TXT are allowed", ct))
	}

	return nil
}
