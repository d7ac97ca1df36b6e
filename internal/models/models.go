package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Document status values. Transitions are monotonic except that a failed
// document may return to CREATING through an explicit re-submission.
const (
	DocumentStatusCreating = "CREATING"
	DocumentStatusCreated  = "CREATED"
	DocumentStatusFailed   = "FAILED"
)

// Per-file processing status values.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusDone       = "done"
	FileStatusFailed     = "failed"
)

// Processing job status values.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

type Document struct {
	ID          string    `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`

	Files []File `json:"files,omitempty" db:"-"`
}

type File struct {
	ID               string         `json:"id" db:"id"`
	DocumentID       string         `json:"document_id" db:"document_id"`
	Filename         string         `json:"filename" db:"filename"`
	StorageKey       string         `json:"storage_key" db:"storage_key"`
	MimeType         string         `json:"mime_type" db:"mime_type"`
	FileSize         int64          `json:"file_size" db:"file_size"`
	ProcessingStatus string         `json:"processing_status" db:"processing_status"`
	Metadata         map[string]any `json:"metadata,omitempty" db:"-"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Chunk is the unit of retrieval: a bounded segment of extracted text
// paired with its embedding vector.
type Chunk struct {
	ID         string          `json:"id" db:"id"`
	DocumentID string          `json:"document_id" db:"document_id"`
	FileID     string          `json:"file_id" db:"file_id"`
	Content    string          `json:"content" db:"content"`
	Embedding  pgvector.Vector `json:"-" db:"embedding"`
	ChunkIndex int             `json:"chunk_index" db:"chunk_index"`
	PageNumber *int            `json:"page_number,omitempty" db:"page_number"`
	CharStart  *int            `json:"char_start,omitempty" db:"char_start"`
	CharEnd    *int            `json:"char_end,omitempty" db:"char_end"`
	Metadata   map[string]any  `json:"metadata,omitempty" db:"-"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// ProcessingJob tracks one document-processing run. Its ID is the
// caller-assigned job id used for idempotency and status correlation.
type ProcessingJob struct {
	ID           string     `json:"id" db:"id"`
	DocumentID   string     `json:"document_id" db:"document_id"`
	FileID       string     `json:"file_id" db:"file_id"`
	Status       string     `json:"status" db:"status"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	Progress     float64    `json:"progress" db:"progress"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// RetrievedChunk is a similarity-search hit with its score.
type RetrievedChunk struct {
	Chunk
	Filename        string  `json:"filename" db:"filename"`
	SimilarityScore float64 `json:"similarity_score" db:"similarity_score"`
}

// Source identifies a chunk cited by a chat answer.
type Source struct {
	FileID          string  `json:"fileId"`
	Filename        string  `json:"filename"`
	PageNumber      int     `json:"pageNumber"`
	ChunkIndex      int     `json:"chunkIndex"`
	SimilarityScore float64 `json:"similarityScore"`
}

// ChatMessage is one prior turn of the conversation, oldest first.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type ChatRequest struct {
	Message     string        `json:"message"`
	ChatHistory []ChatMessage `json:"chatHistory,omitempty"`
}

type CreateDocumentResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	File      File      `json:"file"`
	JobID     string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

type AttachFileResponse struct {
	File  File   `json:"file"`
	JobID string `json:"job_id"`
}
