package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/docuflow/doc-chat-api/internal/models"
)

// ErrInvalidTransition is returned when a status change would violate the
// document lifecycle (a CREATED document never goes back to CREATING).
var ErrInvalidTransition = errors.New("invalid document status transition")

type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	MarkDocumentReprocessing(ctx context.Context, id string) error
	DeleteDocument(ctx context.Context, id string) ([]string, error)

	CreateFile(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, id string) (*models.File, error)
	ListFiles(ctx context.Context, documentID string) ([]models.File, error)
	UpdateFileStatus(ctx context.Context, id, status string) error
	UpdateFileMetadata(ctx context.Context, id string, metadata map[string]any) error
}

type documentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, title, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.Description,
		doc.Status,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	return err
}

func (r *documentRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	query := `
		SELECT id, title, description, status, created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &doc, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	files, err := r.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Files = files

	return &doc, nil
}

func (r *documentRepository) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document

	query := `
		SELECT id, title, description, status, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC
	`

	if err := r.db.SelectContext(ctx, &docs, query); err != nil {
		return nil, err
	}

	return docs, nil
}

func (r *documentRepository) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	query := `UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	return err
}

// MarkDocumentReprocessing moves a document back to CREATING for an
// explicit re-submission. FAILED -> CREATING is allowed; CREATED never
// returns to CREATING.
func (r *documentRepository) MarkDocumentReprocessing(ctx context.Context, id string) error {
	query := `
		UPDATE documents SET status = $2, updated_at = $3
		WHERE id = $1 AND status <> $4
	`

	res, err := r.db.ExecContext(ctx, query, id, models.DocumentStatusCreating, time.Now(), models.DocumentStatusCreated)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidTransition
	}

	return nil
}

// DeleteDocument removes the document row; files, chunks and jobs go with
// it via cascade. It returns the storage keys of the deleted files so the
// caller can clean up the object store.
func (r *documentRepository) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	var keys []string

	if err := r.db.SelectContext(ctx, &keys, `SELECT storage_key FROM files WHERE document_id = $1`, id); err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}

	return keys, nil
}

func (r *documentRepository) CreateFile(ctx context.Context, file *models.File) error {
	metadataJSON, err := marshalMetadata(file.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO files (id, document_id, filename, storage_key, mime_type, file_size,
		                   processing_status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		file.ID,
		file.DocumentID,
		file.Filename,
		file.StorageKey,
		file.MimeType,
		file.FileSize,
		file.ProcessingStatus,
		metadataJSON,
		file.CreatedAt,
		file.UpdatedAt,
	)

	return err
}

func (r *documentRepository) GetFile(ctx context.Context, id string) (*models.File, error) {
	query := `
		SELECT id, document_id, filename, storage_key, mime_type, file_size,
		       processing_status, metadata, created_at, updated_at
		FROM files
		WHERE id = $1
	`

	file, err := scanFile(r.db.QueryRowxContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}

func (r *documentRepository) ListFiles(ctx context.Context, documentID string) ([]models.File, error) {
	query := `
		SELECT id, document_id, filename, storage_key, mime_type, file_size,
		       processing_status, metadata, created_at, updated_at
		FROM files
		WHERE document_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryxContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}

	return files, rows.Err()
}

func (r *documentRepository) UpdateFileStatus(ctx context.Context, id, status string) error {
	query := `UPDATE files SET processing_status = $2, updated_at = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	return err
}

func (r *documentRepository) UpdateFileMetadata(ctx context.Context, id string, metadata map[string]any) error {
	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	query := `UPDATE files SET metadata = $2, updated_at = $3 WHERE id = $1`

	_, err = r.db.ExecContext(ctx, query, id, metadataJSON, time.Now())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.File, error) {
	var file models.File
	var metadataJSON []byte

	err := row.Scan(
		&file.ID,
		&file.DocumentID,
		&file.Filename,
		&file.StorageKey,
		&file.MimeType,
		&file.FileSize,
		&file.ProcessingStatus,
		&metadataJSON,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &file.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode file metadata: %w", err)
		}
	}

	return &file, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}
