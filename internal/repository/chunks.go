package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/docuflow/doc-chat-api/internal/models"
)

type ChunkRepository interface {
	// ReplaceChunks transactionally replaces all chunks for (document, file):
	// pre-existing rows are deleted before the new set is inserted, so a
	// replayed job converges instead of duplicating, and readers never see
	// a half-populated file.
	ReplaceChunks(ctx context.Context, documentID, fileID string, chunks []models.Chunk) error

	// SearchSimilar returns the topK chunks of a document nearest to the
	// query embedding by cosine distance, filtered by a minimum similarity
	// score, ties broken by chunk ordinal ascending.
	SearchSimilar(ctx context.Context, documentID string, embedding []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error)

	CountChunks(ctx context.Context, documentID string) (int, error)
}

type chunkRepository struct {
	db *sqlx.DB
}

func NewChunkRepository(db *sqlx.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) ReplaceChunks(ctx context.Context, documentID, fileID string, chunks []models.Chunk) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND file_id = $2`,
		documentID, fileID,
	); err != nil {
		return fmt.Errorf("failed to purge existing chunks: %w", err)
	}

	insert := `
		INSERT INTO chunks (id, document_id, file_id, content, embedding, chunk_index,
		                    page_number, char_start, char_end, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, chunk := range chunks {
		metadataJSON, err := marshalMetadata(chunk.Metadata)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, insert,
			chunk.ID,
			documentID,
			fileID,
			chunk.Content,
			chunk.Embedding,
			chunk.ChunkIndex,
			chunk.PageNumber,
			chunk.CharStart,
			chunk.CharEnd,
			metadataJSON,
			chunk.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	return nil
}

func (r *chunkRepository) SearchSimilar(ctx context.Context, documentID string, embedding []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error) {
	query := `
		SELECT c.id, c.document_id, c.file_id, c.content, c.chunk_index,
		       c.page_number, c.metadata, f.filename,
		       1 - (c.embedding <=> $2) AS similarity_score
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE c.document_id = $1
		  AND 1 - (c.embedding <=> $2) >= $3
		ORDER BY c.embedding <=> $2, c.chunk_index ASC
		LIMIT $4
	`

	vec := pgvector.NewVector(embedding)

	rows, err := r.db.QueryxContext(ctx, query, documentID, vec, minSimilarity, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedChunk
	for rows.Next() {
		var rc models.RetrievedChunk
		var metadataJSON []byte

		err := rows.Scan(
			&rc.ID,
			&rc.DocumentID,
			&rc.FileID,
			&rc.Content,
			&rc.ChunkIndex,
			&rc.PageNumber,
			&metadataJSON,
			&rc.Filename,
			&rc.SimilarityScore,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
			}
		}

		results = append(results, rc)
	}

	return results, rows.Err()
}

func (r *chunkRepository) CountChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID)
	return count, err
}
