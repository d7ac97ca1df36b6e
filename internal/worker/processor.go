// Package worker runs the document-processing pipeline: fetch, extract,
// chunk, embed, persist, finalize. Each job is one file of one document.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/docuflow/doc-chat-api/internal/chunker"
	"github.com/docuflow/doc-chat-api/internal/embedding"
	"github.com/docuflow/doc-chat-api/internal/extractor"
	"github.com/docuflow/doc-chat-api/internal/models"
	"github.com/docuflow/doc-chat-api/internal/queue"
	"github.com/docuflow/doc-chat-api/internal/repository"
	"github.com/docuflow/doc-chat-api/internal/storage"
	"github.com/docuflow/doc-chat-api/internal/utils"
)

type Processor struct {
	docs     repository.DocumentRepository
	jobs     repository.JobRepository
	chunks   repository.ChunkRepository
	store    storage.Storage
	embedder embedding.Client
	splitter chunker.Chunker
	logger   *utils.Logger
}

func NewProcessor(
	docs repository.DocumentRepository,
	jobs repository.JobRepository,
	chunks repository.ChunkRepository,
	store storage.Storage,
	embedder embedding.Client,
	splitter chunker.Chunker,
	logger *utils.Logger,
) *Processor {
	return &Processor{
		docs:     docs,
		jobs:     jobs,
		chunks:   chunks,
		store:    store,
		embedder: embedder,
		splitter: splitter,
		logger:   logger.Component("worker"),
	}
}

// Handle processes one queued job and decides its queue verdict. Retryable
// faults on a first delivery go back to the broker; everything else —
// success, non-retryable failure, or a retryable failure that already got
// its redelivery — is terminal and acknowledged. Retries past that point
// are an explicit re-submission by the caller.
func (p *Processor) Handle(ctx context.Context, job queue.JobPayload, redelivered bool) queue.Verdict {
	log := p.logger.With("job_id", job.JobID, "document_id", job.DocumentID, "file_id", job.FileID)
	log.Info("processing job", "storage_key", job.StorageKey)

	err := p.process(ctx, job)
	if err == nil {
		log.Info("job completed")
		return queue.Done
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Retryable && !redelivered {
		log.Warn("transient failure, requeueing", "stage", stageErr.Stage, "err", stageErr.Err)
		return queue.Retry
	}

	log.Error("job failed", "err", err)
	p.markFailed(ctx, job, err)
	return queue.Done
}

func (p *Processor) process(ctx context.Context, job queue.JobPayload) error {
	if err := p.jobs.MarkJobProcessing(ctx, job.JobID); err != nil {
		return retryable(StageFetch, fmt.Errorf("failed to mark job processing: %w", err))
	}
	if err := p.docs.UpdateFileStatus(ctx, job.FileID, models.FileStatusProcessing); err != nil {
		return retryable(StageFetch, fmt.Errorf("failed to mark file processing: %w", err))
	}

	// Stage 1: fetch raw bytes from the object store.
	data, err := p.fetch(ctx, job.StorageKey)
	if err != nil {
		return err
	}
	p.progress(ctx, job.JobID, 0.2)

	// Stage 2: extract plain text.
	pages, err := extractor.Extract(data, job.Metadata.MimeType)
	if err != nil {
		// Unparseable or unsupported input never becomes parseable.
		return terminal(StageExtract, err)
	}
	p.progress(ctx, job.JobID, 0.4)

	// Stage 3: split into ordered segments.
	segments := p.splitter.Split(pages)
	p.progress(ctx, job.JobID, 0.5)

	if len(segments) == 0 {
		// Valid outcome, but flagged so callers can see the file produced
		// no retrievable content.
		p.logger.Warn("no text extracted, finishing with zero chunks", "job_id", job.JobID)
		if err := p.docs.UpdateFileMetadata(ctx, job.FileID, map[string]any{
			"chunk_count": 0,
			"warning":     "no text could be extracted",
		}); err != nil {
			return retryable(StageChunk, err)
		}
		if err := p.chunks.ReplaceChunks(ctx, job.DocumentID, job.FileID, nil); err != nil {
			return retryable(StagePersist, err)
		}
		return p.finalize(ctx, job)
	}

	// Stage 4: embed all segment texts in one batch. Either every chunk
	// gets a vector or nothing is persisted.
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		switch {
		case errors.Is(err, embedding.ErrServiceUnavailable):
			return retryable(StageEmbed, err)
		default:
			return terminal(StageEmbed, err)
		}
	}
	if len(vectors) != len(segments) {
		return terminal(StageEmbed, fmt.Errorf("expected %d vectors, received %d", len(segments), len(vectors)))
	}
	p.progress(ctx, job.JobID, 0.8)

	// Stage 5: persist all chunks in one transaction, purging any rows a
	// previous run of this job left behind.
	now := time.Now()
	rows := make([]models.Chunk, len(segments))
	for i, seg := range segments {
		chunk := models.Chunk{
			ID:         utils.GenerateID(),
			DocumentID: job.DocumentID,
			FileID:     job.FileID,
			Content:    seg.Text,
			Embedding:  pgvector.NewVector(vectors[i]),
			ChunkIndex: seg.Index,
			CharStart:  ptr(seg.CharStart),
			CharEnd:    ptr(seg.CharEnd),
			CreatedAt:  now,
		}
		if seg.PageNumber > 0 {
			chunk.PageNumber = ptr(seg.PageNumber)
		}
		rows[i] = chunk
	}

	if err := p.chunks.ReplaceChunks(ctx, job.DocumentID, job.FileID, rows); err != nil {
		return retryable(StagePersist, err)
	}
	p.progress(ctx, job.JobID, 0.95)

	if err := p.docs.UpdateFileMetadata(ctx, job.FileID, map[string]any{
		"chunk_count": len(rows),
	}); err != nil {
		p.logger.Warn("failed to record chunk count", "job_id", job.JobID, "err", err)
	}

	p.logger.Info("chunks persisted", "job_id", job.JobID, "chunks", len(rows))

	// Stage 6: finalize statuses.
	return p.finalize(ctx, job)
}

func (p *Processor) fetch(ctx context.Context, key string) ([]byte, error) {
	object, err := p.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, terminal(StageFetch, err)
		}
		return nil, retryable(StageFetch, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, retryable(StageFetch, err)
	}

	return data, nil
}

func (p *Processor) finalize(ctx context.Context, job queue.JobPayload) error {
	if err := p.jobs.CompleteJob(ctx, job.JobID); err != nil {
		return retryable(StageFinalize, err)
	}
	if err := p.docs.UpdateFileStatus(ctx, job.FileID, models.FileStatusDone); err != nil {
		return retryable(StageFinalize, err)
	}
	if err := p.docs.UpdateDocumentStatus(ctx, job.DocumentID, models.DocumentStatusCreated); err != nil {
		return retryable(StageFinalize, err)
	}
	return nil
}

// markFailed records a terminal failure on the job, file and document.
// Failures here are logged only; the delivery is acknowledged regardless.
func (p *Processor) markFailed(ctx context.Context, job queue.JobPayload, cause error) {
	if err := p.jobs.FailJob(ctx, job.JobID, cause.Error()); err != nil {
		p.logger.Error("failed to record job failure", "job_id", job.JobID, "err", err)
	}
	if err := p.docs.UpdateFileStatus(ctx, job.FileID, models.FileStatusFailed); err != nil {
		p.logger.Error("failed to record file failure", "file_id", job.FileID, "err", err)
	}
	if err := p.docs.UpdateDocumentStatus(ctx, job.DocumentID, models.DocumentStatusFailed); err != nil {
		p.logger.Error("failed to record document failure", "document_id", job.DocumentID, "err", err)
	}
}

func (p *Processor) progress(ctx context.Context, jobID string, fraction float64) {
	if err := p.jobs.UpdateJobProgress(ctx, jobID, fraction); err != nil {
		p.logger.Warn("failed to update job progress", "job_id", jobID, "err", err)
	}
}

func ptr[T any](v T) *T {
	return &v
}
