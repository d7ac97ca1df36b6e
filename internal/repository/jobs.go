package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/docuflow/doc-chat-api/internal/models"
)

type JobRepository interface {
	CreateJob(ctx context.Context, job *models.ProcessingJob) error
	GetJob(ctx context.Context, id string) (*models.ProcessingJob, error)
	MarkJobProcessing(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, progress float64) error
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errorMessage string) error
}

type jobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	query := `
		INSERT INTO processing_jobs (id, document_id, file_id, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.DocumentID,
		job.FileID,
		job.Status,
		job.Progress,
		job.CreatedAt,
		job.UpdatedAt,
	)

	return err
}

func (r *jobRepository) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob

	query := `
		SELECT id, document_id, file_id, status, error_message, progress,
		       started_at, completed_at, created_at, updated_at
		FROM processing_jobs
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &job, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// MarkJobProcessing records the start of a run. Reprocessing the same job
// id resets the error and progress so a replay converges to one outcome.
func (r *jobRepository) MarkJobProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE processing_jobs
		SET status = $2, error_message = NULL, progress = 0,
		    started_at = $3, completed_at = NULL, updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, models.JobStatusProcessing, time.Now())
	return err
}

func (r *jobRepository) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	query := `UPDATE processing_jobs SET progress = $2, updated_at = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, progress, time.Now())
	return err
}

func (r *jobRepository) CompleteJob(ctx context.Context, id string) error {
	query := `
		UPDATE processing_jobs
		SET status = $2, progress = 1, completed_at = $3, updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, models.JobStatusCompleted, time.Now())
	return err
}

func (r *jobRepository) FailJob(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE processing_jobs
		SET status = $2, error_message = $3, completed_at = $4, updated_at = $4
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, models.JobStatusFailed, errorMessage, time.Now())
	return err
}
