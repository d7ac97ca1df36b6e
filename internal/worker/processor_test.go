package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/doc-chat-api/internal/chunker"
	"github.com/docuflow/doc-chat-api/internal/embedding"
	"github.com/docuflow/doc-chat-api/internal/models"
	"github.com/docuflow/doc-chat-api/internal/queue"
	"github.com/docuflow/doc-chat-api/internal/storage"
	"github.com/docuflow/doc-chat-api/internal/utils"
)

// fakeDocs records document and file status transitions.
type fakeDocs struct {
	mu           sync.Mutex
	docStatus    map[string]string
	fileStatus   map[string]string
	fileMetadata map[string]map[string]any
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		docStatus:    map[string]string{},
		fileStatus:   map[string]string{},
		fileMetadata: map[string]map[string]any{},
	}
}

func (f *fakeDocs) CreateDocument(ctx context.Context, doc *models.Document) error { return nil }
func (f *fakeDocs) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return nil, nil
}
func (f *fakeDocs) ListDocuments(ctx context.Context) ([]models.Document, error) { return nil, nil }
func (f *fakeDocs) MarkDocumentReprocessing(ctx context.Context, id string) error {
	return nil
}
func (f *fakeDocs) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	return nil, nil
}
func (f *fakeDocs) CreateFile(ctx context.Context, file *models.File) error        { return nil }
func (f *fakeDocs) GetFile(ctx context.Context, id string) (*models.File, error)   { return nil, nil }
func (f *fakeDocs) ListFiles(ctx context.Context, id string) ([]models.File, error) { return nil, nil }

func (f *fakeDocs) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docStatus[id] = status
	return nil
}

func (f *fakeDocs) UpdateFileStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileStatus[id] = status
	return nil
}

func (f *fakeDocs) UpdateFileMetadata(ctx context.Context, id string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileMetadata[id] = metadata
	return nil
}

// fakeJobs records the job lifecycle.
type fakeJobs struct {
	mu        sync.Mutex
	status    map[string]string
	progress  map[string]float64
	lastError map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		status:    map[string]string{},
		progress:  map[string]float64{},
		lastError: map[string]string{},
	}
}

func (f *fakeJobs) CreateJob(ctx context.Context, job *models.ProcessingJob) error { return nil }
func (f *fakeJobs) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	return nil, nil
}

func (f *fakeJobs) MarkJobProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = models.JobStatusProcessing
	f.progress[id] = 0
	delete(f.lastError, id)
	return nil
}

func (f *fakeJobs) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[id] = progress
	return nil
}

func (f *fakeJobs) CompleteJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = models.JobStatusCompleted
	f.progress[id] = 1
	return nil
}

func (f *fakeJobs) FailJob(ctx context.Context, id, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = models.JobStatusFailed
	f.lastError[id] = errorMessage
	return nil
}

// fakeChunks stores the latest chunk set per (document, file) pair, matching
// the replace semantics of the real repository.
type fakeChunks struct {
	mu       sync.Mutex
	byFile   map[string][]models.Chunk
	replaces int
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{byFile: map[string][]models.Chunk{}}
}

func (f *fakeChunks) ReplaceChunks(ctx context.Context, documentID, fileID string, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFile[documentID+"/"+fileID] = chunks
	f.replaces++
	return nil
}

func (f *fakeChunks) SearchSimilar(ctx context.Context, documentID string, embedding []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func (f *fakeChunks) CountChunks(ctx context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, chunks := range f.byFile {
		count += len(chunks)
	}
	return count, nil
}

// fakeStore serves objects from memory, with an optional injected error.
type fakeStore struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error { return nil }

// fakeEmbedder derives vectors from an FNV hash of the text so identical
// inputs always embed identically.
type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New32a()
		h.Write([]byte(text))
		seed := h.Sum32()
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32((seed+uint32(j))%100) / 100
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fixture struct {
	docs      *fakeDocs
	jobs      *fakeJobs
	chunks    *fakeChunks
	store     *fakeStore
	embedder  *fakeEmbedder
	processor *Processor
}

func newFixture(objects map[string][]byte) *fixture {
	f := &fixture{
		docs:     newFakeDocs(),
		jobs:     newFakeJobs(),
		chunks:   newFakeChunks(),
		store:    &fakeStore{objects: objects},
		embedder: &fakeEmbedder{dim: 8},
	}
	splitter := chunker.New(chunker.Config{ChunkSize: 120, ChunkOverlap: 20})
	f.processor = NewProcessor(f.docs, f.jobs, f.chunks, f.store, f.embedder, splitter, utils.NewLogger("error"))
	return f
}

func testJob() queue.JobPayload {
	return queue.JobPayload{
		JobID:      "job-1",
		DocumentID: "doc-1",
		FileID:     "file-1",
		StorageKey: "uploads/1_doc-1.txt",
		Metadata: queue.JobMetadata{
			OriginalName: "notes.txt",
			MimeType:     "text/plain",
			Size:         64,
		},
	}
}

const sampleText = "Postgres stores the chunks. The worker embeds them in one batch. Retrieval orders by cosine distance. Ties break on chunk index."

func TestHandleSuccess(t *testing.T) {
	f := newFixture(map[string][]byte{"uploads/1_doc-1.txt": []byte(sampleText)})
	job := testJob()

	verdict := f.processor.Handle(context.Background(), job, false)

	assert.Equal(t, queue.Done, verdict)
	assert.Equal(t, models.JobStatusCompleted, f.jobs.status["job-1"])
	assert.Equal(t, float64(1), f.jobs.progress["job-1"])
	assert.Equal(t, models.FileStatusDone, f.docs.fileStatus["file-1"])
	assert.Equal(t, models.DocumentStatusCreated, f.docs.docStatus["doc-1"])

	chunks := f.chunks.byFile["doc-1/file-1"]
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, "file-1", c.FileID)
		assert.Len(t, c.Embedding.Slice(), 8)
	}
	assert.Equal(t, len(chunks), f.docs.fileMetadata["file-1"]["chunk_count"])
}

func TestHandleReplayConverges(t *testing.T) {
	f := newFixture(map[string][]byte{"uploads/1_doc-1.txt": []byte(sampleText)})
	job := testJob()

	require.Equal(t, queue.Done, f.processor.Handle(context.Background(), job, false))
	first := len(f.chunks.byFile["doc-1/file-1"])

	// A redelivery of an already-completed job replaces, never duplicates.
	require.Equal(t, queue.Done, f.processor.Handle(context.Background(), job, true))

	assert.Equal(t, first, len(f.chunks.byFile["doc-1/file-1"]))
	assert.Equal(t, 2, f.chunks.replaces)
	assert.Equal(t, models.JobStatusCompleted, f.jobs.status["job-1"])
}

func TestHandleMissingObjectIsTerminal(t *testing.T) {
	f := newFixture(map[string][]byte{})
	job := testJob()

	verdict := f.processor.Handle(context.Background(), job, false)

	assert.Equal(t, queue.Done, verdict, "a missing object can never be retried into existence")
	assert.Equal(t, models.JobStatusFailed, f.jobs.status["job-1"])
	assert.NotEmpty(t, f.jobs.lastError["job-1"])
	assert.Equal(t, models.FileStatusFailed, f.docs.fileStatus["file-1"])
	assert.Equal(t, models.DocumentStatusFailed, f.docs.docStatus["doc-1"])
}

func TestHandleTransientStorageFaultRetriesOnce(t *testing.T) {
	f := newFixture(map[string][]byte{"uploads/1_doc-1.txt": []byte(sampleText)})
	f.store.getErr = fmt.Errorf("connection reset")
	job := testJob()

	verdict := f.processor.Handle(context.Background(), job, false)

	assert.Equal(t, queue.Retry, verdict)
	assert.NotEqual(t, models.JobStatusFailed, f.jobs.status["job-1"], "retryable faults do not mark the job failed")

	// The redelivered attempt is final even if the fault persists.
	verdict = f.processor.Handle(context.Background(), job, true)

	assert.Equal(t, queue.Done, verdict)
	assert.Equal(t, models.JobStatusFailed, f.jobs.status["job-1"])
	assert.Equal(t, models.DocumentStatusFailed, f.docs.docStatus["doc-1"])
}

func TestHandleEmbeddingUnavailableRetries(t *testing.T) {
	f := newFixture(map[string][]byte{"uploads/1_doc-1.txt": []byte(sampleText)})
	f.embedder.err = embedding.ErrServiceUnavailable
	job := testJob()

	assert.Equal(t, queue.Retry, f.processor.Handle(context.Background(), job, false))
	assert.Equal(t, queue.Done, f.processor.Handle(context.Background(), job, true))
	assert.Equal(t, models.JobStatusFailed, f.jobs.status["job-1"])
}

func TestHandleDimensionMismatchIsTerminal(t *testing.T) {
	f := newFixture(map[string][]byte{"uploads/1_doc-1.txt": []byte(sampleText)})
	f.embedder.err = embedding.ErrDimensionMismatch
	job := testJob()

	verdict := f.processor.Handle(context.Background(), job, false)

	assert.Equal(t, queue.Done, verdict, "a dimension mismatch is misconfiguration, not a transient fault")
	assert.Equal(t, models.JobStatusFailed, f.jobs.status["job-1"])
	assert.ErrorContains(t, errors.New(f.jobs.lastError["job-1"]), "dimension")
}

func TestHandleMalformedDocumentIsTerminal(t *testing.T) {
	f := newFixture(map[string][]byte{"uploads/1_doc-1.pdf": []byte("not a pdf at all")})
	job := testJob()
	job.StorageKey = "uploads/1_doc-1.pdf"
	job.Metadata.MimeType = "application/pdf"

	verdict := f.processor.Handle(context.Background(), job, false)

	assert.Equal(t, queue.Done, verdict)
	assert.Equal(t, models.JobStatusFailed, f.jobs.status["job-1"])
	assert.Equal(t, models.DocumentStatusFailed, f.docs.docStatus["doc-1"])
}

func TestHandleEmptyFileCompletesWithZeroChunks(t *testing.T) {
	f := newFixture(map[string][]byte{"uploads/1_doc-1.txt": []byte("   \n\n  ")})
	job := testJob()

	verdict := f.processor.Handle(context.Background(), job, false)

	assert.Equal(t, queue.Done, verdict)
	assert.Equal(t, models.JobStatusCompleted, f.jobs.status["job-1"])
	assert.Equal(t, models.DocumentStatusCreated, f.docs.docStatus["doc-1"])
	assert.Empty(t, f.chunks.byFile["doc-1/file-1"])
	assert.Equal(t, 0, f.docs.fileMetadata["file-1"]["chunk_count"])
	assert.NotEmpty(t, f.docs.fileMetadata["file-1"]["warning"])
}
