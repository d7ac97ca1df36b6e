package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/doc-chat-api/internal/models"
	"github.com/docuflow/doc-chat-api/internal/utils"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }

type stubRetriever struct {
	hits []models.RetrievedChunk
	err  error
}

func (s *stubRetriever) SearchSimilar(ctx context.Context, documentID string, embedding []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error) {
	return s.hits, s.err
}

// stubBackend emits a fixed token sequence, optionally cancelling the
// context partway through to simulate a client disconnect.
type stubBackend struct {
	tokens      []string
	err         error
	cancelAfter int
	cancel      context.CancelFunc
	gotSystem   string
	gotHistory  []models.ChatMessage
	gotMessage  string
}

func (s *stubBackend) StreamCompletion(ctx context.Context, system string, history []models.ChatMessage, message string, onToken func(string) error) error {
	s.gotSystem = system
	s.gotHistory = history
	s.gotMessage = message

	for i, token := range s.tokens {
		if s.cancel != nil && i == s.cancelAfter {
			s.cancel()
			return ctx.Err()
		}
		if err := onToken(token); err != nil {
			return err
		}
	}
	return s.err
}

func page(n int) *int { return &n }

func testHits() []models.RetrievedChunk {
	return []models.RetrievedChunk{
		{
			Chunk:           models.Chunk{FileID: "f1", Content: "First relevant passage.", ChunkIndex: 0, PageNumber: page(2)},
			Filename:        "report.pdf",
			SimilarityScore: 0.91,
		},
		{
			Chunk:           models.Chunk{FileID: "f1", Content: "Second relevant passage.", ChunkIndex: 3},
			Filename:        "report.pdf",
			SimilarityScore: 0.72,
		},
	}
}

func newTestOrchestrator(retriever Retriever, backend *stubBackend, config Config) *Orchestrator {
	return NewOrchestrator(&stubEmbedder{}, retriever, backend, config, utils.NewLogger("error"))
}

func TestChatStreamsTokensAndSources(t *testing.T) {
	backend := &stubBackend{tokens: []string{"The", " answer", " is", " 42"}}
	o := newTestOrchestrator(&stubRetriever{hits: testHits()}, backend, Config{})

	sink := &recordingSink{}
	o.Chat(context.Background(), "doc-1", models.ChatRequest{Message: "What is the answer?"}, NewEventStream(sink))

	require.Len(t, sink.events, 5)
	var reply strings.Builder
	for _, e := range sink.events[:4] {
		reply.WriteString(e.Token)
	}
	assert.Equal(t, "The answer is 42", reply.String())

	terminal := sink.events[4]
	require.True(t, terminal.Complete)
	require.Len(t, terminal.Sources, 2)
	assert.Equal(t, "report.pdf", terminal.Sources[0].Filename)
	assert.Equal(t, 2, terminal.Sources[0].PageNumber)
	assert.Equal(t, 0.91, terminal.Sources[0].SimilarityScore)
	assert.Equal(t, 0, terminal.Sources[1].PageNumber)

	// The prompt carries the excerpts with their source attribution.
	assert.Contains(t, backend.gotSystem, "Source: report.pdf (Page 2)")
	assert.Contains(t, backend.gotSystem, "First relevant passage.")
	assert.Equal(t, "What is the answer?", backend.gotMessage)
}

func TestChatPassesHistoryThrough(t *testing.T) {
	backend := &stubBackend{tokens: []string{"ok"}}
	o := newTestOrchestrator(&stubRetriever{hits: testHits()}, backend, Config{})

	history := []models.ChatMessage{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	o.Chat(context.Background(), "doc-1", models.ChatRequest{Message: "follow-up", ChatHistory: history}, NewEventStream(&recordingSink{}))

	assert.Equal(t, history, backend.gotHistory)
}

func TestChatNoChunksYieldsCannedReply(t *testing.T) {
	backend := &stubBackend{tokens: []string{"never sent"}}
	o := newTestOrchestrator(&stubRetriever{}, backend, Config{})

	sink := &recordingSink{}
	o.Chat(context.Background(), "doc-1", models.ChatRequest{Message: "anything"}, NewEventStream(sink))

	require.Len(t, sink.events, 2)
	assert.Contains(t, sink.events[0].Token, "don't have any content")
	assert.True(t, sink.events[1].Complete)
	assert.Empty(t, sink.events[1].Sources)
	assert.Empty(t, backend.gotMessage, "the model is never invoked without context")
}

func TestChatEmbeddingFailure(t *testing.T) {
	backend := &stubBackend{}
	o := NewOrchestrator(&stubEmbedder{err: errors.New("down")}, &stubRetriever{}, backend, Config{}, utils.NewLogger("error"))

	sink := &recordingSink{}
	o.Chat(context.Background(), "doc-1", models.ChatRequest{Message: "q"}, NewEventStream(sink))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "Failed to process the question", sink.events[0].Error)
}

func TestChatRetrievalFailure(t *testing.T) {
	o := newTestOrchestrator(&stubRetriever{err: errors.New("db down")}, &stubBackend{}, Config{})

	sink := &recordingSink{}
	o.Chat(context.Background(), "doc-1", models.ChatRequest{Message: "q"}, NewEventStream(sink))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "Failed to retrieve relevant documents", sink.events[0].Error)
}

func TestChatGenerationFailure(t *testing.T) {
	backend := &stubBackend{tokens: []string{"part", "ial"}, err: errors.New("model crashed")}
	o := newTestOrchestrator(&stubRetriever{hits: testHits()}, backend, Config{})

	sink := &recordingSink{}
	o.Chat(context.Background(), "doc-1", models.ChatRequest{Message: "q"}, NewEventStream(sink))

	require.Len(t, sink.events, 3)
	assert.Equal(t, "Failed to generate response", sink.events[2].Error)
}

func TestChatClientDisconnectSendsNoTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &stubBackend{tokens: []string{"one", "two", "three", "four"}, cancelAfter: 2, cancel: cancel}
	o := newTestOrchestrator(&stubRetriever{hits: testHits()}, backend, Config{})

	sink := &recordingSink{}
	stream := NewEventStream(sink)
	o.Chat(ctx, "doc-1", models.ChatRequest{Message: "q"}, stream)

	require.Len(t, sink.events, 2, "only the tokens sent before cancellation")
	for _, e := range sink.events {
		assert.False(t, e.Complete)
		assert.Empty(t, e.Error)
	}
	assert.Equal(t, StateClosed, stream.State())
}

func TestChatContextBudgetLimitsSources(t *testing.T) {
	hits := []models.RetrievedChunk{
		{Chunk: models.Chunk{FileID: "f1", Content: strings.Repeat("a", 150)}, Filename: "big.txt", SimilarityScore: 0.9},
		{Chunk: models.Chunk{FileID: "f1", Content: strings.Repeat("b", 150)}, Filename: "big.txt", SimilarityScore: 0.8},
	}
	backend := &stubBackend{tokens: []string{"ok"}}
	o := newTestOrchestrator(&stubRetriever{hits: hits}, backend, Config{MaxContextLength: 200})

	sink := &recordingSink{}
	o.Chat(context.Background(), "doc-1", models.ChatRequest{Message: "q"}, NewEventStream(sink))

	terminal := sink.events[len(sink.events)-1]
	require.True(t, terminal.Complete)
	assert.Len(t, terminal.Sources, 1, "chunks past the context budget are not cited")
	assert.NotContains(t, backend.gotSystem, "bbb")
}
