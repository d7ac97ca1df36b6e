// Package chat answers user questions grounded in retrieved document
// chunks, streaming tokens to the client as they are generated.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/docuflow/doc-chat-api/internal/embedding"
	"github.com/docuflow/doc-chat-api/internal/llm"
	"github.com/docuflow/doc-chat-api/internal/models"
	"github.com/docuflow/doc-chat-api/internal/utils"
)

const systemPromptTemplate = `You are a helpful assistant answering questions about a user's documents. Base your answers strictly on the excerpts below. If the excerpts do not contain the answer, say so.

Document excerpts:
%s`

const noContentReply = "I don't have any content for this document yet. " +
	"It may still be processing; please try again in a moment."

// Retriever finds the chunks nearest a query embedding within one document.
// Satisfied by repository.ChunkRepository.
type Retriever interface {
	SearchSimilar(ctx context.Context, documentID string, embedding []float32, topK int, minSimilarity float64) ([]models.RetrievedChunk, error)
}

type Config struct {
	TopK             int
	MinSimilarity    float64
	MaxContextLength int
}

type Orchestrator struct {
	embedder  embedding.Client
	retriever Retriever
	backend   llm.Backend
	config    Config
	logger    *utils.Logger
}

func NewOrchestrator(embedder embedding.Client, retriever Retriever, backend llm.Backend, config Config, logger *utils.Logger) *Orchestrator {
	if config.TopK == 0 {
		config.TopK = 5
	}
	if config.MaxContextLength == 0 {
		config.MaxContextLength = 4000
	}

	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		backend:   backend,
		config:    config,
		logger:    logger.Component("chat"),
	}
}

// Chat runs one conversation turn against a document and pushes events to
// the stream until a terminal event or client disconnect. ctx must be the
// connection's context: when the client goes away, cancellation propagates
// into the backend call and releases it.
func (o *Orchestrator) Chat(ctx context.Context, documentID string, req models.ChatRequest, stream *EventStream) {
	defer stream.Close()

	log := o.logger.With("document_id", documentID)

	vectors, err := o.embedder.Embed(ctx, []string{req.Message})
	if err != nil || len(vectors) != 1 {
		log.Error("failed to embed query", "err", err)
		stream.Fail("Failed to process the question")
		return
	}

	hits, err := o.retriever.SearchSimilar(ctx, documentID, vectors[0], o.config.TopK, o.config.MinSimilarity)
	if err != nil {
		log.Error("similarity search failed", "err", err)
		stream.Fail("Failed to retrieve relevant documents")
		return
	}

	// A document still being processed legitimately has no chunks yet.
	if len(hits) == 0 {
		if err := stream.SendToken(noContentReply); err != nil {
			return
		}
		stream.Complete(nil)
		return
	}

	contextText, used := o.buildContext(hits)
	sources := formatSources(used)
	system := fmt.Sprintf(systemPromptTemplate, contextText)

	sent := 0
	err = o.backend.StreamCompletion(ctx, system, req.ChatHistory, req.Message, func(token string) error {
		if err := stream.SendToken(token); err != nil {
			return err
		}
		sent++
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// Client disconnected; the connection is gone, nothing to emit.
			log.Info("client cancelled stream", "tokens_sent", sent)
			return
		}
		log.Error("generation failed", "err", err, "tokens_sent", sent)
		stream.Fail("Failed to generate response")
		return
	}

	stream.Complete(sources)
	log.Info("stream completed", "tokens_sent", sent, "sources", len(sources))
}

// buildContext assembles the grounded prompt from retrieved chunks, in
// similarity order, stopping before the context budget is exceeded. It
// returns the assembled text and the chunks actually included.
func (o *Orchestrator) buildContext(hits []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	var parts []string
	var used []models.RetrievedChunk
	total := 0

	for _, hit := range hits {
		head := "Source: " + hit.Filename
		if hit.PageNumber != nil && *hit.PageNumber > 0 {
			head += fmt.Sprintf(" (Page %d)", *hit.PageNumber)
		}
		piece := head + "\n" + hit.Content + "\n"

		if total+len(piece) > o.config.MaxContextLength {
			break
		}

		parts = append(parts, piece)
		used = append(used, hit)
		total += len(piece)
	}

	return strings.Join(parts, "\n"), used
}

func formatSources(hits []models.RetrievedChunk) []models.Source {
	sources := make([]models.Source, len(hits))
	for i, hit := range hits {
		page := 0
		if hit.PageNumber != nil {
			page = *hit.PageNumber
		}
		sources[i] = models.Source{
			FileID:          hit.FileID,
			Filename:        hit.Filename,
			PageNumber:      page,
			ChunkIndex:      hit.ChunkIndex,
			SimilarityScore: hit.SimilarityScore,
		}
	}
	return sources
}
