// Package llm wraps the generation backend behind a streaming interface
// the chat orchestrator can drive and cancel.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/docuflow/doc-chat-api/internal/models"
	"github.com/docuflow/doc-chat-api/internal/utils"
)

// ErrBackendUnavailable indicates the generation backend is unreachable or
// timed out. Retryable from the caller's perspective.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

// Backend streams a completion token by token. onToken is called once per
// generated fragment, in generation order; returning an error from it
// aborts the stream. Cancelling ctx cancels the upstream call.
type Backend interface {
	StreamCompletion(ctx context.Context, system string, history []models.ChatMessage, message string, onToken func(token string) error) error
}

type ollamaBackend struct {
	model   llms.Model
	timeout time.Duration
	logger  *utils.Logger
}

func NewOllamaBackend(host, model string, timeout time.Duration, logger *utils.Logger) (Backend, error) {
	client, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM backend: %w", err)
	}

	return &ollamaBackend{
		model:   client,
		timeout: timeout,
		logger:  logger.Component("llm"),
	}, nil
}

func (b *ollamaBackend) StreamCompletion(ctx context.Context, system string, history []models.ChatMessage, message string, onToken func(string) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	content := make([]llms.MessageContent, 0, len(history)+2)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, system))

	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if turn.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, turn.Content))
	}

	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, message))

	_, err := b.model.GenerateContent(ctx, content,
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onToken(string(chunk))
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return nil
}
