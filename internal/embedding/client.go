// Package embedding is a thin RPC client for the external embedding
// service: text in, fixed-dimension vector out.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docuflow/doc-chat-api/internal/utils"
)

var (
	// ErrServiceUnavailable indicates the embedding service is transiently
	// unreachable or failing. Retryable.
	ErrServiceUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates a returned vector's length disagrees
	// with the configured dimension. Non-retryable; a misconfiguration.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Client computes embeddings for batches of text. The returned slice has
// one vector per input text, in input order.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type httpClient struct {
	baseURL string
	dim     int
	client  *http.Client
	logger  *utils.Logger
}

func NewClient(baseURL string, dim int, timeout time.Duration, logger *utils.Logger) Client {
	return &httpClient{
		baseURL: baseURL,
		dim:     dim,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Component("embedding"),
	}
}

func (c *httpClient) Dimension() int {
	return c.dim
}

func (c *httpClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonData, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrServiceUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("embedding service error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response body: %v", ErrServiceUnavailable, err)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, received %d vectors",
			len(texts), len(parsed.Embeddings))
	}

	for i, vec := range parsed.Embeddings {
		if len(vec) != c.dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(vec), c.dim)
		}
	}

	return parsed.Embeddings, nil
}
