// Package embedding provides the client for the remote embedding service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineDistance computes cosine distance (1 - cosine similarity) between
// two vectors. 0 means identical direction; the value is clamped to be
// non-negative against float rounding.
func CosineDistance(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	if d < 0 {
		return 0
	}
	return d
}

// HTTPEmbedder talks to the embedding sidecar API.
// The sidecar serves POST /embed and GET /health.
type HTTPEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewHTTPEmbedder creates a client for the embedding service at baseURL.
// Default model: intfloat/multilingual-e5-base (768 dims).
func NewHTTPEmbedder(baseURL, model string, dims int) *HTTPEmbedder {
	if model == "" {
		model = "intfloat/multilingual-e5-base"
	}
	if dims == 0 {
		dims = 768
	}
	return &HTTPEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(embedRequest{Model: e.model, Input: text})
	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding error %d: %s", resp.StatusCode, string(b))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return result.Embedding, nil
}

func (e *HTTPEmbedder) Dims() int { return e.dims }

// Health checks the liveness endpoint of the embedding service.
func (e *HTTPEmbedder) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
