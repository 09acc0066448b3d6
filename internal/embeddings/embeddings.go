// Package embeddings enriches canonical messages with text embeddings from an
// OpenAI-compatible embeddings endpoint.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatmirror/chatmirror/internal/message"
	"github.com/chatmirror/chatmirror/internal/pipeline"
)

const defaultTimeout = 30 * time.Second

// Resolver is a batch-mode enrichment stage that attaches an embedding vector
// to every message carrying text. Messages without text are skipped; the
// pipeline merge keeps them intact.
type Resolver struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
}

// New creates a Resolver against an OpenAI-compatible base URL.
func New(log *slog.Logger, baseURL, apiKey, model string) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		httpc:   &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		logger:  log.With(slog.String("component", "embeddings")),
	}
}

// Mode reports the batch execution shape.
func (r *Resolver) Mode() pipeline.Mode { return pipeline.ModeBatch }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Resolve embeds every text-bearing message in the batch in one endpoint
// call and returns the patched copies.
func (r *Resolver) Resolve(ctx context.Context, batch []message.Message) ([]message.Message, error) {
	var (
		inputs  []string
		indexed []message.Message
	)
	for _, msg := range batch {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		inputs = append(inputs, msg.Text)
		indexed = append(indexed, msg.Clone())
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	vectors, err := r.embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(indexed) {
		return nil, fmt.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(vectors), len(indexed))
	}
	for i := range indexed {
		indexed[i].Embedding = vectors[i]
	}
	return indexed, nil
}

func (r *Resolver) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: r.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embeddings endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embeddings endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}

	vectors := make([][]float32, len(inputs))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
