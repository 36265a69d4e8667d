// Package rag answers questions over exported chunks: it embeds them into an
// in-memory cosine index, retrieves the closest chunks for a question and
// asks a chat model to answer from those chunks with citations.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/logging"
)

const (
	// DefaultEmbeddingModel is the DashScope text embedding model.
	DefaultEmbeddingModel = "text-embedding-v3"
	DefaultDimension      = 1024
	DefaultBatchSize      = 10
)

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig configures OpenAIEmbedder.
type EmbedderConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int // 0 leaves the model default
	BatchSize int
	Timeout   time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings API in batches.
type OpenAIEmbedder struct {
	api        *openai.Client
	httpClient *http.Client
	model      string
	dimension  int
	batchSize  int
	log        *slog.Logger
}

// NewOpenAIEmbedder builds an embedder. A nil logger discards output.
func NewOpenAIEmbedder(cfg EmbedderConfig, log *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = extract.DashScopeBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = httpClient

	return &OpenAIEmbedder{
		api:        openai.NewClientWithConfig(oc),
		httpClient: httpClient,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  cfg.BatchSize,
		log:        log.With("component", "embedder", "model", cfg.Model),
	}, nil
}

// Embed returns one L2-normalized vector per text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		e.log.Debug("embedded batch", "done", end, "total", len(texts))
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimension,
	})
	if err != nil {
		e.log.Error("create embeddings failed", "texts", len(texts), "error", err)
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		vecs[i] = normalize(d.Embedding)
	}
	e.log.Debug("embeddings created", "count", len(vecs), "prompt_tokens", resp.Usage.PromptTokens)
	return vecs, nil
}

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() {
	e.httpClient.CloseIdleConnections()
}

// normalize scales v to unit length in place. A zero vector is returned as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
