package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI computes embeddings through the OpenAI embeddings API. Vectors are
// L2-normalized before being returned so L2 and cosine rankings agree.
type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

// model -> native output dimensionality
var modelDims = map[string]int{
	string(openai.SmallEmbedding3): 1536,
	string(openai.LargeEmbedding3): 3072,
	string(openai.AdaEmbeddingV2):  1536,
}

// NewOpenAI creates an OpenAI-backed embedder. dims requests a reduced
// output dimensionality from models that support it; pass 0 to keep the
// model's native size.
func NewOpenAI(apiKey, model string, dims int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("api key cannot be empty")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	if dims == 0 {
		native, ok := modelDims[model]
		if !ok {
			return nil, fmt.Errorf("unknown model %q: dimensionality must be given explicitly", model)
		}
		dims = native
	}

	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
		dims:   dims,
	}, nil
}

// Embed computes the embedding for a single text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch computes embeddings for all texts in one API call, preserving
// input order.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d is empty", i)
		}
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}
	if native, ok := modelDims[e.model]; !ok || native != e.dims {
		req.Dimensions = e.dims
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		v := make([]float32, len(item.Embedding))
		copy(v, item.Embedding)
		if len(v) != e.dims {
			return nil, fmt.Errorf("model returned %d dimensions, expected %d", len(v), e.dims)
		}
		l2Normalize(v)
		vectors[item.Index] = v
	}

	return vectors, nil
}

// Dimensions returns the configured vector length.
func (e *OpenAI) Dimensions() int {
	return e.dims
}

func l2Normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
