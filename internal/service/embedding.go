package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/gifengine/internal/config"
	"github.com/timmy/gifengine/internal/vector"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"

	ProviderJina             = "jina"
	ProviderOpenAICompatible = "openai-compatible"
)

// ErrNoEmbedding reports that no embedding could be produced for a text.
// Callers degrade: search skips the local path and ingest writes nothing.
var ErrNoEmbedding = errors.New("embedding unavailable")

// Embedder maps text to a unit-normalised vector. Identical input yields an
// identical vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingService calls a hosted embedding API (Jina or any
// OpenAI-compatible /embeddings endpoint).
type EmbeddingService struct {
	client     *resty.Client
	provider   string
	endpoint   string
	model      string
	dimensions int
	configured bool
}

// NewEmbeddingService creates a new embedding service. Without an API key
// every Embed call fails with ErrNoEmbedding.
func NewEmbeddingService(cfg *config.EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	endpoint := jinaEndpoint
	if cfg.Provider == ProviderOpenAICompatible {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings"
	} else if cfg.BaseURL != "" {
		endpoint = cfg.BaseURL
	}

	return &EmbeddingService{
		client:     client,
		provider:   cfg.Provider,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		configured: cfg.APIKey != "",
	}
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

type embeddingRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type embeddingError struct {
	Detail string `json:"detail"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *embeddingError) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error.Message
}

// Embed generates a unit-normalised embedding for text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.configured {
		return nil, fmt.Errorf("%w: no api key configured", ErrNoEmbedding)
	}

	req := embeddingRequest{
		Model:      s.model,
		Dimensions: s.dimensions,
		Input:      []string{text},
	}
	if s.provider != ProviderOpenAICompatible {
		// Symmetric task so queries compare against stored topic vectors.
		req.Task = "text-matching"
		req.EmbeddingType = "float"
	}

	var (
		resp    embeddingResponse
		errResp embeddingError
	)
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&errResp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", ErrNoEmbedding, s.provider, err)
	}
	if httpResp.StatusCode() != 200 {
		if msg := errResp.message(); msg != "" {
			return nil, fmt.Errorf("%w: %s error: %s", ErrNoEmbedding, s.provider, msg)
		}
		return nil, fmt.Errorf("%w: %s error: status %d", ErrNoEmbedding, s.provider, httpResp.StatusCode())
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrNoEmbedding)
	}

	vec := vector.Normalize(resp.Data[0].Embedding)
	if vector.Norm(vec) == 0 {
		return nil, fmt.Errorf("%w: zero vector returned", ErrNoEmbedding)
	}
	return vec, nil
}
