package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini wraps a genai client as both an embedding and a generation
// provider. Safe for concurrent use.
type Gemini struct {
	client          *genai.Client
	embeddingModel  string
	generationModel string
	outputDim       int32
}

// GeminiConfig configures a Gemini provider.
type GeminiConfig struct {
	APIKey          string
	EmbeddingModel  string
	GenerationModel string
	// OutputDim truncates embeddings to this dimension. Must match the
	// vector column width in the documents schema.
	OutputDim int32
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{
		client:          client,
		embeddingModel:  cfg.EmbeddingModel,
		generationModel: cfg.GenerationModel,
		outputDim:       cfg.OutputDim,
	}, nil
}

// EmbedOne generates an embedding for a single text.
func (g *Gemini) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts in one request, preserving
// order. The Gemini embedding endpoint accepts multiple contents natively.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}
	if g.outputDim > 0 {
		dim := g.outputDim
		cfg.OutputDimensionality = &dim
	}

	result, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, cfg)
	if err != nil {
		return nil, classify("embed", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, &Error{
			Kind: KindPermanent,
			Op:   "embed",
			Err:  fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)),
		}
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, &Error{
				Kind: KindPermanent,
				Op:   "embed",
				Err:  fmt.Errorf("empty embedding at position %d", i),
			}
		}
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// Complete sends a prompt to the generation model and returns the raw text
// response. modelID overrides the configured generation model when non-empty.
func (g *Gemini) Complete(ctx context.Context, prompt string, modelID string) (string, error) {
	model := g.generationModel
	if modelID != "" {
		model = modelID
	}

	resp, err := g.client.Models.GenerateContent(ctx, model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.1),
		},
	)
	if err != nil {
		return "", classify("complete", err)
	}

	text := resp.Text()
	if text == "" {
		return "", &Error{
			Kind: KindPermanent,
			Op:   "complete",
			Err:  fmt.Errorf("empty response from model %s", model),
		}
	}
	return text, nil
}
