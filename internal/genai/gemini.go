package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
)

// Gemini embedding defaults.
const (
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
	DefaultEmbeddingDimensions  = 768
)

func newGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// wrapGeminiError attaches the HTTP status of API errors.
func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return WrapError(err, ProviderGemini, apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return WrapError(err, ProviderGemini, apiErrPtr.Code)
	}
	return WrapError(err, ProviderGemini, 0)
}

// geminiClassifier classifies with function calling in ANY mode.
type geminiClassifier struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *logger.Logger
}

func newGeminiClassifier(client *genai.Client, model string, log *logger.Logger) *geminiClassifier {
	decl := &genai.FunctionDeclaration{
		Name:        classifyFunctionName,
		Description: classifyFunctionDescription,
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"label":      {Type: genai.TypeString, Description: labelDescription},
				"confidence": {Type: genai.TypeNumber, Description: confidenceDescription},
			},
			Required: []string{"label", "confidence"},
		},
	}
	return &geminiClassifier{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Tools:             []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{decl}}},
			SystemInstruction: genai.NewContentFromText(ClassifierSystemPrompt, genai.RoleUser),
			ToolConfig: &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{
					Mode: genai.FunctionCallingConfigModeAny,
				},
			},
			Temperature:     genai.Ptr[float32](0),
			MaxOutputTokens: 128,
		},
		logger: log,
	}
}

// Classify implements Classifier.
func (c *geminiClassifier) Classify(ctx context.Context, prompt string) (Classification, error) {
	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.config)
	if err != nil {
		c.logger.WithError(err).WithFields(map[string]any{
			"model":       c.model,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Warn("Classifier API call failed")
		return Classification{}, wrapGeminiError(fmt.Errorf("generate content failed: %w", err))
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return Classification{}, fmt.Errorf("%w: no candidates", ErrMalformedOutput)
	}
	for _, part := range result.Candidates[0].Content.Parts {
		if part.FunctionCall == nil || part.FunctionCall.Name != classifyFunctionName {
			continue
		}
		raw, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			return Classification{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		cls, err := parseClassification(raw)
		if err != nil {
			return Classification{}, err
		}
		fields := map[string]any{
			"model":       c.model,
			"label":       cls.Label,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if result.UsageMetadata != nil {
			fields["total_tokens"] = result.UsageMetadata.TotalTokenCount
		}
		c.logger.WithFields(fields).Debug("Classification completed")
		return cls, nil
	}
	return Classification{}, fmt.Errorf("%w: no %s call", ErrMalformedOutput, classifyFunctionName)
}

// Provider implements Classifier.
func (c *geminiClassifier) Provider() Provider { return ProviderGemini }

// geminiGenerator produces reply text.
type geminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func newGeminiGenerator(client *genai.Client, model string) *geminiGenerator {
	return &geminiGenerator{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(GeneratorSystemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.4),
			MaxOutputTokens:   512,
		},
	}
}

// Generate implements Generator.
func (g *geminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return "", wrapGeminiError(fmt.Errorf("generate content failed: %w", err))
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}
	return text, nil
}

// Provider implements Generator.
func (g *geminiGenerator) Provider() Provider { return ProviderGemini }

// GeminiEmbedder embeds text with the Gemini embedding model. It implements
// similarity.EmbeddingBackend.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

// NewGeminiEmbedder creates an embedder.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	client, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: int32(dimensions)}, nil //nolint:gosec // bounded by config
}

// Embed implements similarity.EmbeddingBackend.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             "SEMANTIC_SIMILARITY",
			OutputDimensionality: genai.Ptr(e.dimensions),
		},
	)
	if err != nil {
		return nil, wrapGeminiError(fmt.Errorf("embed content failed: %w", err))
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrMalformedOutput)
	}
	return result.Embeddings[0].Values, nil
}
