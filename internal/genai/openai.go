package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
)

// DefaultOpenAIEmbeddingModel is used when no embedding model is configured.
const DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

func newOpenAIClient(apiKey, baseURL string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // Retries are handled by the chain
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

// wrapOpenAIError attaches the HTTP status of API errors.
func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return WrapError(err, ProviderOpenAI, apiErr.StatusCode)
	}
	return WrapError(err, ProviderOpenAI, 0)
}

// openaiClassifier classifies with forced function calling.
type openaiClassifier struct {
	client openai.Client
	model  string
	tools  []openai.ChatCompletionToolUnionParam
	logger *logger.Logger
}

func newOpenAIClassifier(client openai.Client, model string, log *logger.Logger) *openaiClassifier {
	tool := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        classifyFunctionName,
		Description: openai.String(classifyFunctionDescription),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"label":      map[string]string{"type": "string", "description": labelDescription},
				"confidence": map[string]string{"type": "number", "description": confidenceDescription},
			},
			"required": []string{"label", "confidence"},
		},
	})
	return &openaiClassifier{
		client: client,
		model:  model,
		tools:  []openai.ChatCompletionToolUnionParam{tool},
		logger: log,
	}
}

// Classify implements Classifier.
func (c *openaiClassifier) Classify(ctx context.Context, prompt string) (Classification, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ClassifierSystemPrompt),
			openai.UserMessage(prompt),
		},
		Tools: c.tools,
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(openai.ChatCompletionToolChoiceOptionAutoRequired)),
		},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(128),
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.WithError(err).WithFields(map[string]any{
			"model":       c.model,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Warn("Classifier API call failed")
		return Classification{}, wrapOpenAIError(fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return Classification{}, fmt.Errorf("%w: no choices", ErrMalformedOutput)
	}

	for _, tc := range resp.Choices[0].Message.ToolCalls {
		if tc.Type != "function" || tc.Function.Name != classifyFunctionName {
			continue
		}
		result, err := parseClassification([]byte(tc.Function.Arguments))
		if err != nil {
			return Classification{}, err
		}
		c.logger.WithFields(map[string]any{
			"model":        c.model,
			"label":        result.Label,
			"total_tokens": resp.Usage.TotalTokens,
			"duration_ms":  time.Since(start).Milliseconds(),
		}).Debug("Classification completed")
		return result, nil
	}
	return Classification{}, fmt.Errorf("%w: no %s call", ErrMalformedOutput, classifyFunctionName)
}

// Provider implements Classifier.
func (c *openaiClassifier) Provider() Provider { return ProviderOpenAI }

// openaiGenerator produces reply text.
type openaiGenerator struct {
	client openai.Client
	model  string
	logger *logger.Logger
}

// Generate implements Generator.
func (g *openaiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(GeneratorSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.4),
		MaxTokens:   openai.Int(512),
	})
	if err != nil {
		return "", wrapOpenAIError(fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedOutput)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}
	g.logger.WithFields(map[string]any{
		"model":        g.model,
		"total_tokens": resp.Usage.TotalTokens,
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Debug("Generation completed")
	return text, nil
}

// Provider implements Generator.
func (g *openaiGenerator) Provider() Provider { return ProviderOpenAI }

// OpenAIEmbedder embeds text through the embeddings endpoint. It
// implements similarity.EmbeddingBackend.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder. dimensions <= 0 keeps the model
// default.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = DefaultOpenAIEmbeddingModel
	}
	return &OpenAIEmbedder{client: newOpenAIClient(apiKey, baseURL), model: model, dimensions: dimensions}, nil
}

// Embed implements similarity.EmbeddingBackend.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIError(fmt.Errorf("embedding failed: %w", err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrMalformedOutput)
	}
	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
