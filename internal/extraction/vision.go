package extraction

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// visionTimeout bounds every structured extraction call; the pipeline must
// never block indefinitely on network I/O.
const visionTimeout = 30 * time.Second

// Vision implements StructuredExtractor against any OpenAI-compatible chat
// completions endpoint with a multimodal model (OpenAI itself, Novita, Groq
// and similar providers speak the same contract).
type Vision struct {
	client          *openai.Client
	model           string
	prompt          string
	defaultCategory string
}

// NewVision creates a Vision extractor. baseURL may be empty for the OpenAI
// default; model must name a vision-capable model on the provider.
func NewVision(apiKey, baseURL, model string, categories []string, defaultCategory string) (*Vision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vision api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("vision model is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Vision{
		client:          openai.NewClientWithConfig(cfg),
		model:           model,
		prompt:          buildPrompt(categories, defaultCategory),
		defaultCategory: defaultCategory,
	}, nil
}

// Extract sends the normalized PNG and the extraction instruction to the
// model and parses the structured reply. The OCR text rides along as
// auxiliary context when present.
func (v *Vision) Extract(ctx context.Context, imagePNG []byte, ocrText string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, visionTimeout)
	defer cancel()

	prompt := v.prompt
	if ocrText != "" {
		prompt += "\n\nOCR text read from the same receipt, as additional context:\n" + ocrText
	}

	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imagePNG)

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       v.model,
		Temperature: 0.1,
		MaxTokens:   500,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert at reading purchase receipts. You reply only with valid JSON.",
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("calling vision API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choice list", errMalformedResponse)
	}

	return parseStructured(resp.Choices[0].Message.Content, v.defaultCategory)
}

// Close implements StructuredExtractor; the HTTP client needs no teardown.
func (v *Vision) Close() error {
	return nil
}
