package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements StructuredExtractor using Google Gemini.
type Gemini struct {
	client          *genai.Client
	model           *genai.GenerativeModel
	prompt          string
	defaultCategory string
}

// NewGemini creates a Gemini extractor.
func NewGemini(apiKey, modelName string, categories []string, defaultCategory string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:          client,
		model:           client.GenerativeModel(modelName),
		prompt:          buildPrompt(categories, defaultCategory),
		defaultCategory: defaultCategory,
	}, nil
}

// Extract asks Gemini to read the receipt image into a structured Result.
func (g *Gemini) Extract(ctx context.Context, imagePNG []byte, ocrText string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prompt := g.prompt
	if ocrText != "" {
		prompt += "\n\nOCR text read from the same receipt, as additional context:\n" + ocrText
	}

	parts := []genai.Part{
		genai.ImageData("png", imagePNG),
		genai.Text(prompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates from gemini", errMalformedResponse)
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply.WriteString(string(text))
		}
	}

	return parseStructured(reply.String(), g.defaultCategory)
}

// Close closes the underlying Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
