package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const breakdownInstruction = "You are an assistant that splits stories into storyboard scenes. Your output MUST be a valid JSON object."

const breakdownPrompt = `Your task is to parse the following user story or report into a sequence of individual scenes.
Each scene must be a short, self-contained visual description that an illustrator could draw as one comic panel.
Keep the order of events. Do not invent events that are not in the text.
The final output should be a JSON object containing a single key "scenes", whose value is a list of objects
with the keys "id" (a string, unique within the list) and "description".

Here is the original text:
---
%s
---`

// Generator is the part of the genai client the storyteller needs.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiStoryteller asks a Gemini model for a JSON scene breakdown.
type GeminiStoryteller struct {
	models Generator
	model  string
	logger *zap.Logger
}

func NewGeminiStoryteller(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiStoryteller, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return NewStoryteller(client.Models, model, logger), nil
}

// NewStoryteller wraps an existing generator.
func NewStoryteller(models Generator, model string, logger *zap.Logger) *GeminiStoryteller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiStoryteller{models: models, model: model, logger: logger}
}

// Breakdown returns the model's raw JSON answer for story.
func (g *GeminiStoryteller) Breakdown(ctx context.Context, story string) ([]byte, error) {
	resp, err := g.models.GenerateContent(ctx, g.model,
		genai.Text(fmt.Sprintf(breakdownPrompt, story)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(breakdownInstruction, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, errors.New("gemini returned an empty answer")
	}
	g.logger.Debug("breakdown answer", zap.Int("bytes", len(text)))
	return []byte(stripFence(text)), nil
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
