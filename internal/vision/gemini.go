package vision

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
)

const geminiModel = "gemini-2.5-flash-lite"

// GeminiAnalyzer analyzes a single image with the Gemini API. Like the
// OpenAI analyzer it is stateless: the credential arrives with every call,
// so a client is constructed per request rather than held.
type GeminiAnalyzer struct{}

// NewGeminiAnalyzer creates a Gemini-based analyzer.
func NewGeminiAnalyzer() *GeminiAnalyzer {
	return &GeminiAnalyzer{}
}

// Analyze sends one image and one question to Gemini.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, image chat.Asset, question, credential string) chat.Result {
	data, mimeType, err := chat.DecodeInline(image.InlineData)
	if err != nil {
		log.Error().Err(err).Str("imageId", image.ID).Msg("asset has malformed inline data")
		return errorResult(image.ID)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: credential})
	if err != nil {
		log.Error().Err(err).Str("imageId", image.ID).Msg("failed to create gemini client")
		return errorResult(image.ID)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(question),
		{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := client.Models.GenerateContent(ctx, geminiModel, contents, nil)
	if err != nil {
		log.Error().Err(err).Str("imageId", image.ID).Msg("gemini vision request failed")
		return errorResult(image.ID)
	}

	answer := result.Text()
	if answer == "" {
		answer = msgNoResponse
	}

	return chat.Result{ImageID: image.ID, Answer: answer, Outcome: chat.OutcomeSuccess}
}
