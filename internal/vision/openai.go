package vision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/nick5616/batch-item-analyzer/internal/chat"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"

	// maxAnswerTokens caps the model's answer length per image.
	maxAnswerTokens = 300

	// msgAnalysisFailed is the user-facing answer attached to an image
	// whose analysis failed.
	msgAnalysisFailed = "Failed to analyze image. Check API key."
	// msgNoResponse is used when the model returns an empty answer.
	msgNoResponse = "No response generated."
)

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

// OpenAIOpts configures an OpenAIAnalyzer. Zero values select the real API
// and the default model.
type OpenAIOpts struct {
	BaseURL string
	Model   string
}

// OpenAIAnalyzer analyzes a single image with an OpenAI vision model. It is
// stateless; the credential comes with every call. Failures never escape:
// they are reported in the result's outcome.
type OpenAIAnalyzer struct {
	httpClient *resty.Client
	baseURL    string
	model      string
}

// NewOpenAIAnalyzer creates an analyzer against the OpenAI chat completions API.
func NewOpenAIAnalyzer(opts OpenAIOpts) *OpenAIAnalyzer {
	a := &OpenAIAnalyzer{
		baseURL: defaultOpenAIBaseURL,
		model:   defaultOpenAIModel,
	}
	if opts.BaseURL != "" {
		a.baseURL = opts.BaseURL
	}
	if opts.Model != "" {
		a.model = opts.Model
	}
	a.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(a.baseURL)
	return a
}

// Analyze sends one image and one question to the model. Each image always
// gets its own request.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, image chat.Asset, question, credential string) chat.Result {
	body := chatCompletionRequest{
		Model: a.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: question},
					{Type: "image_url", ImageURL: &imageURL{URL: image.InlineData}},
				},
			},
		},
		MaxTokens: maxAnswerTokens,
	}

	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+credential).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		log.Error().Err(err).Str("imageId", image.ID).Msg("vision request failed")
		return errorResult(image.ID)
	}

	// The API reports failures both via status codes and an error field in
	// the body; parse the body regardless of status so the error field can
	// take priority.
	var parsed chatCompletionResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		log.Error().Err(err).Str("imageId", image.ID).Int("status", resp.StatusCode()).Msg("failed to parse vision response")
		return errorResult(image.ID)
	}
	if parsed.Error != nil {
		log.Error().Err(fmt.Errorf("api error: %s", parsed.Error.Message)).Str("imageId", image.ID).Msg("vision request rejected")
		return errorResult(image.ID)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("imageId", image.ID).Msg("vision request failed")
		return errorResult(image.ID)
	}

	answer := msgNoResponse
	if len(parsed.Choices) > 0 && parsed.Choices[0].Message.Content != "" {
		answer = parsed.Choices[0].Message.Content
	}

	return chat.Result{ImageID: image.ID, Answer: answer, Outcome: chat.OutcomeSuccess}
}

func errorResult(imageID string) chat.Result {
	return chat.Result{ImageID: imageID, Answer: msgAnalysisFailed, Outcome: chat.OutcomeError}
}
