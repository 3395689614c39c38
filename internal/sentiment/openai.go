package sentiment

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const classifyPrompt = "Classify the overall sentiment of the following text. " +
	"Answer with exactly one word: positive, negative, or neutral."

// chatAPI is the slice of the OpenAI client the classifier uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Model is the hosted-model classifier.
type Model struct {
	client chatAPI
	model  string
}

// NewModel builds a Model classifier over the official client.
func NewModel(apiKey, model string) *Model {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Model{client: openai.NewClient(apiKey), model: model}
}

// NewModelWithClient builds a Model over an existing client.
func NewModelWithClient(client chatAPI, model string) *Model {
	return &Model{client: client, model: model}
}

// Classify implements catalog.SentimentClassifier. Any answer outside the
// label set, including "mixed", normalizes to neutral.
func (m *Model) Classify(ctx context.Context, text string) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: 0,
		MaxTokens:   4,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("sentiment completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("sentiment completion returned no choices")
	}
	return normalize(resp.Choices[0].Message.Content), nil
}

func normalize(answer string) string {
	answer = strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(answer), ".")))
	switch answer {
	case Positive, Negative, Neutral:
		return answer
	default:
		return Neutral
	}
}
