package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/sipeed/driveclaw/pkg/capability"
)

const defaultOpenAIModel = "gpt-4.1-mini"

// OpenAISummarizer talks to any OpenAI-compatible chat completions endpoint.
type OpenAISummarizer struct {
	client        *openai.Client
	model         string
	maxInputChars int
}

func NewOpenAISummarizer(apiKey, baseURL, model string) *OpenAISummarizer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAISummarizer{client: &client, model: model, maxInputChars: defaultMaxInputChars}
}

func (s *OpenAISummarizer) Name() string {
	return "openai"
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, data []byte, mimeType string) (string, error) {
	const op = "summarizer.summarize"
	text, err := prepareInput(data, mimeType, s.maxInputChars)
	if err != nil {
		return "", capability.Unavailable(op, err)
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(text, mimeType)),
		},
		MaxCompletionTokens: openai.Int(defaultMaxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", capability.ClassifyHTTPStatus(op, apiErr.StatusCode, fmt.Errorf("openai API call: %w", err))
		}
		return "", &capability.Error{Kind: capability.KindOf(err), Op: op, Err: fmt.Errorf("openai API call: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", capability.Unavailable(op, errors.New("openai returned no choices"))
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", capability.Unavailable(op, errors.New("openai returned an empty summary"))
	}
	return summary, nil
}
