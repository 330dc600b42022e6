package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sipeed/driveclaw/pkg/capability"
)

const defaultClaudeModel = "claude-sonnet-4-5-20250929"

type AnthropicSummarizer struct {
	client        *anthropic.Client
	model         string
	maxInputChars int
}

func NewAnthropicSummarizer(apiKey, baseURL, model string) *AnthropicSummarizer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	if model == "" {
		model = defaultClaudeModel
	}
	return &AnthropicSummarizer{client: &client, model: model, maxInputChars: defaultMaxInputChars}
}

func (s *AnthropicSummarizer) Name() string {
	return "anthropic"
}

func (s *AnthropicSummarizer) Summarize(ctx context.Context, data []byte, mimeType string) (string, error) {
	const op = "summarizer.summarize"
	text, err := prepareInput(data, mimeType, s.maxInputChars)
	if err != nil {
		return "", capability.Unavailable(op, err)
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(text, mimeType))),
		},
	})
	if err != nil {
		return "", wrapAnthropicError(op, err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.AsText().Text)
		}
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", capability.Unavailable(op, errors.New("claude returned an empty summary"))
	}
	return summary, nil
}

func wrapAnthropicError(op string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return capability.ClassifyHTTPStatus(op, apiErr.StatusCode, fmt.Errorf("claude API call: %w", err))
	}
	return &capability.Error{Kind: capability.KindOf(err), Op: op, Err: fmt.Errorf("claude API call: %w", err)}
}
