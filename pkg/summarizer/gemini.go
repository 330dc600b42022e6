package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/sipeed/driveclaw/pkg/capability"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiSummarizer struct {
	client        *genai.Client
	model         string
	maxInputChars int
}

func NewGeminiSummarizer(ctx context.Context, apiKey, model string) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiSummarizer{client: client, model: model, maxInputChars: defaultMaxInputChars}, nil
}

func (s *GeminiSummarizer) Name() string {
	return "gemini"
}

func (s *GeminiSummarizer) Summarize(ctx context.Context, data []byte, mimeType string) (string, error) {
	const op = "summarizer.summarize"
	text, err := prepareInput(data, mimeType, s.maxInputChars)
	if err != nil {
		return "", capability.Unavailable(op, err)
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model,
		genai.Text(userPrompt(text, mimeType)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			MaxOutputTokens:   defaultMaxTokens,
		},
	)
	if err != nil {
		return "", wrapGeminiError(op, err)
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", capability.Unavailable(op, errors.New("gemini returned an empty summary"))
	}
	return summary, nil
}

func wrapGeminiError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return capability.ClassifyHTTPStatus(op, apiErr.Code, fmt.Errorf("gemini API call: %w", err))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return capability.ClassifyHTTPStatus(op, apiErrPtr.Code, fmt.Errorf("gemini API call: %w", err))
	}
	return &capability.Error{Kind: capability.KindOf(err), Op: op, Err: fmt.Errorf("gemini API call: %w", err)}
}
