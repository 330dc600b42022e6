package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Summarizer turns document content into a short plain-text summary.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, data []byte, mimeType string) (string, error)
}

const (
	defaultMaxInputChars = 60000
	defaultMaxTokens     = 512
)

const systemPrompt = "You summarize documents from a user's file drive for a chat message. " +
	"Reply with a concise plain-text summary of at most five sentences. " +
	"No markdown headings, no preamble."

// prepareInput decodes data as text and trims it to maxChars runes.
func prepareInput(data []byte, mimeType string, maxChars int) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content of type %q is not text", mimeType)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("document is empty")
	}
	if maxChars <= 0 {
		maxChars = defaultMaxInputChars
	}
	if utf8.RuneCountInString(text) > maxChars {
		runes := []rune(text)
		text = string(runes[:maxChars]) + "\n[document truncated]"
	}
	return text, nil
}

func userPrompt(text, mimeType string) string {
	return fmt.Sprintf("Document (%s):\n\n%s", mimeType, text)
}
