package summarizer

import (
	"context"
	"fmt"

	"github.com/sipeed/driveclaw/pkg/config"
)

// CreateSummarizer builds the backend named by cfg.Summarizer.Provider.
func CreateSummarizer(ctx context.Context, cfg *config.Config) (Summarizer, error) {
	sc := cfg.Summarizer
	switch sc.Provider {
	case config.SummarizerAnthropic:
		if sc.APIKey == "" {
			return nil, fmt.Errorf("anthropic summarizer requires an API key")
		}
		return NewAnthropicSummarizer(sc.APIKey, sc.APIBase, sc.Model), nil
	case config.SummarizerOpenAI:
		if sc.APIKey == "" {
			return nil, fmt.Errorf("openai summarizer requires an API key")
		}
		return NewOpenAISummarizer(sc.APIKey, sc.APIBase, sc.Model), nil
	case config.SummarizerGemini:
		return NewGeminiSummarizer(ctx, sc.APIKey, sc.Model)
	case config.SummarizerExtractive, "":
		return NewExtractiveSummarizer(sc.MaxSentences), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", sc.Provider)
	}
}
