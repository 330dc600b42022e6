package summarizer

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/sipeed/driveclaw/pkg/capability"
)

// ExtractiveSummarizer picks the highest scoring sentences of a document
// without calling any model. Sentences are scored by the frequency of their
// content words and returned in document order.
type ExtractiveSummarizer struct {
	maxSentences int
}

func NewExtractiveSummarizer(maxSentences int) *ExtractiveSummarizer {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &ExtractiveSummarizer{maxSentences: maxSentences}
}

func (s *ExtractiveSummarizer) Name() string {
	return "extractive"
}

func (s *ExtractiveSummarizer) Summarize(ctx context.Context, data []byte, mimeType string) (string, error) {
	text, err := prepareInput(data, mimeType, defaultMaxInputChars)
	if err != nil {
		return "", capability.Unavailable("summarizer.summarize", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sentences := splitSentences(text)
	if len(sentences) <= s.maxSentences {
		return strings.Join(sentences, " "), nil
	}

	freq := make(map[string]int)
	for _, sentence := range sentences {
		for _, w := range words(sentence) {
			freq[w]++
		}
	}

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sentence := range sentences {
		ws := words(sentence)
		total := 0
		for _, w := range ws {
			total += freq[w]
		}
		score := 0.0
		if len(ws) > 0 {
			score = float64(total) / float64(len(ws))
		}
		// Leading sentences usually carry the topic.
		if i == 0 {
			score *= 1.5
		}
		ranked[i] = scored{index: i, score: score}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	picked := ranked[:s.maxSentences]
	sort.Slice(picked, func(a, b int) bool {
		return picked[a].index < picked[b].index
	})

	out := make([]string, 0, len(picked))
	for _, p := range picked {
		out = append(out, sentences[p.index])
	}
	return strings.Join(out, " "), nil
}

func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		s := strings.Join(strings.Fields(current.String()), " ")
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		switch {
		case r == '.' || r == '!' || r == '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		case r == '\n' && i+1 < len(runes) && runes[i+1] == '\n':
			flush()
		}
	}
	flush()
	return sentences
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {},
}

func words(sentence string) []string {
	fields := strings.FieldsFunc(strings.ToLower(sentence), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop || len(f) < 3 {
			continue
		}
		out = append(out, f)
	}
	return out
}
