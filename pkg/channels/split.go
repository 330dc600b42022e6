package channels

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	telegramMaxRunes = 4096
	discordMaxRunes  = 2000
	slackMaxRunes    = 3900
)

// splitMessage cuts text into chunks of at most maxRunes runes, preferring
// line breaks and then spaces in the second half of each window.
func splitMessage(text string, maxRunes int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/maxRunes+1)
	for len(runes) > 0 {
		if len(runes) <= maxRunes {
			if chunk := strings.TrimSpace(string(runes)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		split := bestSplitIndex(runes, maxRunes)
		if chunk := strings.TrimSpace(string(runes[:split])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[split:]
	}
	return chunks
}

func bestSplitIndex(runes []rune, maxRunes int) int {
	if len(runes) <= maxRunes {
		return len(runes)
	}

	minSearch := maxRunes / 2
	for i := maxRunes; i >= minSearch; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := maxRunes; i >= minSearch; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\t' {
			return i
		}
	}
	return maxRunes
}

func runeCount(s string) int {
	return utf8.RuneCountInString(s)
}

var (
	slackMentionRe   = regexp.MustCompile(`<@[^>|]+(?:\|[^>]+)?>`)
	discordMentionRe = regexp.MustCompile(`<@!?[0-9]+>`)
)

// stripMentions removes Slack and Discord user mentions so a message like
// "@drivebot LIST /" parses as a command.
func stripMentions(text string) string {
	text = slackMentionRe.ReplaceAllString(text, "")
	text = discordMentionRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
