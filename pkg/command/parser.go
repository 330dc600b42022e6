package command

import (
	"strings"
	"unicode"

	"github.com/samber/mo"
)

const (
	ReasonEmpty           = "empty message"
	ReasonUnknownCommand  = "unknown command"
	ReasonMissingPath     = "missing path"
	ReasonMissingSource   = "missing source"
	ReasonMissingDest     = "missing destination"
	ReasonUnexpectedArg   = "unexpected argument"
	ReasonUnterminated    = "unterminated quote"
	reasonPathNotAbsolute = "path must start with /"
)

// Parser turns one message into one Command. The zero value uses
// DefaultConfirmKeyword. Parse is pure: it never touches a capability.
type Parser struct {
	ConfirmKeyword string
}

func NewParser(confirmKeyword string) Parser {
	return Parser{ConfirmKeyword: confirmKeyword}
}

// Parse parses raw with the default confirmation keyword.
func Parse(raw string) (Command, error) {
	return Parser{}.Parse(raw)
}

func (p Parser) keyword() string {
	if kw := strings.TrimSpace(p.ConfirmKeyword); kw != "" {
		return kw
	}
	return DefaultConfirmKeyword
}

type token struct {
	text   string
	quoted bool
}

func (p Parser) Parse(raw string) (Command, error) {
	tokens, ok := tokenize(raw)
	if !ok {
		return nil, &ParseError{Reason: ReasonUnterminated, RawInput: raw}
	}
	if len(tokens) == 0 {
		return nil, &ParseError{Reason: ReasonEmpty, RawInput: raw}
	}

	verb := normalizeVerb(tokens[0].text)
	args := tokens[1:]
	fail := func(reason string) (Command, error) {
		return nil, &ParseError{Reason: reason, RawInput: raw, Verb: verb}
	}

	switch Op(verb) {
	case OpHelp:
		if len(args) == 0 {
			return Help{Topic: mo.None[string]()}, nil
		}
		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, a.text)
		}
		return Help{Topic: mo.Some(strings.ToLower(strings.Join(parts, " ")))}, nil

	case OpList, OpSummary:
		if len(args) == 0 {
			return fail(ReasonMissingPath)
		}
		if len(args) > 1 {
			return fail(ReasonUnexpectedArg + ": " + args[1].text)
		}
		path, reason := checkPath(args[0].text)
		if reason != "" {
			return fail(reason)
		}
		if Op(verb) == OpList {
			return List{Path: path}, nil
		}
		return Summary{Path: path}, nil

	case OpDelete:
		if len(args) == 0 {
			return fail(ReasonMissingPath)
		}
		confirmed := false
		last := args[len(args)-1]
		if len(args) > 1 && !last.quoted && last.text == p.keyword() {
			confirmed = true
			args = args[:len(args)-1]
		}
		if len(args) > 1 {
			return fail(ReasonUnexpectedArg + ": " + args[1].text + " (to confirm, end the command with " + p.keyword() + ")")
		}
		path, reason := checkPath(args[0].text)
		if reason != "" {
			return fail(reason)
		}
		return Delete{Path: path, Confirmed: confirmed}, nil

	case OpMove:
		switch len(args) {
		case 0:
			return fail(ReasonMissingSource)
		case 1:
			return fail(ReasonMissingDest)
		case 2:
		default:
			return fail(ReasonUnexpectedArg + ": " + args[2].text)
		}
		src, reason := checkPath(args[0].text)
		if reason != "" {
			return fail(reason)
		}
		dst, reason := checkPath(args[1].text)
		if reason != "" {
			return fail(reason)
		}
		return Move{Source: src, Destination: dst}, nil
	}

	return nil, &ParseError{Reason: ReasonUnknownCommand, RawInput: raw, Verb: verb}
}

// normalizeVerb upper-cases the verb and strips chat-bot decoration:
// "/list@drive_bot" becomes "LIST".
func normalizeVerb(v string) string {
	v = strings.TrimPrefix(v, "/")
	if i := strings.IndexByte(v, '@'); i > 0 {
		v = v[:i]
	}
	return strings.ToUpper(v)
}

func checkPath(p string) (string, string) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ReasonMissingPath
	}
	if !strings.HasPrefix(p, "/") {
		return "", reasonPathNotAbsolute + ": " + p
	}
	return p, ""
}

// tokenize splits on whitespace. A token that starts with a double quote
// runs to the matching quote and may contain spaces.
func tokenize(s string) ([]token, bool) {
	var tokens []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		if runes[i] == '"' {
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '"' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, false
			}
			tokens = append(tokens, token{text: string(runes[i+1 : end]), quoted: true})
			i = end + 1
			continue
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		tokens = append(tokens, token{text: string(runes[start:i])})
	}
	return tokens, true
}
