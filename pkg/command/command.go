// Package command defines the text command grammar and its typed commands.
package command

import (
	"fmt"

	"github.com/samber/mo"
)

// Op tags a command variant. It is also the audit record's operation field.
type Op string

const (
	OpList    Op = "LIST"
	OpDelete  Op = "DELETE"
	OpMove    Op = "MOVE"
	OpSummary Op = "SUMMARY"
	OpHelp    Op = "HELP"
	OpUnknown Op = "UNKNOWN"
)

// DefaultConfirmKeyword is the trailing token that confirms a DELETE.
const DefaultConfirmKeyword = "CONFIRM"

type Command interface {
	Op() Op
	// Target is the primary path the command acts on, if any.
	Target() mo.Option[string]
}

type List struct {
	Path string
}

type Delete struct {
	Path      string
	Confirmed bool
}

type Move struct {
	Source      string
	Destination string
}

type Summary struct {
	Path string
}

type Help struct {
	Topic mo.Option[string]
}

func (List) Op() Op    { return OpList }
func (Delete) Op() Op  { return OpDelete }
func (Move) Op() Op    { return OpMove }
func (Summary) Op() Op { return OpSummary }
func (Help) Op() Op    { return OpHelp }

func (c List) Target() mo.Option[string]    { return mo.Some(c.Path) }
func (c Delete) Target() mo.Option[string]  { return mo.Some(c.Path) }
func (c Move) Target() mo.Option[string]    { return mo.Some(c.Source) }
func (c Summary) Target() mo.Option[string] { return mo.Some(c.Path) }
func (Help) Target() mo.Option[string]      { return mo.None[string]() }

// ParseError describes input that does not match the grammar. Verb is the
// recognized verb token, empty when none could be recovered.
type ParseError struct {
	Reason   string
	RawInput string
	Verb     string
}

func (e *ParseError) Error() string {
	if e.Verb != "" {
		return fmt.Sprintf("%s: %s", e.Verb, e.Reason)
	}
	return e.Reason
}
