package dispatch

import (
	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/drive"
)

// Outcome tags. They double as the audit record outcome field.
const (
	TagSuccess         = "Success"
	TagSafetyBlocked   = "SafetyBlocked"
	TagNotFound        = "NotFound"
	TagCapabilityError = "CapabilityError"
	TagValidationError = "ValidationError"
	TagParseError      = "ParseError"
	TagClientAbandoned = "ClientAbandoned"
)

// Outcome is the normalized result of one message.
type Outcome interface {
	Tag() string
}

type Success struct {
	Op            command.Op
	Path          string
	Text          string
	ItemsAffected int
	Entries       []drive.Entry
	Documents     []DocumentSummary
	Note          string
}

type SafetyBlocked struct {
	Command command.Delete
}

type NotFound struct {
	Op   command.Op
	Path string
}

// CapabilityError carries a generic Detail for the user. Cause keeps the raw
// backend error for the audit trail and logs only.
type CapabilityError struct {
	Op     command.Op
	Kind   capability.Kind
	Detail string
	Cause  error
}

type ValidationError struct {
	Op     command.Op
	Reason string
}

type ParseFailure struct {
	Err *command.ParseError
}

func (Success) Tag() string         { return TagSuccess }
func (SafetyBlocked) Tag() string   { return TagSafetyBlocked }
func (NotFound) Tag() string        { return TagNotFound }
func (CapabilityError) Tag() string { return TagCapabilityError }
func (ValidationError) Tag() string { return TagValidationError }
func (ParseFailure) Tag() string    { return TagParseError }

type DocStatus string

const (
	DocOK      DocStatus = "ok"
	DocFailed  DocStatus = "failed"
	DocSkipped DocStatus = "skipped"
)

// DocumentSummary is the per-document result of a SUMMARY command, kept in
// listing order.
type DocumentSummary struct {
	Name    string
	Path    string
	Summary string
	Status  DocStatus
	// Partial is set when only the beginning of the document could be read.
	Partial bool
	Kind    capability.Kind
	Detail  string
}

// ErrorText is the generic user-facing text for a failure kind.
func ErrorText(kind capability.Kind) string {
	switch kind {
	case capability.KindTransient:
		return "The storage service did not respond in time. Please try again shortly."
	case capability.KindPermission:
		return "Access was denied by the storage service."
	default:
		return "The service is unavailable right now."
	}
}
