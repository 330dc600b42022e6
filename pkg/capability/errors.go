package capability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Kind classifies a backend failure.
type Kind string

const (
	KindTransient   Kind = "transient"
	KindPermission  Kind = "permission"
	KindUnavailable Kind = "unavailable"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// NotFoundError reports the path a backend could not find.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found", e.Path)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NotFound(path string) error {
	return &NotFoundError{Path: path}
}

// Error is a classified backend failure. Op names the capability call
// ("drive.list", "summarizer.summarize").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Permission(op string, err error) error {
	return &Error{Kind: KindPermission, Op: op, Err: err}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// KindOf returns the classification of err. Errors that were never
// classified by a backend are inspected for timeouts, network resets and
// permission failures; everything else is unavailable.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}
	if errors.Is(err, os.ErrPermission) {
		return KindPermission
	}
	return KindUnavailable
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable reports whether err is worth the single immediate retry.
// Not-found and conflict answers are definitive.
func IsRetryable(err error) bool {
	if err == nil || IsNotFound(err) || IsConflict(err) {
		return false
	}
	return KindOf(err) == KindTransient
}

// ClassifyHTTPStatus maps an HTTP status code from a provider API. Callers
// that can attribute a 404 to a path should check for it first.
func ClassifyHTTPStatus(op string, status int, err error) error {
	switch {
	case status == 401 || status == 403:
		return Permission(op, err)
	case status == 408 || status == 429 || status >= 500:
		return Transient(op, err)
	default:
		return Unavailable(op, err)
	}
}
