package status

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of outcomes a command may end with.
type Kind int

const (
	Success Kind = iota
	PartialSuccess
	Info
	Canceled
	PermissionError
	ArgumentError
	UsageError
	CooldownError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial_success"
	case Info:
		return "info"
	case Canceled:
		return "canceled"
	case PermissionError:
		return "permission_error"
	case ArgumentError:
		return "argument_error"
	case UsageError:
		return "usage_error"
	case CooldownError:
		return "cooldown_error"
	default:
		return "unknown"
	}
}

// Glyph is the reaction left on the invoking message.
func (k Kind) Glyph() string {
	switch k {
	case Success:
		return "✅"
	case PartialSuccess:
		return "⚠️"
	case Info:
		return "ℹ️"
	case Canceled:
		return "🚫"
	case CooldownError:
		return "⏳"
	default:
		return "❌"
	}
}

// Error is a terminal, user-facing failure. Anything that is not an *Error is
// treated as an internal failure by the dispatch pipeline.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Permission(format string, args ...any) error {
	return New(PermissionError, fmt.Sprintf(format, args...))
}

func Argument(format string, args ...any) error {
	return New(ArgumentError, fmt.Sprintf(format, args...))
}

func Usage(format string, args ...any) error {
	return New(UsageError, fmt.Sprintf(format, args...))
}

func Cooldown(format string, args ...any) error {
	return New(CooldownError, fmt.Sprintf(format, args...))
}

func Cancel(message string) error {
	return New(Canceled, message)
}

// KindOf reports the status kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given status kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Result is a non-error completion with something to show the caller.
type Result struct {
	Kind    Kind
	Title   string
	Body    string
	Details []string
}

func Done(title, body string) Result {
	return Result{Kind: Success, Title: title, Body: body}
}

func Note(title, body string) Result {
	return Result{Kind: Info, Title: title, Body: body}
}
