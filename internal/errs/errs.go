// Package errs carries the build pipeline error taxonomy. Every error that
// crosses a package boundary is an *Error with a stable code so callers can
// decide between retrying, changing inputs or giving up.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	InvalidSpec              Kind = "E_INVALID_SPEC"
	ZoneViolation            Kind = "E_ZONE_VIOLATION"
	MaterialNotAllowed       Kind = "E_MATERIAL_NOT_ALLOWED"
	BudgetExceeded           Kind = "E_BUDGET_EXCEEDED"
	WorldUnavailable         Kind = "E_WORLD_UNAVAILABLE"
	Cancelled                Kind = "E_CANCELLED"
	VerificationInconclusive Kind = "E_VERIFY_INCONCLUSIVE"
	ExecFailed               Kind = "E_EXEC_FAILED"
)

var retryable = map[Kind]bool{
	BudgetExceeded:   true,
	WorldUnavailable: true,
}

type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind, so errors.Is(err, errs.New(kind, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == ""
	}
	return false
}

func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	e.Context[key] = value
	return e
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Has(err error, kind Kind) bool { return KindOf(err) == kind }

func IsRetryable(err error) bool { return retryable[KindOf(err)] }
