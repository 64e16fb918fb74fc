package hosting

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

type Kind string

const (
	KindNetwork   Kind = "network"
	KindRejected  Kind = "rejected"
	KindMalformed Kind = "malformed"
)

var (
	ErrNetwork   = errors.New("hosting: network error")
	ErrRejected  = errors.New("hosting: rejected")
	ErrMalformed = errors.New("hosting: malformed response")
)

// Error is a classified hosting failure.
type Error struct {
	Kind   Kind
	Op     string
	Status int    // HTTP status, 0 when no response was received
	Msg    string // provider message or response body excerpt
	Err    error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		s += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// KindOf returns the failure class of err for logs and metrics.
func KindOf(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return string(he.Kind)
	}
	return "other"
}

func networkErr(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func rejectedErr(op string, status int, msg string) *Error {
	return &Error{Kind: KindRejected, Op: op, Status: status, Msg: excerpt(msg)}
}

func malformedErr(op string, status int, msg string, err error) *Error {
	return &Error{Kind: KindMalformed, Op: op, Status: status, Msg: excerpt(msg), Err: err}
}

func excerpt(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
