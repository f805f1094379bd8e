// Package errors carries classified errors from the proxy core up to the
// control surface, where each Kind maps to a response code and an HTTP status.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error by the layer that produced it.
type Kind int

const (
	KindGeneric Kind = iota
	KindNetwork
	KindSocks5
	KindForbidden
	KindIo
	KindParse
	KindNotFound
)

var kindNames = map[Kind]string{
	KindGeneric:   "generic",
	KindNetwork:   "network",
	KindSocks5:    "socks5",
	KindForbidden: "forbidden",
	KindIo:        "io",
	KindParse:     "parse",
	KindNotFound:  "not found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Code is the numeric discriminant reported in response envelopes.
func (k Kind) Code() int {
	switch k {
	case KindNotFound:
		return -2
	case KindNetwork:
		return -3
	case KindIo:
		return -7
	case KindParse:
		return -9
	case KindSocks5:
		return -13
	case KindForbidden:
		return -14
	default:
		return -16
	}
}

// Status is the HTTP status the control surface answers with.
func (k Kind) Status() int {
	switch k {
	case KindNetwork, KindSocks5:
		return http.StatusBadGateway
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindParse:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type hasInnerError interface {
	// Unwrap returns the underlying error of this one.
	Unwrap() error
}

// Error is an error object with underlying error.
type Error struct {
	kind    Kind
	message []interface{}
	inner   error
}

// Error implements error.Error().
func (err *Error) Error() string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprint(err.message...))
	if err.inner != nil {
		if builder.Len() > 0 {
			builder.WriteString(" > ")
		}
		builder.WriteString(err.inner.Error())
	}
	return builder.String()
}

// Unwrap implements hasInnerError.Unwrap()
func (err *Error) Unwrap() error {
	return err.inner
}

func (err *Error) Base(e error) *Error {
	err.inner = e
	return err
}

func (err *Error) Kind() Kind {
	return err.kind
}

// String returns the string representation of this error.
func (err *Error) String() string {
	return err.Error()
}

// New returns a new error object with message formed from given arguments.
func New(kind Kind, msg ...interface{}) *Error {
	return &Error{
		kind:    kind,
		message: msg,
	}
}

func Network(msg ...interface{}) *Error   { return New(KindNetwork, msg...) }
func Socks5(msg ...interface{}) *Error    { return New(KindSocks5, msg...) }
func Forbidden(msg ...interface{}) *Error { return New(KindForbidden, msg...) }
func Io(msg ...interface{}) *Error        { return New(KindIo, msg...) }
func Parse(msg ...interface{}) *Error     { return New(KindParse, msg...) }
func NotFound(msg ...interface{}) *Error  { return New(KindNotFound, msg...) }

// KindOf returns the outermost Kind in err's chain, KindGeneric if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.kind
	}
	return KindGeneric
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Cause returns the root cause of this error.
func Cause(err error) error {
	if err == nil {
		return nil
	}
L:
	for {
		switch inner := err.(type) {
		case hasInnerError:
			if inner.Unwrap() == nil {
				break L
			}
			err = inner.Unwrap()
		default:
			break L
		}
	}
	return err
}
