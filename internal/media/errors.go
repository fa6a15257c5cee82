package media

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed request.
type ErrorKind int

const (
	DownloadFailed ErrorKind = iota
	BadRequest
	ExtractionFailed
	NotFound
	RateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case ExtractionFailed:
		return "extraction_failed"
	case DownloadFailed:
		return "download_failed"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is a failure tagged with its kind. Msg is what the caller sees;
// Err is the underlying cause, if any.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind ErrorKind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err. Untagged errors count as DownloadFailed.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return DownloadFailed
}
