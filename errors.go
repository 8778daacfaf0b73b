package gemini

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// Errors reported by the client. Every failure returned by Client.Do and
// ReadResponse is an *Error whose Kind is one of these, so callers can
// branch with errors.Is.
var (
	ErrInvalidRequest      = errors.New("gemini: invalid request")
	ErrConnectionFailed    = errors.New("gemini: connection failed")
	ErrTimeout             = errors.New("gemini: timeout")
	ErrTrustRejected       = errors.New("gemini: certificate not trusted")
	ErrHandshakeFailed     = errors.New("gemini: handshake failed")
	ErrCertificateRequired = errors.New("gemini: certificate required")
	ErrSendFailed          = errors.New("gemini: send failed")
	ErrMalformedResponse   = errors.New("gemini: malformed response")
)

// ErrBodyClosed is returned by reads from a response body after Close.
var ErrBodyClosed = errors.New("gemini: read on closed response body")

// Errors reported by the server side.
var (
	ErrHeaderWritten  = errors.New("gemini: status has been sent already")
	ErrHeaderMissing  = errors.New("gemini: status message is not written")
	ErrBodyNotAllowed = errors.New("gemini: response status code does not allow for body")
	ErrLineTooLong    = errors.New("gemini: line exceeds 1024 bytes")
)

// Error is a classified failure. Kind is one of the Err* sentinels above,
// Reason is a short description and Err the underlying cause, if any.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Retryable reports whether repeating the same request on a new
// connection may succeed. Trust rejections and invalid requests need a
// change of input or an explicit trust decision first.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrTrustRejected):
		return false
	case errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrHandshakeFailed),
		errors.Is(err, ErrCertificateRequired),
		errors.Is(err, ErrSendFailed),
		errors.Is(err, ErrMalformedResponse):
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isCertificateAlert reports whether err carries a TLS alert sent by the
// peer about our client certificate. TLS 1.3 servers reject a client
// certificate after the client considers the handshake complete, so the
// alert may surface on the first read as well as during the handshake.
func isCertificateAlert(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "remote error: tls:") {
		return false
	}
	for _, alert := range []string{
		"certificate required",
		"bad certificate",
		"unknown certificate",
		"unsupported certificate",
		"certificate revoked",
		"certificate expired",
		"unknown certificate authority",
	} {
		if strings.Contains(msg, alert) {
			return true
		}
	}
	return false
}

// classifyIO maps an I/O error to the taxonomy. def is used when the
// error is neither a timeout nor a certificate alert.
func classifyIO(err error, reason string, def error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	switch {
	case isTimeout(err):
		return newError(ErrTimeout, reason, err)
	case isCertificateAlert(err):
		return newError(ErrCertificateRequired, reason, err)
	}
	return newError(def, reason, err)
}
