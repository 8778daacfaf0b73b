// Package gemini implements a client and a small server for the Gemini
// protocol.
//
// Server certificates are verified with trust-on-first-use through the
// tofu package rather than certificate authorities. Response bodies are
// streamed; gemtext bodies can be fed to the gemtext package line by line.
package gemini

import (
	"fmt"
	"strconv"
)

// StatusCode is a two digit Gemini response status.
type StatusCode int

// SchemaGemini is the only URI scheme requests are built for.
const SchemaGemini = "gemini"

// DefaultPort is used when a request URL does not name a port.
const DefaultPort = "1965"

// MaxLineLength bounds both the request line and the response header,
// CRLF included.
const MaxLineLength = 1024

// DefaultMediaType is assumed for success responses with empty meta.
const DefaultMediaType = "text/gemini; charset=utf-8"

// Provides status codes.
const (
	StatusPlainInput        StatusCode = 10
	StatusSensitiveInput    StatusCode = 11
	StatusSuccess           StatusCode = 20
	StatusTemporaryRedirect StatusCode = 30
	StatusPermanentRedirect StatusCode = 31
	StatusUnspecified       StatusCode = 40
	StatusServerUnavailable StatusCode = 41
	StatusCGIError          StatusCode = 42
	StatusProxyError        StatusCode = 43
	StatusSlowDown          StatusCode = 44
	StatusGeneralPermFail   StatusCode = 50
	StatusNotFound          StatusCode = 51
	StatusGone              StatusCode = 52
	StatusProxyRefused      StatusCode = 53
	StatusBadRequest        StatusCode = 59
	StatusCertRequired      StatusCode = 60
	StatusCertNotAuthorized StatusCode = 61
	StatusCertNotValid      StatusCode = 62
)

var statusText = map[StatusCode]string{
	StatusPlainInput:        "Input",
	StatusSensitiveInput:    "Sensitive Input",
	StatusSuccess:           "Success",
	StatusTemporaryRedirect: "Temporary Redirect",
	StatusPermanentRedirect: "Permanent Redirect",
	StatusUnspecified:       "Temporary Failure",
	StatusServerUnavailable: "Server Unavailable",
	StatusCGIError:          "CGI Error",
	StatusProxyError:        "Proxy Error",
	StatusSlowDown:          "Slow Down",
	StatusGeneralPermFail:   "Permanent Failure",
	StatusNotFound:          "Not Found",
	StatusGone:              "Gone",
	StatusProxyRefused:      "Proxy Request Refused",
	StatusBadRequest:        "Bad Request",
	StatusCertRequired:      "Client Certificate Required",
	StatusCertNotAuthorized: "Certificate Not Authorized",
	StatusCertNotValid:      "Certificate Not Valid",
}

// Class groups status codes by their leading digit.
type Class int

const (
	ClassInput       Class = 1
	ClassSuccess     Class = 2
	ClassRedirect    Class = 3
	ClassTemporary   Class = 4
	ClassPermanent   Class = 5
	ClassCertificate Class = 6
)

func (c Class) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassSuccess:
		return "success"
	case ClassRedirect:
		return "redirect"
	case ClassTemporary:
		return "temporary failure"
	case ClassPermanent:
		return "permanent failure"
	case ClassCertificate:
		return "client certificate required"
	default:
		return "class(" + strconv.Itoa(int(c)) + ")"
	}
}

// Class returns the status class, i.e. the leading digit of the code.
func (s StatusCode) Class() Class {
	return Class(int(s) / 10)
}

// Valid reports whether s is a two digit code of a known class.
// Codes the protocol does not name, such as 25, are valid and must be
// handled according to their class.
func (s StatusCode) Valid() bool {
	return s >= 10 && s <= 69
}

// Sensitive reports whether an input prompt asks for secret input.
func (s StatusCode) Sensitive() bool {
	return s == StatusSensitiveInput
}

// HasBody reports whether a response with this status carries a body.
func (s StatusCode) HasBody() bool {
	return s.Class() == ClassSuccess
}

func (s StatusCode) String() string {
	if text, ok := statusText[s]; ok {
		return fmt.Sprintf("%d %s", int(s), text)
	}
	return fmt.Sprintf("%d %s", int(s), s.Class())
}

// SimplifyStatus simplify the response status by omiting the detailed second digit of the status code.
func SimplifyStatus(status int) int {
	return (status / 10) * 10
}

type ResponseWriter interface {
	WriteStatusMsg(status StatusCode, msg string) error
	WriteBody([]byte) (int, error)
}

// ServeGemini is the interface a struct need to implement to be able to handle Gemini requests
type Handler interface {
	ServeGemini(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

// ServeGemini calls f(w, r).
func (f HandlerFunc) ServeGemini(w ResponseWriter, r *Request) {
	f(w, r)
}
