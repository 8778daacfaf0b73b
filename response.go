package gemini

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"unicode/utf8"
)

// Response represents the response from a Gemini request.
//
// The Client returns Responses from servers once the response header
// has been received. The response body is streamed on demand as the
// Body field is read.
type Response struct {
	StatusCode StatusCode // e.g. 20

	// Meta is the text supplied after the status code: a prompt for
	// input, a MIME type on success, a URL on redirect and an error
	// detail otherwise.
	Meta string

	// MediaType and Params are parsed from Meta on success.
	MediaType string
	Params    map[string]string

	// Body represents the response body.
	//
	// Only success responses have a body; every other response carries
	// NoBody and its connection is already closed. The body has no
	// length framing, it ends when the server closes the connection.
	// It is the caller's responsibility to close Body. Closing it
	// early releases the connection without draining it.
	Body io.ReadCloser

	// Request is the request that was sent to obtain this Response.
	// This is only populated for Client requests.
	Request *Request

	// TLS contains information about the TLS connection on which the
	// response was received. The pointer is shared between responses
	// and should not be modified.
	TLS *tls.ConnectionState
}

// ReadResponse reads a response header from r. On success the remaining
// bytes of r become the Body; r is read one byte at a time so nothing
// past the header is consumed. If r is an io.ReadCloser it is used as
// the body directly and closing the body closes r.
func ReadResponse(r io.Reader) (*Response, error) {
	line, err := readLine(r, MaxLineLength)
	if err != nil {
		switch {
		case errors.Is(err, ErrLineTooLong):
			return nil, newError(ErrMalformedResponse, "header not terminated within 1024 bytes", nil)
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, newError(ErrMalformedResponse, "connection closed before end of header", err)
		}
		return nil, classifyIO(err, "reading header", ErrConnectionFailed)
	}
	status, meta, err := parseHeader(line)
	if err != nil {
		return nil, err
	}
	res := &Response{
		StatusCode: status,
		Meta:       meta,
		Body:       NoBody,
	}
	if !status.HasBody() {
		return res, nil
	}
	if meta == "" {
		meta = DefaultMediaType
	}
	res.MediaType, res.Params, err = mime.ParseMediaType(meta)
	if err != nil {
		return nil, newError(ErrMalformedResponse, fmt.Sprintf("bad media type %q", meta), err)
	}
	if rc, ok := r.(io.ReadCloser); ok {
		res.Body = rc
	} else {
		res.Body = io.NopCloser(r)
	}
	return res, nil
}

func parseHeader(line []byte) (StatusCode, string, error) {
	malformed := func(reason string) error {
		return newError(ErrMalformedResponse, reason, nil)
	}
	if len(line) < 2 {
		return 0, "", malformed(fmt.Sprintf("header %q too short", line))
	}
	d1, d2 := line[0], line[1]
	if d1 < '0' || d1 > '9' || d2 < '0' || d2 > '9' {
		return 0, "", malformed(fmt.Sprintf("invalid status %q", line[:2]))
	}
	status := StatusCode(int(d1-'0')*10 + int(d2-'0'))
	if !status.Valid() {
		return 0, "", malformed(fmt.Sprintf("status %d out of range", int(status)))
	}
	var meta []byte
	if len(line) > 2 {
		if line[2] != ' ' {
			return 0, "", malformed("missing space after status")
		}
		meta = line[3:]
	}
	if !utf8.Valid(meta) {
		return 0, "", malformed("meta is not valid UTF-8")
	}
	if bytes.HasPrefix(meta, []byte("\ufeff")) {
		return 0, "", malformed("meta starts with a byte order mark")
	}
	if status.Class() == ClassRedirect && len(meta) == 0 {
		return 0, "", malformed("redirect without target")
	}
	return status, string(meta), nil
}

// readLine reads up to and including the first CRLF and returns the line
// without it. max bounds the line length, CRLF included.
func readLine(r io.Reader, max int) ([]byte, error) {
	line := make([]byte, 0, 64)
	br, ok := r.(io.ByteReader)
	// A small buffer is inefficient but the maximum length of the header is small so it's okay
	buf := make([]byte, 1)
	for {
		var c byte
		var err error
		if ok {
			c, err = br.ReadByte()
		} else {
			var n int
			n, err = r.Read(buf)
			if n == 1 {
				c, err = buf[0], nil
			} else if err == nil {
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = append(line, c)
		if bytes.HasSuffix(line, crlf) {
			return line[:len(line)-len(crlf)], nil
		}
		if len(line) >= max {
			return nil, ErrLineTooLong
		}
	}
}

// Class returns the status class of the response.
func (r *Response) Class() Class {
	return r.StatusCode.Class()
}

// IsGemtext reports whether a success response carries a gemtext body.
func (r *Response) IsGemtext() bool {
	return r.StatusCode.HasBody() && r.MediaType == "text/gemini"
}

// Prompt returns the input prompt of a 1x response and whether the input
// is sensitive.
func (r *Response) Prompt() (prompt string, sensitive bool, ok bool) {
	if r.Class() != ClassInput {
		return "", false, false
	}
	return r.Meta, r.StatusCode.Sensitive(), true
}

// RedirectURL resolves the target of a 3x response against the request
// URL. Following it is left to the caller.
func (r *Response) RedirectURL() (*url.URL, error) {
	if r.Class() != ClassRedirect {
		return nil, fmt.Errorf("gemini: status %d is not a redirect", int(r.StatusCode))
	}
	target, err := url.Parse(r.Meta)
	if err != nil {
		return nil, newError(ErrMalformedResponse, fmt.Sprintf("bad redirect target %q", r.Meta), err)
	}
	if r.Request == nil {
		return target, nil
	}
	return r.Request.URL.ResolveReference(target), nil
}

// Close closes the response body and the connection it streams from.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}
