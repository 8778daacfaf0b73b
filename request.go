package gemini

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// NoBody is an io.ReadCloser with no bytes. Read always returns EOF
// and Close always returns nil. Responses without a body carry NoBody.
var NoBody = noBody{}

type noBody struct{}

func (noBody) Read([]byte) (int, error)         { return 0, io.EOF }
func (noBody) Close() error                     { return nil }
func (noBody) WriteTo(io.Writer) (int64, error) { return 0, nil }

var (
	// verify that an io.Copy from NoBody won't require a buffer:
	_ io.WriterTo   = NoBody
	_ io.ReadCloser = NoBody
)

var crlf = []byte("\r\n")

// Request is a validated Gemini request. It is immutable once built.
type Request struct {
	// URL is the parsed request target. Its Path is "/" when the raw
	// URL had none. Do not modify it; the wire form is kept separately.
	URL *url.URL

	raw  string
	ctx  context.Context
	conn *tls.Conn
}

// NewRequest validates rawurl and returns a request for it.
func NewRequest(rawurl string) (*Request, error) {
	return NewRequestWithContext(context.Background(), rawurl)
}

// NewRequestWithContext returns a new Request for the given URL.
//
// The URL must use the gemini scheme, name a host, carry no user info,
// contain no control characters and fit, with the trailing CRLF, in
// 1024 bytes. The URL text is sent exactly as given.
//
// For an outgoing client request, the context controls the entire
// lifetime of a request and its response: obtaining a connection,
// sending the request, and reading the response header and body.
func NewRequestWithContext(ctx context.Context, rawurl string) (*Request, error) {
	if ctx == nil {
		return nil, newError(ErrInvalidRequest, "nil context", nil)
	}
	u, err := validateURL(rawurl)
	if err != nil {
		return nil, err
	}
	return &Request{URL: u, raw: rawurl, ctx: ctx}, nil
}

// ParseRequest parses a request line as read from the wire, with or
// without the trailing CRLF.
func ParseRequest(line string) (*Request, error) {
	return NewRequest(strings.TrimSuffix(line, "\r\n"))
}

func validateURL(rawurl string) (*url.URL, error) {
	invalid := func(reason string, err error) error {
		return newError(ErrInvalidRequest, reason, err)
	}
	if rawurl == "" {
		return nil, invalid("empty URL", nil)
	}
	if len(rawurl)+len(crlf) > MaxLineLength {
		return nil, invalid(fmt.Sprintf("request is %d bytes, limit is %d", len(rawurl)+len(crlf), MaxLineLength), nil)
	}
	if !utf8.ValidString(rawurl) {
		return nil, invalid("URL is not valid UTF-8", nil)
	}
	if strings.HasPrefix(rawurl, "\ufeff") {
		return nil, invalid("URL starts with a byte order mark", nil)
	}
	for i := 0; i < len(rawurl); i++ {
		if c := rawurl[i]; c < 0x20 || c == 0x7f {
			return nil, invalid(fmt.Sprintf("disallowed byte %#02x at offset %d", c, i), nil)
		}
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, invalid("malformed URL", err)
	}
	if u.Scheme != SchemaGemini {
		return nil, invalid(fmt.Sprintf("bad scheme %q", u.Scheme), nil)
	}
	if u.User != nil {
		return nil, invalid("URL carries user info", nil)
	}
	if u.Hostname() == "" {
		return nil, invalid("malformed host", nil)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, invalid(fmt.Sprintf("malformed port %q", p), err)
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Hostname returns the request host without port.
func (r *Request) Hostname() string {
	return strings.ToLower(r.URL.Hostname())
}

// Port returns the request port, DefaultPort when the URL names none.
func (r *Request) Port() string {
	if p := r.URL.Port(); p != "" {
		return p
	}
	return DefaultPort
}

// Addr returns the host:port to dial.
func (r *Request) Addr() string {
	return net.JoinHostPort(r.Hostname(), r.Port())
}

// String returns the URL exactly as it is sent.
func (r *Request) String() string {
	return r.raw
}

// Bytes returns the request line as sent on the wire.
func (r *Request) Bytes() []byte {
	b := make([]byte, 0, len(r.raw)+len(crlf))
	b = append(b, r.raw...)
	return append(b, crlf...)
}

// WriteTo writes the request line to w.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}

// Certificate returns the client certificate presented with a request
// received by a Server, or nil.
func (r *Request) Certificate() *x509.Certificate {
	if r.conn == nil {
		return nil
	}
	if certs := r.conn.ConnectionState().PeerCertificates; len(certs) > 0 {
		return certs[0]
	}
	return nil
}

func dateToStr(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 36)
}

// UserName describes the client certificate of a server request:
// common name, serial number, and validity bounds in base 36.
func (r *Request) UserName() []string {
	cert := r.Certificate()
	if cert == nil {
		return []string{""}
	}
	return []string{cert.Subject.CommonName, cert.SerialNumber.String(), dateToStr(cert.NotBefore), dateToStr(cert.NotAfter)}
}

// Context returns the request's context. To change the context, use
// WithContext.
//
// The returned context is always non-nil; it defaults to the
// background context.
//
// For outgoing client requests, the context controls cancellation.
//
// For incoming server requests, the context is canceled when the
// ServeGemini method returns.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of r with its context changed
// to ctx. The provided ctx must be non-nil.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("nil context")
	}
	r2 := new(Request)
	*r2 = *r
	r2.ctx = ctx
	return r2
}

// WithQuery returns a new request for the same URL with its query
// replaced by the escaped input, as expected after an input status.
func (r *Request) WithQuery(input string) (*Request, error) {
	u := *r.URL
	u.RawQuery = strings.ReplaceAll(url.QueryEscape(input), "+", "%20")
	u.ForceQuery = false
	return NewRequestWithContext(r.Context(), u.String())
}
