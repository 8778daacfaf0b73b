package gemini

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knowfox/gemini/v2/tofu"
	"github.com/rs/zerolog"
)

// Client sends Gemini requests. Each request uses its own connection;
// nothing is retried and redirects are returned to the caller rather
// than followed.
//
// The zero value rejects every server certificate: set TrustStore, or
// InsecureSkipVerify for tests.
type Client struct {
	// TrustStore decides whether the server certificate is trusted. The
	// certificate chain itself is never verified against authorities.
	TrustStore *tofu.Store

	// Identities selects the client certificate presented for a request.
	// May be nil.
	Identities *IdentityStore

	// InsecureSkipVerify accepts any server certificate without
	// consulting TrustStore. In this mode, TLS is susceptible to
	// machine-in-the-middle attacks; use it for testing only.
	InsecureSkipVerify bool

	// ConnectTimeout bounds establishing the TCP connection,
	// HandshakeTimeout the TLS handshake including the trust decision,
	// and ReadTimeout every single read or write once connected. Zero
	// means no limit beyond the request context.
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration

	Logger zerolog.Logger
}

// Fetch a resource from a Gemini server with the given URL
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := NewRequestWithContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req and reads the response header. For success responses the
// caller must close the response Body; for every other status the
// connection is already closed.
func (c *Client) Do(req *Request) (*Response, error) {
	if req == nil {
		return nil, newError(ErrInvalidRequest, "nil request", nil)
	}
	ctx := req.Context()
	log := c.Logger.With().Str("url", req.String()).Logger()

	conn, err := c.dial(ctx, req)
	if err != nil {
		log.Debug().Err(err).Msg("dial failed")
		return nil, err
	}
	tlsConn, err := c.handshake(ctx, conn, req, log)
	if err != nil {
		conn.Close()
		log.Debug().Err(err).Msg("handshake failed")
		return nil, err
	}

	if c.ReadTimeout > 0 {
		_ = tlsConn.SetWriteDeadline(time.Now().Add(c.ReadTimeout))
	}
	if _, err := req.WriteTo(tlsConn); err != nil {
		tlsConn.Close()
		return nil, contextError(ctx, classifyIO(err, "writing request", ErrSendFailed))
	}

	b := &body{
		ctx:     ctx,
		conn:    tlsConn,
		timeout: c.ReadTimeout,
		stop:    context.AfterFunc(ctx, func() { tlsConn.Close() }),
	}
	res, err := ReadResponse(b)
	if err != nil {
		b.Close()
		log.Debug().Err(err).Msg("reading response failed")
		return nil, contextError(ctx, err)
	}
	state := tlsConn.ConnectionState()
	res.Request = req
	res.TLS = &state
	if !res.StatusCode.HasBody() {
		b.Close()
	}
	log.Debug().Int("status", int(res.StatusCode)).Str("meta", res.Meta).Msg("response")
	return res, nil
}

func (c *Client) dial(ctx context.Context, req *Request) (net.Conn, error) {
	d := net.Dialer{Timeout: c.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", req.Addr())
	if err != nil {
		return nil, contextError(ctx, classifyIO(err, "dialing "+req.Addr(), ErrConnectionFailed))
	}
	return conn, nil
}

func (c *Client) handshake(ctx context.Context, conn net.Conn, req *Request, log zerolog.Logger) (*tls.Conn, error) {
	host := tofu.HostKey(req.Hostname(), req.Port())
	id := c.Identities.Select(req.Hostname(), req.URL.Path)
	if id != nil {
		log.Debug().Stringer("scope", id.Scope).Msg("presenting client certificate")
	}

	var trustErr error
	conf := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: req.Hostname(),
		// Chains are not verified against authorities; VerifyConnection
		// applies trust on first use instead.
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			trustErr = c.verify(host, cs, log)
			return trustErr
		},
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			if id == nil {
				return &tls.Certificate{}, nil
			}
			return &id.Certificate, nil
		},
	}

	hctx := ctx
	if c.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.HandshakeTimeout)
		defer cancel()
	}
	tlsConn := tls.Client(conn, conf)
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		if trustErr != nil {
			return nil, trustErr
		}
		return nil, contextError(ctx, classifyIO(err, "handshake with "+host, ErrHandshakeFailed))
	}
	return tlsConn, nil
}

func (c *Client) verify(host string, cs tls.ConnectionState, log zerolog.Logger) error {
	if c.InsecureSkipVerify {
		return nil
	}
	if len(cs.PeerCertificates) == 0 {
		return newError(ErrTrustRejected, "server presented no certificate", nil)
	}
	if c.TrustStore == nil {
		return newError(ErrTrustRejected, "no trust store configured", nil)
	}
	fp := tofu.FingerprintOf(cs.PeerCertificates[0])
	if err := c.TrustStore.Verify(host, fp); err != nil {
		if errors.Is(err, tofu.ErrRejected) {
			return newError(ErrTrustRejected, "", err)
		}
		return newError(ErrTrustRejected, "recording trust decision for "+host, err)
	}
	log.Debug().Str("host", host).Stringer("fingerprint", fp).Msg("certificate trusted")
	return nil
}

// contextError reports the context's cancellation instead of the I/O
// error it caused, when that is what happened.
func contextError(ctx context.Context, err error) error {
	cerr := ctx.Err()
	if cerr == nil {
		return err
	}
	var reason string
	var ge *Error
	if errors.As(err, &ge) {
		reason = ge.Reason
	}
	if errors.Is(cerr, context.DeadlineExceeded) {
		return newError(ErrTimeout, reason, cerr)
	}
	return newError(ErrConnectionFailed, reason, cerr)
}

// body streams the response from the connection. Every read is bounded
// by the idle timeout; closing it closes the connection. Reads after
// Close fail with ErrBodyClosed, even when plaintext is still buffered.
type body struct {
	ctx     context.Context
	conn    *tls.Conn
	timeout time.Duration
	stop    func() bool
	once    sync.Once
	closed  atomic.Bool
	err     error
}

func (b *body) Read(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, ErrBodyClosed
	}
	if b.timeout > 0 {
		_ = b.conn.SetReadDeadline(time.Now().Add(b.timeout))
	}
	n, err := b.conn.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = contextError(b.ctx, classifyIO(err, "reading response", ErrConnectionFailed))
	}
	return n, err
}

func (b *body) Close() error {
	b.once.Do(func() {
		b.closed.Store(true)
		b.stop()
		b.err = b.conn.Close()
	})
	return b.err
}
