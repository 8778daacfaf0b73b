package gemini

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultReadTimeout is used when Server.ReadTimeout is zero.
const DefaultReadTimeout = 30 * time.Second

// maxAcceptDelay caps the backoff after failed accepts.
const maxAcceptDelay = time.Second

// Server accepts Gemini requests and passes them to Handler. It asks
// clients for a certificate but does not require one; handlers check
// Request.Certificate and answer with a 6x status when they need one.
type Server struct {
	Addr      string
	TLSConfig *tls.Config
	Handler   Handler

	// ReadTimeout bounds reading the request line. Zero means
	// DefaultReadTimeout; a negative value means no limit.
	ReadTimeout time.Duration

	Logger zerolog.Logger
}

// ListenAndServe create a TCP server on the specified address and pass
// new connections to the given handler.
// Each request is handled in a separate goroutine.
func ListenAndServe(addr, certFile, keyFile string, handler Handler) error {
	if addr == "" {
		addr = "127.0.0.1:1965"
	}
	cer, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificates: %w", err)
	}
	srv := &Server{
		Addr:      addr,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cer}},
		Handler:   handler,
		Logger:    log.Logger,
	}
	return srv.ListenAndServe()
}

// ListenAndServe listens on s.Addr and serves until the listener fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()
	return s.Serve(ln)
}

// Serve accepts connections on ln, wrapping them in TLS. It returns
// nil once ln is closed.
func (s *Server) Serve(ln net.Listener) error {
	if s.TLSConfig == nil || len(s.TLSConfig.Certificates) == 0 && s.TLSConfig.GetCertificate == nil {
		return errors.New("gemini: server has no certificate")
	}
	config := s.TLSConfig.Clone()
	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}
	if config.ClientAuth == tls.NoClientCert {
		config.ClientAuth = tls.RequestClientCert
	}
	listener := tls.NewListener(ln, config)
	s.Logger.Info().Str("addr", ln.Addr().String()).Msg("serving")
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay = min(max(2*delay, 5*time.Millisecond), maxAcceptDelay)
			s.Logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			time.Sleep(delay)
			continue
		}
		delay = 0
		go s.handleConnection(conn.(*tls.Conn))
	}
}

func (s *Server) readTimeout() time.Duration {
	if s.ReadTimeout == 0 {
		return DefaultReadTimeout
	}
	return s.ReadTimeout
}

func (s *Server) handleConnection(conn *tls.Conn) {
	defer conn.Close()
	if timeout := s.readTimeout(); timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	r := &responseWriter{conn: conn}
	request, err := getRequest(conn)
	if err != nil {
		s.Logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("bad request")
		if errors.Is(err, ErrInvalidRequest) {
			_ = r.WriteStatusMsg(StatusBadRequest, "Bad Request")
		}
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request.ctx = ctx
	s.Logger.Debug().Str("url", request.String()).Str("user", request.UserName()[0]).Msg("request")

	s.Handler.ServeGemini(r, request)
}

func getRequest(conn *tls.Conn) (*Request, error) {
	line, err := readLine(conn, MaxLineLength)
	if err != nil {
		if errors.Is(err, ErrLineTooLong) {
			return nil, newError(ErrInvalidRequest, "request line too long", err)
		}
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	r, err := ParseRequest(string(line))
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return r, nil
}

type responseWriter struct {
	headerWritten bool
	status        StatusCode
	conn          net.Conn
	err           error
}

var _ ResponseWriter = (*responseWriter)(nil)

func (w *responseWriter) WriteStatusMsg(status StatusCode, msg string) error {
	if w.headerWritten {
		return ErrHeaderWritten
	}
	if !status.Valid() {
		return fmt.Errorf("gemini: invalid status code %d", int(status))
	}
	if len(msg)+len("00 \r\n") > MaxLineLength {
		return ErrLineTooLong
	}
	_, w.err = fmt.Fprintf(w.conn, "%d %s\r\n", status, msg)
	if w.err != nil {
		w.err = fmt.Errorf("failed to write response status message: %w", w.err)
		return w.err
	}
	w.headerWritten = true
	w.status = status
	return nil
}

func (w *responseWriter) WriteBody(body []byte) (int, error) {
	if !w.headerWritten {
		return 0, ErrHeaderMissing
	}
	if !w.status.HasBody() {
		return 0, ErrBodyNotAllowed
	}
	if w.err != nil {
		return 0, w.err
	}
	var written int
	written, w.err = w.conn.Write(body)
	if w.err != nil {
		w.err = fmt.Errorf("failed to write response body: %w", w.err)
	}
	return written, w.err
}

// Write provides raw write and is for internal use only.
// It provides io.Copy compatible interface.
func (w *responseWriter) Write(body []byte) (int, error) {
	return w.WriteBody(body)
}

func NotFound(w ResponseWriter, req *Request) {
	w.WriteStatusMsg(StatusNotFound, "Resource Not Found")
}

func TrapPanic(next HandlerFunc) HandlerFunc {
	return func(w ResponseWriter, req *Request) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("url", req.String()).Bytes("stack", debug.Stack()).Msg("trapped")
				w.WriteStatusMsg(StatusUnspecified, "Internal Server Error")
			}
		}()
		next(w, req)
	}
}

func ServeFile(file *os.File, mimeType string) HandlerFunc {
	return func(w ResponseWriter, r *Request) {
		if err := w.WriteStatusMsg(StatusSuccess, mimeType); err != nil {
			return
		}
		if rw, ok := w.(io.Writer); ok {
			_, _ = io.Copy(rw, file)
		}
	}
}

func ServeFileName(name string, mimeType string) HandlerFunc {
	return func(w ResponseWriter, r *Request) {
		f, err := os.Open(name)
		if err != nil {
			NotFound(w, r)
			return
		}
		defer f.Close()
		ServeFile(f, mimeType)(w, r)
	}
}
