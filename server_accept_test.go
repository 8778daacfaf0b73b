package gemini

import (
	"crypto/tls"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// failingListener fails Accept a number of times, then reports itself
// closed.
type failingListener struct {
	failures int32
	accepts  atomic.Int32
}

func (l *failingListener) Accept() (net.Conn, error) {
	if l.accepts.Add(1) > l.failures {
		return nil, net.ErrClosed
	}
	return nil, errors.New("accept4: too many open files")
}

func (l *failingListener) Close() error   { return nil }
func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestServeBacksOffOnAcceptErrors(t *testing.T) {
	ln := &failingListener{failures: 4}
	srv := &Server{
		TLSConfig: &tls.Config{
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return nil, nil },
		},
	}
	start := time.Now()
	require.NoError(t, srv.Serve(ln))
	// 5ms, 10ms, 20ms and 40ms between the failed accepts.
	require.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
	require.Equal(t, int32(5), ln.accepts.Load())
}

func TestServerReadTimeoutDefault(t *testing.T) {
	require.Equal(t, DefaultReadTimeout, (&Server{}).readTimeout())
	require.Equal(t, time.Second, (&Server{ReadTimeout: time.Second}).readTimeout())
	require.Negative(t, (&Server{ReadTimeout: -1}).readTimeout())
}
