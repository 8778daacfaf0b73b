package gemini_test

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/knowfox/gemini/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

var serial atomic.Int64

func newCertificate(t *testing.T, cn string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
}

// testServer serves handler over TLS on a loopback port. The certificate
// can be swapped between connections.
type testServer struct {
	addr string
	cert atomic.Pointer[tls.Certificate]
}

func (s *testServer) url(path string) string {
	return "gemini://" + s.addr + path
}

func (s *testServer) setCertificate(cert tls.Certificate) {
	s.cert.Store(&cert)
}

func startServer(t *testing.T, handler gemini.HandlerFunc, configure ...func(*tls.Config)) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.setCertificate(newCertificate(t, "localhost"))
	config := &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return ts.cert.Load(), nil
		},
	}
	for _, fn := range configure {
		fn(config)
	}
	ts.addr = startServerWith(t, &gemini.Server{TLSConfig: config, Handler: handler})
	return ts
}

// startServerWith serves srv on a loopback port and returns its address.
// A self-signed certificate is used when srv has no TLS config.
func startServerWith(t *testing.T, srv *gemini.Server) string {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	if srv.TLSConfig == nil {
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{newCertificate(t, "localhost")}}
	}
	go srv.Serve(ln)
	return ln.Addr().String()
}

// startRawServer accepts TLS connections and hands each one, after the
// request line was read, to fn.
func startRawServer(t *testing.T, fn func(conn net.Conn, request string)) *testServer {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ts := &testServer{addr: ln.Addr().String()}
	cert := newCertificate(t, "localhost")
	ts.setCertificate(cert)
	tl := tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	go func() {
		for {
			conn, err := tl.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				fn(conn, line)
			}()
		}
	}()
	return ts
}
