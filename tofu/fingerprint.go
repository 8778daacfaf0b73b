package tofu

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

const fingerprintPrefix = "sha256:"

// Fingerprint is the SHA-256 digest of a certificate's
// SubjectPublicKeyInfo. Pinning the key rather than the whole
// certificate lets a server renew its certificate without tripping a
// trust change, as long as it keeps its key.
type Fingerprint [sha256.Size]byte

// FingerprintOf returns the fingerprint of cert.
func FingerprintOf(cert *x509.Certificate) Fingerprint {
	return sha256.Sum256(cert.RawSubjectPublicKeyInfo)
}

// String formats the fingerprint as "sha256:AB:CD:...".
func (f Fingerprint) String() string {
	var b strings.Builder
	b.Grow(len(fingerprintPrefix) + 3*len(f))
	b.WriteString(fingerprintPrefix)
	for i, c := range f {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	fp, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = fp
	return nil
}

// ParseFingerprint parses the String form of a fingerprint. Colons and
// the "sha256:" prefix are optional and hex digits may be of either case.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	s = strings.TrimPrefix(strings.TrimSpace(s), fingerprintPrefix)
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return f, fmt.Errorf("tofu: malformed fingerprint %q: %w", s, err)
	}
	if len(raw) != len(f) {
		return f, fmt.Errorf("tofu: fingerprint %q is %d bytes, want %d", s, len(raw), len(f))
	}
	copy(f[:], raw)
	return f, nil
}

// DefaultPort is the Gemini port, omitted from host keys.
const DefaultPort = "1965"

// HostKey returns the identity under which a server's fingerprint is
// pinned: the lower-cased host name, followed by ":port" unless the port
// is the default one.
func HostKey(host, port string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if port == "" || port == DefaultPort {
		return host
	}
	return net.JoinHostPort(host, port)
}
