package gemini

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
)

// Scope limits where an identity is presented: requests to Host whose
// path is Path or lies below it. An empty Path covers the whole host.
type Scope struct {
	Host string
	Path string
}

func (s Scope) String() string {
	return s.Host + s.Path
}

// Identity is a client certificate with its private key.
type Identity struct {
	Scope       Scope
	Certificate tls.Certificate

	seq uint64
}

// IdentityStore selects the client certificate to present for a
// request. Lookups are safe for concurrent use; registering identities
// while requests are in flight is also safe, but callers are expected
// to register them up front.
type IdentityStore struct {
	mu         sync.RWMutex
	seq        uint64
	identities []*Identity
}

// Register adds an identity for scope. A later registration wins over an
// earlier one for the same scope.
func (s *IdentityStore) Register(scope Scope, cert tls.Certificate) *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := &Identity{
		Scope:       Scope{Host: strings.ToLower(scope.Host), Path: strings.TrimSuffix(scope.Path, "/")},
		Certificate: cert,
		seq:         s.seq,
	}
	s.identities = append(s.identities, id)
	return id
}

// LoadIdentity loads a PEM certificate and key pair and registers it for
// scope.
func (s *IdentityStore) LoadIdentity(scope Scope, certFile, keyFile string) (*Identity, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity for %s: %w", scope, err)
	}
	return s.Register(scope, cert), nil
}

// Select returns the identity whose host equals host and whose path is
// the longest prefix of path, the most recently registered one on ties.
// It returns nil when no identity applies, in which case no client
// certificate is presented.
func (s *IdentityStore) Select(host, path string) *Identity {
	if s == nil {
		return nil
	}
	host = strings.ToLower(host)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Identity
	for _, id := range s.identities {
		if id.Scope.Host != host || !pathInScope(path, id.Scope.Path) {
			continue
		}
		if best == nil ||
			len(id.Scope.Path) > len(best.Scope.Path) ||
			len(id.Scope.Path) == len(best.Scope.Path) && id.seq > best.seq {
			best = id
		}
	}
	return best
}

// Len returns the number of registered identities.
func (s *IdentityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities)
}

// pathInScope matches whole path segments, so "/app" covers "/app" and
// "/app/x" but not "/application".
func pathInScope(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
