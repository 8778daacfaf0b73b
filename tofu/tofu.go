// Package tofu implements trust-on-first-use verification of server
// certificates.
//
// A Store pins one certificate fingerprint per host. The first
// fingerprint seen for a host is pinned once a DecisionFunc approves it;
// later connections must present the same fingerprint, and a different
// one is only pinned in its place when the DecisionFunc explicitly
// approves the change.
package tofu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var (
	// ErrRejected is returned by Verify when a fingerprint is not trusted.
	ErrRejected = errors.New("tofu: certificate rejected")
	// ErrNoRecord is returned by Forget for a host with no pinned fingerprint.
	ErrNoRecord = errors.New("tofu: no record for host")
)

// Decision is the outcome of checking a fingerprint against the store.
type Decision int

const (
	// Unknown means no fingerprint is pinned for the host.
	Unknown Decision = iota
	// Accept means the fingerprint matches the pinned one.
	Accept
	// Reject means the fingerprint differs from the pinned one.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Unknown:
		return "unknown"
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Verdict is the answer of a DecisionFunc.
type Verdict int

const (
	Deny Verdict = iota
	Approve
)

// DecisionFunc is consulted when a host has no pinned fingerprint, or
// when it presents a fingerprint that differs from the pinned one; in the
// second case changed is true. It is called synchronously while the
// host's decisions are serialized, so it may block, for instance on a
// prompt.
type DecisionFunc func(host string, fp Fingerprint, changed bool) Verdict

// AlwaysApprove approves every first contact and every change.
func AlwaysApprove(string, Fingerprint, bool) Verdict { return Approve }

// ApproveFirstUse approves first contacts and denies changes.
func ApproveFirstUse(_ string, _ Fingerprint, changed bool) Verdict {
	if changed {
		return Deny
	}
	return Approve
}

// DenyAll denies everything not already pinned.
func DenyAll(string, Fingerprint, bool) Verdict { return Deny }

// Record is a pinned fingerprint.
type Record struct {
	Host        string      `toml:"host" json:"host" yaml:"host"`
	Fingerprint Fingerprint `toml:"fingerprint" json:"fingerprint" yaml:"fingerprint"`
	FirstSeen   time.Time   `toml:"first_seen" json:"first_seen" yaml:"first_seen"`
}

// Persister loads and saves the full set of records. Save receives every
// record each time and must replace what it stored before.
type Persister interface {
	Load() ([]Record, error)
	Save([]Record) error
}

// Store maps hosts to pinned fingerprints. It is safe for concurrent
// use; decisions for one host are serialized while decisions for
// different hosts proceed independently.
type Store struct {
	Logger zerolog.Logger

	persist Persister
	decide  DecisionFunc
	now     func() time.Time

	hosts keyedMutex
	save  sync.Mutex

	mu      sync.RWMutex
	records map[string]Record
}

// NewStore loads the records of p and returns a store consulting decide
// for unknown or changed fingerprints. p may be nil for a store that
// lives in memory only; decide may be nil to deny everything not pinned.
func NewStore(p Persister, decide DecisionFunc) (*Store, error) {
	if decide == nil {
		decide = DenyAll
	}
	s := &Store{
		persist: p,
		decide:  decide,
		now:     time.Now,
		records: make(map[string]Record),
	}
	if p == nil {
		return s, nil
	}
	records, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("tofu: loading records: %w", err)
	}
	for _, r := range records {
		s.records[r.Host] = r
	}
	return s, nil
}

// Lookup returns the record pinned for host.
func (s *Store) Lookup(host string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[host]
	return r, ok
}

// Check compares fp with the fingerprint pinned for host without
// consulting the DecisionFunc.
func (s *Store) Check(host string, fp Fingerprint) Decision {
	r, ok := s.Lookup(host)
	switch {
	case !ok:
		return Unknown
	case r.Fingerprint == fp:
		return Accept
	default:
		return Reject
	}
}

// Decide returns Accept when fp may be trusted for host, Reject
// otherwise. It never returns Unknown: the DecisionFunc resolves an
// unknown host, and only Check reports Unknown. A matching pinned
// fingerprint is accepted without consulting the DecisionFunc. An
// unknown host, or a changed fingerprint, is pinned only when the
// DecisionFunc approves and the new record was saved; if saving fails
// the error is returned along with Reject and the stored record is left
// as it was.
func (s *Store) Decide(host string, fp Fingerprint) (Decision, error) {
	unlock := s.hosts.Lock(host)
	defer unlock()

	log := s.Logger.With().Str("host", host).Stringer("fingerprint", fp).Logger()

	old, known := s.Lookup(host)
	if known && old.Fingerprint == fp {
		return Accept, nil
	}
	if s.decide(host, fp, known) != Approve {
		if known {
			log.Warn().Stringer("pinned", old.Fingerprint).Msg("certificate changed, not trusted")
		} else {
			log.Info().Msg("certificate not trusted")
		}
		return Reject, nil
	}
	rec := Record{Host: host, Fingerprint: fp, FirstSeen: s.now().UTC()}
	if err := s.commit(host, &rec); err != nil {
		return Reject, err
	}
	if known {
		log.Warn().Stringer("previous", old.Fingerprint).Msg("certificate re-pinned")
	} else {
		log.Info().Msg("certificate pinned")
	}
	return Accept, nil
}

// Verify is Decide reporting a rejection as ErrRejected. A failure to
// save the decision is returned as is.
func (s *Store) Verify(host string, fp Fingerprint) error {
	d, err := s.Decide(host, fp)
	if err != nil {
		return err
	}
	if d != Accept {
		return fmt.Errorf("%w: %s presented %s", ErrRejected, host, fp)
	}
	return nil
}

// Forget removes the record pinned for host, so that the next connection
// is treated as a first contact.
func (s *Store) Forget(host string) error {
	unlock := s.hosts.Lock(host)
	defer unlock()

	if _, ok := s.Lookup(host); !ok {
		return fmt.Errorf("%w: %s", ErrNoRecord, host)
	}
	return s.commit(host, nil)
}

// Records returns a snapshot of all records sorted by host.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(s.records)
}

// commit saves the record set with host replaced by rec, or removed when
// rec is nil, and applies the change in memory once saved.
func (s *Store) commit(host string, rec *Record) error {
	s.save.Lock()
	defer s.save.Unlock()

	s.mu.RLock()
	next := maps.Clone(s.records)
	s.mu.RUnlock()
	if rec != nil {
		next[host] = *rec
	} else {
		delete(next, host)
	}

	if s.persist != nil {
		if err := s.persist.Save(s.snapshot(next)); err != nil {
			return fmt.Errorf("tofu: saving records: %w", err)
		}
	}

	s.mu.Lock()
	if rec != nil {
		s.records[host] = *rec
	} else {
		delete(s.records, host)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) snapshot(records map[string]Record) []Record {
	hosts := maps.Keys(records)
	slices.Sort(hosts)
	out := make([]Record, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, records[h])
	}
	return out
}
