package tofu

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fp(b byte) Fingerprint {
	var f Fingerprint
	for i := range f {
		f[i] = b
	}
	return f
}

type call struct {
	host    string
	fp      Fingerprint
	changed bool
}

// scripted answers with the given verdicts in order and records calls.
type scripted struct {
	mu       sync.Mutex
	verdicts []Verdict
	calls    []call
}

func (s *scripted) decide(host string, f Fingerprint, changed bool) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{host, f, changed})
	if len(s.verdicts) == 0 {
		return Deny
	}
	v := s.verdicts[0]
	s.verdicts = s.verdicts[1:]
	return v
}

type failingPersister struct{ saves int }

func (p *failingPersister) Load() ([]Record, error) { return nil, nil }
func (p *failingPersister) Save([]Record) error {
	p.saves++
	return errors.New("disk full")
}

func TestFirstContactPinsWhenApproved(t *testing.T) {
	script := &scripted{verdicts: []Verdict{Approve}}
	s, err := NewStore(nil, script.decide)
	require.NoError(t, err)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.Equal(t, Unknown, s.Check("example.org", fp(1)))
	d, err := s.Decide("example.org", fp(1))
	require.NoError(t, err)
	require.Equal(t, Accept, d)
	require.Equal(t, []call{{"example.org", fp(1), false}}, script.calls)

	rec, ok := s.Lookup("example.org")
	require.True(t, ok)
	require.Equal(t, Record{Host: "example.org", Fingerprint: fp(1), FirstSeen: now}, rec)
}

func TestFirstContactDenied(t *testing.T) {
	script := &scripted{verdicts: []Verdict{Deny}}
	s, err := NewStore(nil, script.decide)
	require.NoError(t, err)

	d, err := s.Decide("example.org", fp(1))
	require.NoError(t, err)
	require.Equal(t, Reject, d)
	_, ok := s.Lookup("example.org")
	require.False(t, ok)
}

func TestSameFingerprintSkipsCallback(t *testing.T) {
	script := &scripted{verdicts: []Verdict{Approve}}
	s, err := NewStore(nil, script.decide)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := s.Decide("example.org", fp(1))
		require.NoError(t, err)
		require.Equal(t, Accept, d)
	}
	require.Len(t, script.calls, 1)
}

func TestChangedFingerprintDeniedKeepsRecord(t *testing.T) {
	script := &scripted{verdicts: []Verdict{Approve, Deny}}
	s, err := NewStore(nil, script.decide)
	require.NoError(t, err)

	_, err = s.Decide("example.org", fp(1))
	require.NoError(t, err)
	before, _ := s.Lookup("example.org")

	d, err := s.Decide("example.org", fp(2))
	require.NoError(t, err)
	require.Equal(t, Reject, d)
	require.Equal(t, call{"example.org", fp(2), true}, script.calls[1])

	after, _ := s.Lookup("example.org")
	require.Equal(t, before, after)
	require.Equal(t, Reject, s.Check("example.org", fp(2)))
}

func TestChangedFingerprintRepinnedWhenApproved(t *testing.T) {
	script := &scripted{verdicts: []Verdict{Approve, Approve}}
	s, err := NewStore(nil, script.decide)
	require.NoError(t, err)

	_, err = s.Decide("example.org", fp(1))
	require.NoError(t, err)
	d, err := s.Decide("example.org", fp(2))
	require.NoError(t, err)
	require.Equal(t, Accept, d)
	require.Equal(t, Accept, s.Check("example.org", fp(2)))
	require.Equal(t, Reject, s.Check("example.org", fp(1)))
}

func TestSaveFailureLeavesStoreUntouched(t *testing.T) {
	p := &failingPersister{}
	s, err := NewStore(p, AlwaysApprove)
	require.NoError(t, err)

	d, err := s.Decide("example.org", fp(1))
	require.Error(t, err)
	require.Equal(t, Reject, d)
	require.Equal(t, 1, p.saves)
	require.Equal(t, Unknown, s.Check("example.org", fp(1)))
}

func TestVerify(t *testing.T) {
	s, err := NewStore(nil, ApproveFirstUse)
	require.NoError(t, err)

	require.NoError(t, s.Verify("example.org", fp(1)))
	err = s.Verify("example.org", fp(2))
	require.ErrorIs(t, err, ErrRejected)

	s, err = NewStore(&failingPersister{}, AlwaysApprove)
	require.NoError(t, err)
	err = s.Verify("example.org", fp(1))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRejected)
}

func TestConcurrentFirstContactPinsOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	decide := func(host string, f Fingerprint, changed bool) Verdict {
		calls.Add(1)
		<-release
		if changed {
			return Deny
		}
		return Approve
	}
	s, err := NewStore(nil, decide)
	require.NoError(t, err)

	const n = 8
	results := make([]Decision, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every goroutine presents a different fingerprint.
			d, err := s.Decide("example.org", fp(byte(i+1)))
			require.NoError(t, err)
			results[i] = d
		}(i)
	}
	close(release)
	wg.Wait()

	accepted := 0
	for _, d := range results {
		if d == Accept {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, int32(n), calls.Load())
	require.Len(t, s.Records(), 1)
	require.Zero(t, s.hosts.len())
}

func TestUnrelatedHostsDoNotBlock(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	decide := func(host string, f Fingerprint, changed bool) Verdict {
		if host == "slow.example" {
			close(blocked)
			<-release
		}
		return Approve
	}
	s, err := NewStore(nil, decide)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Decide("slow.example", fp(1))
	}()
	<-blocked

	d, err := s.Decide("fast.example", fp(2))
	require.NoError(t, err)
	require.Equal(t, Accept, d)

	close(release)
	<-done
}

func TestForget(t *testing.T) {
	s, err := NewStore(nil, AlwaysApprove)
	require.NoError(t, err)
	require.ErrorIs(t, s.Forget("example.org"), ErrNoRecord)

	_, err = s.Decide("example.org", fp(1))
	require.NoError(t, err)
	require.NoError(t, s.Forget("example.org"))
	require.Equal(t, Unknown, s.Check("example.org", fp(1)))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "known_hosts.toml")
	file := &FileStore{Path: path}

	records, err := file.Load()
	require.NoError(t, err)
	require.Empty(t, records)

	s, err := NewStore(file, AlwaysApprove)
	require.NoError(t, err)
	_, err = s.Decide("b.example", fp(2))
	require.NoError(t, err)
	_, err = s.Decide("a.example:1966", fp(1))
	require.NoError(t, err)

	reloaded, err := NewStore(&FileStore{Path: path}, DenyAll)
	require.NoError(t, err)
	got := reloaded.Records()
	require.Len(t, got, 2)
	require.Equal(t, "a.example:1966", got[0].Host)
	require.Equal(t, fp(1), got[0].Fingerprint)
	require.Equal(t, "b.example", got[1].Host)
	require.Equal(t, Accept, reloaded.Check("b.example", fp(2)))
	require.WithinDuration(t, s.Records()[0].FirstSeen, got[0].FirstSeen, time.Second)
}

func TestFingerprintText(t *testing.T) {
	f := fp(0xab)
	text, err := f.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "sha256:AB:AB", string(text[:len("sha256:AB:AB")]))

	var back Fingerprint
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, f, back)

	_, err = ParseFingerprint("sha256:zz")
	require.Error(t, err)
	_, err = ParseFingerprint("abcd")
	require.Error(t, err)
}

func TestHostKey(t *testing.T) {
	require.Equal(t, "example.org", HostKey("Example.ORG", "1965"))
	require.Equal(t, "example.org", HostKey("example.org.", ""))
	require.Equal(t, "example.org:1966", HostKey("example.org", "1966"))
	require.Equal(t, "[::1]:1966", HostKey("::1", "1966"))
}
