package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/knowfox/gemini/v2/internal/config"
	"github.com/knowfox/gemini/v2/tofu"
)

// decisionFunc returns the trust callback for policy. The prompt reads
// answers from in and asks one question at a time, even when several
// hosts are contacted concurrently.
func decisionFunc(policy string, in *bufio.Reader, out io.Writer) tofu.DecisionFunc {
	switch policy {
	case config.TrustAccept:
		return tofu.AlwaysApprove
	case config.TrustDeny:
		return tofu.DenyAll
	}
	p := &prompter{in: in, out: out}
	return p.decide
}

type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) decide(host string, fp tofu.Fingerprint, changed bool) tofu.Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()

	if changed {
		fmt.Fprintf(p.out, "WARNING: the certificate of %s has CHANGED.\n", host)
		fmt.Fprintf(p.out, "This may be a renewal, or someone intercepting the connection.\n")
		fmt.Fprintf(p.out, "New fingerprint: %s\n", fp)
		fmt.Fprintf(p.out, "Trust the new certificate? [y/N] ")
	} else {
		fmt.Fprintf(p.out, "First connection to %s.\n", host)
		fmt.Fprintf(p.out, "Fingerprint: %s\n", fp)
		fmt.Fprintf(p.out, "Trust this certificate? [y/N] ")
	}
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(p.out)
		return tofu.Deny
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return tofu.Approve
	}
	return tofu.Deny
}
