package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/knowfox/gemini/v2"
	"github.com/knowfox/gemini/v2/tofu"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type fetchOptions struct {
	MaxRedirects int
	Concurrency  int
	// Rate is requests per second over the whole batch, redirects and
	// input follow-ups included. Zero means no limit.
	Rate     float64
	Input    string
	HasInput bool
	Render   bool
	Output   string
	// SaveDir receives non-text bodies in text mode instead of stdout.
	SaveDir string
}

var (
	errTooManyRedirects = errors.New("too many redirects")
	errInputRequired    = errors.New("server asks for input")
)

// result is what gemget reports about one URL.
type result struct {
	URL         string   `json:"url" yaml:"url"`
	Status      int      `json:"status,omitempty" yaml:"status,omitempty"`
	Class       string   `json:"class,omitempty" yaml:"class,omitempty"`
	Meta        string   `json:"meta,omitempty" yaml:"meta,omitempty"`
	Redirects   []string `json:"redirects,omitempty" yaml:"redirects,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Body        string   `json:"body,omitempty" yaml:"body,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`

	final string
	media string
	body  []byte
	err   error
}

type fetcher struct {
	client *gemini.Client
	opts   fetchOptions
	log    zerolog.Logger
}

// fetchAll fetches every URL, at most Concurrency at a time, and writes
// the results in argument order once all are done.
func (f *fetcher) fetchAll(ctx context.Context, urls []string, w io.Writer) error {
	limit := rate.Inf
	if f.opts.Rate > 0 {
		limit = rate.Limit(f.opts.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	results := make([]*result, len(urls))
	var g errgroup.Group
	g.SetLimit(max(f.opts.Concurrency, 1))
	for i, u := range urls {
		g.Go(func() error {
			results[i] = f.fetch(ctx, limiter, u)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.URL, res.err))
		}
	}
	if err := writeResults(w, results, f.opts); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// fetch requests rawurl, following redirects and answering an input
// prompt once when an answer was given.
func (f *fetcher) fetch(ctx context.Context, limiter *rate.Limiter, rawurl string) *result {
	out := &result{URL: rawurl}
	req, err := gemini.NewRequestWithContext(ctx, rawurl)
	if err != nil {
		out.fail(err)
		return out
	}
	answered := false
	for {
		if err := limiter.Wait(ctx); err != nil {
			out.fail(err)
			return out
		}
		res, err := f.client.Do(req)
		if err != nil {
			out.fail(err)
			return out
		}
		out.record(res)

		switch res.Class() {
		case gemini.ClassSuccess:
			out.body, err = io.ReadAll(res.Body)
			res.Close()
			if err != nil {
				out.fail(err)
			}
			return out

		case gemini.ClassRedirect:
			if len(out.Redirects) >= f.opts.MaxRedirects {
				out.fail(fmt.Errorf("%w: stopped at %q after %d", errTooManyRedirects, res.Meta, len(out.Redirects)))
				return out
			}
			target, err := res.RedirectURL()
			if err != nil {
				out.fail(err)
				return out
			}
			f.log.Debug().Str("from", req.String()).Stringer("to", target).Msg("following redirect")
			if req, err = gemini.NewRequestWithContext(ctx, target.String()); err != nil {
				out.fail(err)
				return out
			}
			out.Redirects = append(out.Redirects, target.String())

		case gemini.ClassInput:
			if !f.opts.HasInput || answered {
				out.fail(fmt.Errorf("%w: %s", errInputRequired, res.Meta))
				return out
			}
			answered = true
			if req, err = req.WithQuery(f.opts.Input); err != nil {
				out.fail(err)
				return out
			}

		default:
			out.fail(fmt.Errorf("%s %s", res.StatusCode, res.Meta))
			return out
		}
	}
}

func (r *result) record(res *gemini.Response) {
	r.Status = int(res.StatusCode)
	r.Class = res.Class().String()
	r.Meta = res.Meta
	r.media = res.MediaType
	r.final = res.Request.String()
	if res.TLS != nil && len(res.TLS.PeerCertificates) > 0 {
		r.Fingerprint = tofu.FingerprintOf(res.TLS.PeerCertificates[0]).String()
	}
}

func (r *result) fail(err error) {
	r.err = err
	r.Error = err.Error()
}

// writeResults prints bodies as they are, or rendered, in text mode, and
// one document listing every result otherwise.
func writeResults(w io.Writer, results []*result, opts fetchOptions) error {
	switch opts.Output {
	case "json", "yaml":
		for _, res := range results {
			res.Body = string(res.body)
		}
		return encode(w, opts.Output, results)
	}
	var buf bytes.Buffer
	renderer := lipgloss.NewRenderer(w)
	for _, res := range results {
		if res.body == nil {
			continue
		}
		if opts.SaveDir != "" && !strings.HasPrefix(res.media, "text/") {
			if err := saveBody(opts.SaveDir, res); err != nil {
				return err
			}
			continue
		}
		if opts.Render && res.media == "text/gemini" {
			if err := renderGemtext(&buf, renderer, bytes.NewReader(res.body), res.final); err != nil {
				return err
			}
			continue
		}
		buf.Write(res.body)
	}
	_, err := buf.WriteTo(w)
	return err
}

// saveBody writes a body to dir, named after the last segment of the
// final URL.
func saveBody(dir string, res *result) error {
	name := "index"
	if u, err := url.Parse(res.final); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			name = base
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, res.body, 0644); err != nil {
		return fmt.Errorf("failed to save %s: %w", res.URL, err)
	}
	fmt.Fprintf(os.Stderr, "Saved %s (%s) to %s\n", res.URL, res.media, dst)
	return nil
}
