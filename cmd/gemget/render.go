package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"

	"github.com/charmbracelet/lipgloss"
	"github.com/knowfox/gemini/v2/gemtext"
)

type styles struct {
	heading [4]lipgloss.Style
	link    lipgloss.Style
	target  lipgloss.Style
	quote   lipgloss.Style
	alt     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		heading: [4]lipgloss.Style{
			1: r.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("212")),
			2: r.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
			3: r.NewStyle().Bold(true),
		},
		link:   r.NewStyle().Foreground(lipgloss.Color("39")),
		target: r.NewStyle().Foreground(lipgloss.Color("241")),
		quote:  r.NewStyle().Italic(true).Foreground(lipgloss.Color("246")),
		alt:    r.NewStyle().Faint(true),
	}
}

// renderGemtext writes body for a terminal. Links are numbered and shown
// with their target resolved against base; preformatted lines are copied
// verbatim.
func renderGemtext(w io.Writer, r *lipgloss.Renderer, body io.Reader, base string) error {
	st := newStyles(r)
	baseURL, _ := url.Parse(base)
	bw := bufio.NewWriter(w)
	links := 0

	p := gemtext.NewParser(body)
	for p.Next() {
		switch l := p.Line().(type) {
		case gemtext.Heading:
			fmt.Fprintln(bw, st.heading[l.Level].Render(l.Text))
		case gemtext.Link:
			links++
			target := resolve(baseURL, l.URL)
			label := l.Label
			if label == "" {
				label = target
			}
			fmt.Fprintf(bw, "[%d] %s %s\n", links, st.link.Render(label), st.target.Render("<"+target+">"))
		case gemtext.ListItem:
			fmt.Fprintln(bw, "  • "+string(l))
		case gemtext.Quote:
			fmt.Fprintln(bw, st.quote.Render("│ "+string(l)))
		case gemtext.PreformatToggle:
			if l.Open && l.AltText != "" {
				fmt.Fprintln(bw, st.alt.Render("["+l.AltText+"]"))
			}
		case gemtext.Preformatted:
			fmt.Fprintln(bw, string(l))
		case gemtext.Text:
			fmt.Fprintln(bw, string(l))
		}
	}
	if err := p.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
