// Package gemtext parses the line-oriented gemtext markup.
//
// Parsing never fails: a line that matches no other type is Text. The
// only state carried from one line to the next is whether a preformatted
// block is open; inside one, every line is Preformatted verbatim until
// the closing toggle.
package gemtext

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	toggleMarker  = "```"
	linkMarker    = "=>"
	headingMarker = '#'
	listMarker    = "* "
	quoteMarker   = ">"
)

// Line is one parsed gemtext line. String renders it back as gemtext.
type Line interface {
	String() string
	line()
}

// Text is a plain text line.
type Text string

// Link is a link line. Label is empty when the line has none.
type Link struct {
	URL   string
	Label string
}

// Heading is a heading line of level 1 to 3.
type Heading struct {
	Level int
	Text  string
}

// ListItem is an unordered list item.
type ListItem string

// Quote is a quotation line.
type Quote string

// PreformatToggle opens or closes a preformatted block. AltText is only
// set on an opening toggle.
type PreformatToggle struct {
	Open    bool
	AltText string
}

// Preformatted is a line inside a preformatted block.
type Preformatted string

func (Text) line()            {}
func (Link) line()            {}
func (Heading) line()         {}
func (ListItem) line()        {}
func (Quote) line()           {}
func (PreformatToggle) line() {}
func (Preformatted) line()    {}

func (t Text) String() string { return string(t) }

func (l Link) String() string {
	if l.Label == "" {
		return linkMarker + " " + l.URL
	}
	return linkMarker + " " + l.URL + " " + l.Label
}

func (h Heading) String() string {
	return strings.Repeat(string(headingMarker), h.Level) + " " + h.Text
}

func (l ListItem) String() string { return listMarker + string(l) }
func (q Quote) String() string    { return quoteMarker + " " + string(q) }

func (p PreformatToggle) String() string {
	if p.Open && p.AltText != "" {
		return toggleMarker + p.AltText
	}
	return toggleMarker
}

func (p Preformatted) String() string { return string(p) }

type state int

const (
	stateNormal state = iota
	statePreformatted
)

// Parser reads gemtext lines from a stream. It is forward only; parse
// the same bytes again with a new Parser.
type Parser struct {
	r     *bufio.Reader
	state state
	line  Line
	err   error
	done  bool
}

// NewParser returns a parser reading from r. Lines end in LF or CRLF; a
// final line without terminator is still parsed.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// Next advances to the next line, which is then available through Line.
// It returns false at the end of the input or on a read error, which Err
// reports.
func (p *Parser) Next() bool {
	if p.done {
		return false
	}
	raw, err := p.r.ReadString('\n')
	if err != nil {
		p.done = true
		if !errors.Is(err, io.EOF) {
			p.err = err
		}
		if raw == "" {
			p.line = nil
			return false
		}
	}
	raw = strings.TrimSuffix(raw, "\n")
	raw = strings.TrimSuffix(raw, "\r")
	p.line = p.parse(raw)
	return true
}

// Line returns the line read by the last call to Next.
func (p *Parser) Line() Line {
	return p.line
}

// Err returns the first error other than io.EOF met reading the input.
func (p *Parser) Err() error {
	return p.err
}

// Preformatted reports whether the parser is inside a preformatted block.
func (p *Parser) Preformatted() bool {
	return p.state == statePreformatted
}

func (p *Parser) parse(raw string) Line {
	if rest, ok := strings.CutPrefix(raw, toggleMarker); ok {
		if p.state == stateNormal {
			p.state = statePreformatted
			return PreformatToggle{Open: true, AltText: strings.TrimSpace(rest)}
		}
		p.state = stateNormal
		return PreformatToggle{}
	}
	if p.state == statePreformatted {
		return Preformatted(raw)
	}
	return parseLine(raw)
}

func parseLine(raw string) Line {
	switch {
	case strings.HasPrefix(raw, linkMarker):
		if l, ok := parseLink(raw[len(linkMarker):]); ok {
			return l
		}
	case strings.HasPrefix(raw, string(headingMarker)):
		level := 0
		for level < len(raw) && raw[level] == headingMarker {
			level++
		}
		if level <= 3 {
			return Heading{Level: level, Text: stripSpace(raw[level:])}
		}
	case strings.HasPrefix(raw, listMarker):
		return ListItem(raw[len(listMarker):])
	case strings.HasPrefix(raw, quoteMarker):
		return Quote(stripSpace(raw[len(quoteMarker):]))
	}
	return Text(raw)
}

func parseLink(rest string) (Link, bool) {
	if rest == "" || !isSpace(rest[0]) {
		return Link{}, false
	}
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return Link{}, false
	}
	i := strings.IndexAny(rest, " \t")
	if i < 0 {
		return Link{URL: rest}, true
	}
	return Link{URL: rest[:i], Label: strings.TrimLeft(rest[i:], " \t")}, true
}

// stripSpace removes the single space or tab that follows a marker.
func stripSpace(s string) string {
	if s != "" && isSpace(s[0]) {
		return s[1:]
	}
	return s
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// Parse parses all of b.
func Parse(b []byte) []Line {
	return ParseString(string(b))
}

// ParseString parses all of s.
func ParseString(s string) []Line {
	var lines []Line
	p := NewParser(strings.NewReader(s))
	for p.Next() {
		lines = append(lines, p.Line())
	}
	return lines
}
