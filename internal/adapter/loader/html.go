package loader

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute visible text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Iframe:   true,
}

// paragraph elements are separated from their neighbours by a blank line,
// block elements by a single line break.
var paragraph = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Article: true, atom.Section: true, atom.Pre: true, atom.Table: true,
	atom.Ul: true, atom.Ol: true,
}

var block = map[atom.Atom]bool{
	atom.Div: true, atom.Li: true, atom.Br: true, atom.Tr: true,
	atom.Header: true, atom.Footer: true, atom.Nav: true, atom.Aside: true,
	atom.Main: true, atom.Figure: true, atom.Figcaption: true, atom.Dd: true,
	atom.Dt: true, atom.Hr: true,
}

// ExtractText returns the page title and its visible text. Paragraph
// boundaries become "\n\n" and other block boundaries "\n", so the chunker's
// separators line up with the page structure.
func ExtractText(r io.Reader) (title, text string, err error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	title = findTitle(root)

	w := &textWriter{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
			if paragraph[n.DataAtom] {
				w.breakLine(2)
			} else if block[n.DataAtom] {
				w.breakLine(1)
			}
		case html.TextNode:
			w.writeText(n.Data)
			return
		case html.CommentNode:
			return
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode {
			if paragraph[n.DataAtom] {
				w.breakLine(2)
			} else if block[n.DataAtom] {
				w.breakLine(1)
			}
		}
	}
	walk(root)

	return title, w.String(), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return collapse(nodeText(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// collapse squashes runs of whitespace (including newlines) to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type textWriter struct {
	sb      strings.Builder
	pending int // line breaks owed before the next text
	space   bool
}

func (w *textWriter) breakLine(n int) {
	if w.sb.Len() == 0 {
		return
	}
	if n > w.pending {
		w.pending = n
	}
}

func (w *textWriter) writeText(s string) {
	leading := s != "" && isSpace(s[0])
	trailing := s != "" && isSpace(s[len(s)-1])
	s = collapse(s)
	if s == "" {
		if leading || trailing {
			w.space = true
		}
		return
	}

	switch {
	case w.pending > 0:
		w.sb.WriteString(strings.Repeat("\n", w.pending))
	case w.sb.Len() > 0 && (w.space || leading):
		w.sb.WriteByte(' ')
	}
	w.pending = 0
	w.sb.WriteString(s)
	w.space = trailing
}

func (w *textWriter) String() string {
	return w.sb.String()
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
