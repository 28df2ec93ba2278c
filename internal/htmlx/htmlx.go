// Package htmlx is a small DOM toolkit over golang.org/x/net/html used by the
// source adapters: a subset of CSS selectors, text extraction and label/value
// scraping of listing fact tables.
package htmlx

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse parses an HTML document.
func Parse(src string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, eris.Wrap(err, "htmlx: parse")
	}
	return doc, nil
}

// MustParse parses src and panics on error. Tests only.
func MustParse(src string) *html.Node {
	doc, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return doc
}

// Attr returns the value of attribute key, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// HasClass reports whether n carries class c.
func HasClass(n *html.Node, c string) bool {
	for _, f := range strings.Fields(Attr(n, "class")) {
		if f == c {
			return true
		}
	}
	return false
}

// Text returns the visible text under n with whitespace collapsed. Block
// elements are separated by a space; script and style are skipped.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	collectText(n, &b)
	return strings.Join(strings.Fields(strings.ReplaceAll(b.String(), "\u00a0", " ")), " ")
}

// Paragraphs returns the text under n with block boundaries kept as newlines.
func Paragraphs(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	collectText(n, &b)
	var out []string
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(strings.ReplaceAll(line, "\u00a0", " ")), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Br:
			b.WriteString("\n")
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if n.Type == html.ElementNode && isBlock(n.DataAtom) {
		b.WriteString("\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Table, atom.Section, atom.Article,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Dd, atom.Dt, atom.Dl, atom.Td, atom.Th:
		return true
	}
	return false
}

// Render serialises n back to HTML.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// Remove detaches every node matching selector from doc and returns the count.
func Remove(doc *html.Node, selector string) int {
	nodes := FindAll(doc, selector)
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return len(nodes)
}

// Title returns the document <title>, or the first <h1> when absent.
func Title(doc *html.Node) string {
	if t := Text(Find(doc, "title")); t != "" {
		return t
	}
	return Text(Find(doc, "h1"))
}

// Meta returns the content of <meta name=key> or <meta property=key>.
func Meta(doc *html.Node, key string) string {
	for _, n := range FindAll(doc, "meta") {
		if strings.EqualFold(Attr(n, "name"), key) || strings.EqualFold(Attr(n, "property"), key) {
			return strings.TrimSpace(Attr(n, "content"))
		}
	}
	return ""
}

// Links returns the href of every anchor matching selector.
func Links(doc *html.Node, selector string) []string {
	var out []string
	for _, n := range FindAll(doc, selector) {
		if href := strings.TrimSpace(Attr(n, "href")); href != "" {
			out = append(out, href)
		}
	}
	return out
}

// Labeled collects label/value pairs from fact tables: <dt>/<dd> lists,
// two-cell table rows, and "Label: value" list items. Labels are lowercased
// and stripped of a trailing colon. The first value for a label wins.
func Labeled(root *html.Node) map[string]string {
	out := map[string]string{}
	put := func(label, value string) {
		label = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(label), ":")))
		value = strings.TrimSpace(value)
		if label == "" || value == "" {
			return
		}
		if _, ok := out[label]; !ok {
			out[label] = value
		}
	}

	for _, dt := range FindAll(root, "dt") {
		for sib := dt.NextSibling; sib != nil; sib = sib.NextSibling {
			if sib.Type != html.ElementNode {
				continue
			}
			if sib.DataAtom == atom.Dd {
				put(Text(dt), Text(sib))
			}
			break
		}
	}
	for _, tr := range FindAll(root, "tr") {
		var cells []*html.Node
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				cells = append(cells, c)
			}
		}
		if len(cells) == 2 {
			put(Text(cells[0]), Text(cells[1]))
		}
	}
	for _, li := range FindAll(root, "li") {
		if label, value, ok := strings.Cut(Text(li), ":"); ok && len(label) <= 40 {
			put(label, value)
		}
	}
	return out
}
