package htmlx

import (
	"strings"

	"golang.org/x/net/html"
)

// Supported selector syntax: comma-separated groups of descendant chains of
// compound selectors. A compound is an optional tag name followed by any of
// #id, .class, [attr], [attr=val], [attr*=val], [attr^=val], [attr$=val].

type attrTest struct {
	key, op, val string
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrTest
}

func parseSelector(sel string) [][]compound {
	var groups [][]compound
	for _, g := range strings.Split(sel, ",") {
		var chain []compound
		for _, part := range strings.Fields(g) {
			chain = append(chain, parseCompound(part))
		}
		if len(chain) > 0 {
			groups = append(groups, chain)
		}
	}
	return groups
}

func parseCompound(s string) compound {
	var c compound
	i := 0
	readIdent := func() string {
		start := i
		for i < len(s) && !strings.ContainsRune("#.[", rune(s[i])) {
			i++
		}
		return s[start:i]
	}
	c.tag = strings.ToLower(readIdent())
	if c.tag == "*" {
		c.tag = ""
	}
	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			c.id = readIdent()
		case '.':
			i++
			c.classes = append(c.classes, readIdent())
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c
			}
			c.attrs = append(c.attrs, parseAttr(s[i+1:i+end]))
			i += end + 1
		default:
			i++
		}
	}
	return c
}

func parseAttr(s string) attrTest {
	for _, op := range []string{"*=", "^=", "$=", "="} {
		if k, v, ok := strings.Cut(s, op); ok {
			return attrTest{key: strings.TrimSpace(k), op: op, val: strings.Trim(strings.TrimSpace(v), `"'`)}
		}
	}
	return attrTest{key: strings.TrimSpace(s)}
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && Attr(n, "id") != c.id {
		return false
	}
	for _, cl := range c.classes {
		if !HasClass(n, cl) {
			return false
		}
	}
	for _, a := range c.attrs {
		if !hasAttr(n, a.key) {
			return false
		}
		v := Attr(n, a.key)
		switch a.op {
		case "=":
			if v != a.val {
				return false
			}
		case "*=":
			if !strings.Contains(v, a.val) {
				return false
			}
		case "^=":
			if !strings.HasPrefix(v, a.val) {
				return false
			}
		case "$=":
			if !strings.HasSuffix(v, a.val) {
				return false
			}
		}
	}
	return true
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

func matchChain(n *html.Node, chain []compound) bool {
	last := len(chain) - 1
	if !chain[last].matches(n) {
		return false
	}
	i := last - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if chain[i].matches(p) {
			i--
		}
	}
	return i < 0
}

// FindAll returns every element under root matching selector, in document
// order.
func FindAll(root *html.Node, selector string) []*html.Node {
	if root == nil {
		return nil
	}
	groups := parseSelector(selector)
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for _, chain := range groups {
			if matchChain(n, chain) {
				out = append(out, n)
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

// Find returns the first element matching selector, or nil.
func Find(root *html.Node, selector string) *html.Node {
	if all := FindAll(root, selector); len(all) > 0 {
		return all[0]
	}
	return nil
}

// FindText returns the collapsed text of the first match, or "".
func FindText(root *html.Node, selector string) string {
	return Text(Find(root, selector))
}
