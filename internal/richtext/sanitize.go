// Package richtext cleans editor markup and links @mentions between entries.
package richtext

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var allowedTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.H2:         true,
	atom.H3:         true,
	atom.Ul:         true,
	atom.Ol:         true,
	atom.Li:         true,
	atom.Blockquote: true,
	atom.Code:       true,
	atom.Pre:        true,
	atom.Table:      true,
	atom.Thead:      true,
	atom.Tbody:      true,
	atom.Tr:         true,
	atom.Td:         true,
	atom.Th:         true,
	atom.Strong:     true,
	atom.Em:         true,
	atom.S:          true,
	atom.U:          true,
	atom.Span:       true,
	atom.Br:         true,
	atom.A:          true,
	atom.Hr:         true,
}

var allowedAttrs = map[string]bool{
	"class":                  true,
	"data-id":                true,
	"data-name":              true,
	"data-type":              true,
	"data-entry-id":          true,
	"data-entry-name":        true,
	"data-entry-type":        true,
	"data-entry-description": true,
}

var linkAttrs = map[string]bool{
	"href":   true,
	"target": true,
	"rel":    true,
}

var allowedSchemes = []string{"http:", "https:", "mailto:"}

// Sanitize reduces markup to the editor's allow-list. Disallowed elements are
// unwrapped and their text kept. Anchors with unsafe hrefs are unwrapped too.
// The result is stable under a second Sanitize.
func Sanitize(markup string) string {
	out := sanitizePass(markup)
	// Unwrapping can leave markup the parser restructures on the next read,
	// e.g. rows outside a tbody, so settle on a fixed point.
	for i := 0; i < 4; i++ {
		next := sanitizePass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func sanitizePass(markup string) string {
	nodes, err := parseFragment(markup)
	if err != nil {
		return ""
	}
	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		for _, clean := range sanitizeNode(n) {
			container.AppendChild(clean)
		}
	}
	return renderChildren(container)
}

// sanitizeNode returns detached copies of the nodes that replace n.
func sanitizeNode(n *html.Node) []*html.Node {
	switch n.Type {
	case html.TextNode:
		return []*html.Node{{Type: html.TextNode, Data: n.Data}}
	case html.ElementNode:
	default:
		return nil
	}

	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, sanitizeNode(c)...)
	}

	if n.Namespace != "" || !allowedTags[n.DataAtom] {
		return children
	}

	clean := &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom}
	for _, attr := range n.Attr {
		if attr.Namespace != "" {
			continue
		}
		key := strings.ToLower(attr.Key)
		switch {
		case allowedAttrs[key]:
		case n.DataAtom == atom.A && linkAttrs[key]:
			if key == "href" && !safeURI(attr.Val) {
				return children
			}
		default:
			continue
		}
		clean.Attr = append(clean.Attr, html.Attribute{Key: key, Val: attr.Val})
	}
	for _, c := range children {
		clean.AppendChild(c)
	}
	return []*html.Node{clean}
}

// safeURI accepts http(s), mailto, fragments, absolute paths and
// scheme-less relative references.
func safeURI(raw string) bool {
	value := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, raw)
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, scheme := range allowedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	if lower[0] == '/' || lower[0] == '#' {
		return true
	}
	i := strings.IndexAny(lower, ":/?#")
	return i == -1 || lower[i] != ':'
}

var htmlTagPattern = regexp.MustCompile(`(?i)<[a-z][\s\S]*>`)

// IsHTML reports whether content looks like markup rather than legacy plain text.
func IsHTML(content string) bool {
	return htmlTagPattern.MatchString(content)
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.Li: true,
	atom.Blockquote: true, atom.Pre: true, atom.Tr: true, atom.Td: true,
	atom.Th: true, atom.Br: true, atom.Hr: true, atom.Div: true,
}

// StripTags returns the text of markup with whitespace collapsed.
func StripTags(markup string) string {
	nodes, err := parseFragment(markup)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
			return
		case html.ElementNode:
			if blockTags[n.DataAtom] {
				buf.WriteByte(' ')
				defer buf.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}

// Summary is the plain-text preview used on hover cards.
func Summary(markup string, limit int) string {
	text := StripTags(markup)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

func parseFragment(markup string) ([]*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	return html.ParseFragment(strings.NewReader(markup), body)
}

func renderChildren(parent *html.Node) string {
	var buf bytes.Buffer
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}
