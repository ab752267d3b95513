package richtext

import (
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainTextToHTML converts a legacy plain-text description to paragraphs.
// Blank lines separate paragraphs, single newlines become <br>, and
// mentions are linked in loose mode when idx resolves them.
func PlainTextToHTML(text string, idx *Index) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		p := &html.Node{Type: html.ElementNode, Data: "p", DataAtom: atom.P}
		for i, line := range strings.Split(paragraph, "\n") {
			if i > 0 {
				p.AppendChild(&html.Node{Type: html.ElementNode, Data: "br", DataAtom: atom.Br})
			}
			if line == "" {
				continue
			}
			t := &html.Node{Type: html.TextNode, Data: line}
			p.AppendChild(t)
			annotateText(t, idx, ModeLoose)
		}
		root.AppendChild(p)
	}
	if root.FirstChild == nil {
		return "<p></p>"
	}
	return renderChildren(root)
}

// NormalizeDescription returns stored descriptions as sanitized markup,
// converting serialized editor documents and legacy plain text first.
func NormalizeDescription(description string, idx *Index) string {
	if strings.TrimSpace(description) == "" {
		return ""
	}
	if markup, ok := editorDocument(description); ok {
		description = markup
	} else if !IsHTML(description) {
		description = PlainTextToHTML(description, idx)
	}
	return Sanitize(description)
}

// editorDocument converts description when it is a JSON document of type
// "doc" as posted by the rich-text editor.
func editorDocument(description string) (string, bool) {
	trimmed := strings.TrimSpace(description)
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, `"doc"`) {
		return "", false
	}
	var doc DocNode
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil || doc.Type != "doc" {
		return "", false
	}
	return DocToHTML(doc), true
}
