package richtext

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// DocNode is a node of an editor JSON document.
type DocNode struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []DocNode      `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []DocMark      `json:"marks,omitempty"`
}

type DocMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// DocJSONToHTML renders a serialized editor document. The output is not
// sanitized.
func DocJSONToHTML(raw []byte) (string, error) {
	var doc DocNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode editor document: %w", err)
	}
	return DocToHTML(doc), nil
}

func DocToHTML(doc DocNode) string {
	var b strings.Builder
	renderDocNode(&b, doc)
	return b.String()
}

func renderDocNode(b *strings.Builder, node DocNode) {
	switch node.Type {
	case "doc":
		renderDocContent(b, node.Content)
	case "paragraph":
		wrap(b, "p", node.Content)
	case "heading":
		// Only h2 and h3 survive sanitizing.
		tag := "h2"
		if level, ok := node.Attrs["level"].(float64); ok && level >= 3 {
			tag = "h3"
		}
		wrap(b, tag, node.Content)
	case "bulletList":
		wrap(b, "ul", node.Content)
	case "orderedList":
		wrap(b, "ol", node.Content)
	case "listItem":
		wrap(b, "li", node.Content)
	case "blockquote":
		wrap(b, "blockquote", node.Content)
	case "codeBlock":
		b.WriteString("<pre><code>")
		for _, child := range node.Content {
			b.WriteString(html.EscapeString(child.Text))
		}
		b.WriteString("</code></pre>")
	case "table":
		wrap(b, "table", node.Content)
	case "tableRow":
		wrap(b, "tr", node.Content)
	case "tableCell":
		wrap(b, "td", node.Content)
	case "tableHeader":
		wrap(b, "th", node.Content)
	case "hardBreak":
		b.WriteString("<br>")
	case "horizontalRule":
		b.WriteString("<hr>")
	case "mention":
		id := stringAttr(node.Attrs, "id")
		label := stringAttr(node.Attrs, "label")
		if label == "" {
			label = id
		}
		fmt.Fprintf(b, `<span class="mention" data-id="%s" data-name="%s">@%s</span>`,
			html.EscapeString(id), html.EscapeString(label), html.EscapeString(label))
	case "text":
		b.WriteString(renderMarks(node.Text, node.Marks))
	default:
		renderDocContent(b, node.Content)
	}
}

func renderDocContent(b *strings.Builder, content []DocNode) {
	for _, child := range content {
		renderDocNode(b, child)
	}
}

func wrap(b *strings.Builder, tag string, content []DocNode) {
	b.WriteString("<" + tag + ">")
	renderDocContent(b, content)
	b.WriteString("</" + tag + ">")
}

func renderMarks(text string, marks []DocMark) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "link":
			href := stringAttr(marks[i].Attrs, "href")
			out = fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, html.EscapeString(href), out)
		}
	}
	return out
}

func stringAttr(attrs map[string]any, key string) string {
	v, _ := attrs[key].(string)
	return v
}
