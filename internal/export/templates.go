package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var glossaryTemplate = template.Must(template.New("glossary.html").Funcs(template.FuncMap{
	"join": strings.Join,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/glossary.html"))

// TemplateData holds data for glossary template rendering
type TemplateData struct {
	Title       string
	GeneratedAt time.Time
	Entries     []TemplateEntry
}

// TemplateEntry is one glossary entry. DescriptionHTML must already be
// sanitized.
type TemplateEntry struct {
	Name            string
	Type            string
	Aliases         []string
	Tags            []string
	VideoLink       string
	DescriptionHTML template.HTML
}

// RenderGlossaryHTML renders the glossary template with provided data
func RenderGlossaryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := glossaryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
