package richtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTextToHTML(t *testing.T) {
	out := PlainTextToHTML("Do @Arm circles.\r\n\r\nSecond line\nthird <b>", testIndex())
	assert.Equal(t, `<p>Do `+armCirclesSpan+`.</p><p>Second line<br/>third &lt;b&gt;</p>`, out)
	assert.Equal(t, "<p></p>", PlainTextToHTML("  \n\n ", nil))
}

func TestNormalizeDescription(t *testing.T) {
	assert.Equal(t, "", NormalizeDescription("   ", nil))
	assert.Equal(t, "<p>plain</p>", NormalizeDescription("plain", nil))
	assert.Equal(t, "<p>x</p>", NormalizeDescription(`<p onclick="y()">x</p>`, nil))
}

func TestDocToHTML(t *testing.T) {
	raw := []byte(`{"type":"doc","content":[
		{"type":"heading","attrs":{"level":1},"content":[{"type":"text","text":"Title"}]},
		{"type":"paragraph","content":[
			{"type":"text","text":"Do a "},
			{"type":"mention","attrs":{"id":"merkin","label":"Merkin"}},
			{"type":"text","text":" fast","marks":[{"type":"bold"},{"type":"italic"}]},
			{"type":"hardBreak"},
			{"type":"text","text":"site","marks":[{"type":"link","attrs":{"href":"https://f3nation.com"}}]}
		]}
	]}`)
	out, err := DocJSONToHTML(raw)
	require.NoError(t, err)
	assert.Equal(t, `<h2>Title</h2><p>Do a <span class="mention" data-id="merkin" data-name="Merkin">@Merkin</span><strong><em> fast</em></strong><br><a href="https://f3nation.com" target="_blank" rel="noopener noreferrer">site</a></p>`, out)

	_, err = DocJSONToHTML([]byte(`{`))
	assert.Error(t, err)
}

func TestNormalizeDescriptionAcceptsEditorDocument(t *testing.T) {
	raw := `{"type":"doc","content":[{"type":"paragraph","content":[
		{"type":"text","text":"Then "},
		{"type":"mention","attrs":{"id":"merkin","label":"Merkin"}},
		{"type":"text","text":"<script>x</script>"}]}]}`
	out := NormalizeDescription(raw, nil)
	assert.Equal(t, `<p>Then <span class="mention" data-id="merkin" data-name="Merkin">@Merkin</span>&lt;script&gt;x&lt;/script&gt;</p>`, out)

	assert.Equal(t, "<p>{not json}</p>", NormalizeDescription("{not json}", nil))
}
