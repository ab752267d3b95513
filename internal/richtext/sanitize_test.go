package richtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "script text kept", in: `<p>Hi<script>alert(1)</script></p>`, want: `<p>Hialert(1)</p>`},
		{name: "javascript href unwrapped", in: `<p><a href="javascript:alert(1)">click</a></p>`, want: `<p>click</p>`},
		{name: "obfuscated scheme unwrapped", in: `<a href=" java&#10;script:alert(1)">x</a>`, want: `x`},
		{name: "safe link kept", in: `<a href="https://example.com" target="_blank" rel="noopener">x</a>`, want: `<a href="https://example.com" target="_blank" rel="noopener">x</a>`},
		{name: "relative link kept", in: `<a href="/exicon/burpee">Burpee</a>`, want: `<a href="/exicon/burpee">Burpee</a>`},
		{name: "attributes filtered", in: `<p style="color:red" onclick="x()" class="lead">t</p>`, want: `<p class="lead">t</p>`},
		{name: "href only on anchors", in: `<span href="/x" class="mention">t</span>`, want: `<span class="mention">t</span>`},
		{name: "disallowed tags unwrapped", in: `<div><h1>Title</h1><p>x</p></div>`, want: `Title<p>x</p>`},
		{name: "mention attributes kept", in: `<span class="mention" data-id="m" data-name="Merkin" data-label="x">@Merkin</span>`, want: `<span class="mention" data-id="m" data-name="Merkin">@Merkin</span>`},
		{name: "comments dropped", in: `<p>a<!-- hidden -->b</p>`, want: `<p>ab</p>`},
		{name: "void elements", in: `<p>a<br>b</p><hr>`, want: `<p>a<br/>b</p><hr/>`},
		{name: "images dropped", in: `<p><img src=x onerror=alert(1)>ok</p>`, want: `<p>ok</p>`},
		{name: "empty", in: ``, want: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		`<p>Hi<script>alert(1)</script></p>`,
		`<table><tfoot><tr><td>x</td></tr></tfoot></table>`,
		`<ul><li><div><p>nested</p></div></li></ul>`,
		`<p>a<h1>b</h1>c</p>`,
		`<pre>
code</pre>`,
		`<svg><a href="javascript:x">t</a></svg>`,
		`plain & <b>bold</b> text`,
		`<noscript><p>x</p></noscript>`,
	}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), in)
	}
}

func TestSafeURI(t *testing.T) {
	tests := []struct {
		uri  string
		safe bool
	}{
		{"https://example.com", true},
		{"HTTP://example.com", true},
		{"mailto:a@example.com", true},
		{"/lexicon/q", true},
		{"#top", true},
		{"lexicon/q", true},
		{"javascript:alert(1)", false},
		{"JaVaScRiPt:alert(1)", false},
		{"data:text/html;base64,xx", false},
		{"vbscript:x", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.safe, safeURI(tt.uri), tt.uri)
	}
}

func TestIsHTML(t *testing.T) {
	assert.True(t, IsHTML("<p>x</p>"))
	assert.False(t, IsHTML("5 < 6 and @Merkin"))
}

func TestStripTagsAndSummary(t *testing.T) {
	assert.Equal(t, "Title First line Second", StripTags("<h2>Title</h2><p>First  line<br>Second</p>"))
	assert.Equal(t, "abc...", Summary("<p>abcdef</p>", 3))
	assert.Equal(t, "abc", Summary("<p>abc</p>", 3))
}
