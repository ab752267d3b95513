package richtext

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"codex/api/internal/store"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Mode selects how the end of a plain-text mention is found.
type Mode int

const (
	// ModeStructured keeps everything up to a line break or a character
	// outside the mention alphabet, trimming trailing spaces only.
	ModeStructured Mode = iota
	// ModeLoose also drops trailing sentence punctuation.
	ModeLoose
)

// Token is an @mention found in plain text. Start and End are byte offsets
// covering the @ and the name.
type Token struct {
	Start int
	End   int
	Name  string
}

// ExtractMentions scans text for @name tokens. An @ directly after a letter
// or digit is part of an e-mail address and is skipped.
func ExtractMentions(text string, mode Mode) []Token {
	return extractMentions(text, mode, 0)
}

// extractMentions is ExtractMentions for text that continues rendered
// content ending in before (0 when nothing precedes it).
func extractMentions(text string, mode Mode, before rune) []Token {
	var tokens []Token
	for i := 0; i < len(text); i++ {
		if text[i] != '@' {
			continue
		}
		prev := before
		if i > 0 {
			prev, _ = utf8.DecodeLastRuneInString(text[:i])
		}
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			continue
		}
		j := i + 1
		for j < len(text) && isMentionByte(text[j]) {
			j++
		}
		cutset := " "
		if mode == ModeLoose {
			cutset = " ._-"
		}
		name := strings.TrimRight(text[i+1:j], cutset)
		if name == "" || name[0] == ' ' {
			continue
		}
		end := i + 1 + len(name)
		tokens = append(tokens, Token{Start: i, End: end, Name: name})
		i = end - 1
	}
	return tokens
}

func isMentionByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == ' ', b == '_', b == '.', b == '-':
		return true
	}
	return false
}

// Match is a resolved mention. Text is the prefix of the token that matched.
type Match struct {
	Candidate Candidate
	Text      string
}

// Resolve tries the whole token, then drops trailing words one at a time.
// The longest match wins.
func Resolve(name string, idx *Index) (Match, bool) {
	for _, attempt := range lookupNames(name) {
		if c, ok := idx.Lookup(attempt); ok {
			return Match{Candidate: c, Text: attempt}, true
		}
	}
	return Match{}, false
}

// lookupNames lists the names Resolve tries, longest first.
func lookupNames(name string) []string {
	name = strings.TrimRight(name, " ")
	var out []string
	add := func(candidate string) {
		candidate = strings.TrimRight(candidate, " ")
		if candidate == "" {
			return
		}
		out = append(out, candidate)
		if trimmed := strings.TrimRight(candidate, "._-"); trimmed != candidate && trimmed != "" {
			out = append(out, trimmed)
		}
	}
	add(name)
	for end := strings.LastIndexByte(name, ' '); end > 0; end = strings.LastIndexByte(name[:end], ' ') {
		add(name[:end])
	}
	return out
}

type ResolvedMention struct {
	TargetID    string          `json:"targetEntryId"`
	TargetType  store.EntryType `json:"targetType"`
	TargetName  string          `json:"targetName"`
	Description string          `json:"description"`
	DisplayText string          `json:"displayText"`
}

type AnnotatedText struct {
	HTML     string            `json:"html"`
	Mentions []ResolvedMention `json:"mentions"`
}

// MentionedIDs lists target ids once each, in order of first appearance.
func (a AnnotatedText) MentionedIDs() []string {
	ids := []string{}
	seen := map[string]bool{}
	for _, m := range a.Mentions {
		if !seen[m.TargetID] {
			seen[m.TargetID] = true
			ids = append(ids, m.TargetID)
		}
	}
	return ids
}

// Resolved maps each target id to its summary.
func (a AnnotatedText) Resolved() map[string]store.EntrySummary {
	out := make(map[string]store.EntrySummary, len(a.Mentions))
	for _, m := range a.Mentions {
		out[m.TargetID] = store.EntrySummary{ID: m.TargetID, Type: m.TargetType, Name: m.TargetName, Description: m.Description}
	}
	return out
}

var mentionSelector = cascadia.MustCompile("span.mention")

// ResolveMentions links mentions in markup against idx. Existing mention
// spans are refreshed from the index, plain @name text is linked when it
// resolves, and anything unresolved is left as literal text. Running it on
// its own output with the same index changes nothing.
func ResolveMentions(markup string, idx *Index) AnnotatedText {
	nodes, err := parseFragment(markup)
	if err != nil {
		return AnnotatedText{HTML: markup}
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	var result AnnotatedText
	for _, span := range cascadia.QueryAll(root, mentionSelector) {
		if insideMentionOrLink(span) {
			continue
		}
		refreshMentionSpan(span, idx)
	}
	mergeTextNodes(root)
	for _, text := range collectTextNodes(root) {
		annotateText(text, idx, ModeStructured)
	}
	for _, span := range cascadia.QueryAll(root, mentionSelector) {
		if insideMentionOrLink(span) {
			continue
		}
		id := attr(span, "data-id")
		c, ok := idx.ByID(id)
		if !ok {
			continue
		}
		result.Mentions = append(result.Mentions, ResolvedMention{
			TargetID:    c.ID,
			TargetType:  c.Type,
			TargetName:  c.Name,
			Description: c.Description,
			DisplayText: textContent(span),
		})
	}
	result.HTML = renderChildren(root)
	return result
}

// refreshMentionSpan rebuilds a mention span from the index, or replaces it
// with its literal text when the target is unknown.
func refreshMentionSpan(span *html.Node, idx *Index) {
	text := strings.TrimSpace(textContent(span))
	c, ok := idx.ByID(firstAttr(span, "data-id", "data-entry-id"))
	if !ok {
		name := firstAttr(span, "data-name", "data-entry-name", "data-label")
		if name == "" {
			name = strings.TrimPrefix(text, "@")
		}
		c, ok = idx.Lookup(name)
	}
	if !ok {
		literal := text
		if literal == "" {
			literal = "@" + firstAttr(span, "data-name", "data-entry-name", "data-label")
		}
		span.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: literal}, span)
		span.Parent.RemoveChild(span)
		return
	}
	display := text
	if !strings.HasPrefix(display, "@") {
		display = "@" + c.Name
	}
	span.Parent.InsertBefore(mentionNode(c, display), span)
	span.Parent.RemoveChild(span)
}

func annotateText(n *html.Node, idx *Index, mode Mode) {
	text := n.Data
	tokens := extractMentions(text, mode, precedingRune(n))
	if len(tokens) == 0 {
		return
	}
	parent := n.Parent
	last := 0
	replaced := false
	for _, tok := range tokens {
		match, ok := Resolve(tok.Name, idx)
		if !ok {
			continue
		}
		end := tok.Start + 1 + len(match.Text)
		if tok.Start > last {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[last:tok.Start]}, n)
		}
		parent.InsertBefore(mentionNode(match.Candidate, text[tok.Start:end]), n)
		last = end
		replaced = true
	}
	if !replaced {
		return
	}
	if last < len(text) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[last:]}, n)
	}
	parent.RemoveChild(n)
}

// precedingRune is the last rendered rune of the sibling right before n.
// A mention span inserted by an earlier pass keeps the rune it was cut
// from, so "@Q@Merkin" scans the same before and after annotation.
func precedingRune(n *html.Node) rune {
	if n.PrevSibling == nil {
		return 0
	}
	text := textContent(n.PrevSibling)
	if text == "" {
		return 0
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	return r
}

func mentionNode(c Candidate, display string) *html.Node {
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: "mention"},
			{Key: "data-id", Val: c.ID},
			{Key: "data-name", Val: c.Name},
			{Key: "data-type", Val: string(c.Type)},
			{Key: "data-entry-description", Val: c.Description},
		},
	}
	link := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr: []html.Attribute{
			{Key: "class", Val: "mention-link"},
			{Key: "href", Val: EntryPath(c.Type, c.ID)},
		},
	}
	link.AppendChild(&html.Node{Type: html.TextNode, Data: display})
	span.AppendChild(link)
	return span
}

// EntryPath is the site-relative URL of an entry page.
func EntryPath(entryType store.EntryType, id string) string {
	return "/" + string(entryType) + "/" + url.PathEscape(id)
}

// skipText marks subtrees whose text is never scanned for mentions.
var skipText = map[atom.Atom]bool{atom.A: true, atom.Code: true, atom.Pre: true}

func collectTextNodes(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (skipText[n.DataAtom] || mentionSelector.Match(n)) {
			return
		}
		if n.Type == html.TextNode {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// mergeTextNodes joins adjacent text siblings so scanning sees what a
// re-parse of the rendered output would see.
func mergeTextNodes(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			n.RemoveChild(next)
			continue
		}
		if c.Type == html.ElementNode {
			mergeTextNodes(c)
		}
		c = next
	}
}

func insideMentionOrLink(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (p.DataAtom == atom.A || mentionSelector.Match(p)) {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func firstAttr(n *html.Node, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(attr(n, key)); v != "" {
			return v
		}
	}
	return ""
}

// MentionLookups lists what a caller must fetch to build an Index for
// markup: ids of mention spans, and every name Resolve may try.
func MentionLookups(markup string) (ids []string, names []string) {
	nodes, err := parseFragment(markup)
	if err != nil {
		return nil, nil
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	seenID := map[string]bool{}
	seenName := map[string]bool{}
	addName := func(name string) {
		key := normalizeName(name)
		if key != "" && !seenName[key] {
			seenName[key] = true
			names = append(names, name)
		}
	}
	for _, span := range cascadia.QueryAll(root, mentionSelector) {
		if id := firstAttr(span, "data-id", "data-entry-id"); id != "" && !seenID[id] {
			seenID[id] = true
			ids = append(ids, id)
		}
		if name := firstAttr(span, "data-name", "data-entry-name", "data-label"); name != "" {
			addName(name)
		}
		for _, tok := range ExtractMentions(strings.TrimSpace(textContent(span)), ModeStructured) {
			for _, attempt := range lookupNames(tok.Name) {
				addName(attempt)
			}
		}
	}
	mergeTextNodes(root)
	for _, text := range collectTextNodes(root) {
		for _, tok := range extractMentions(text.Data, ModeStructured, precedingRune(text)) {
			for _, attempt := range lookupNames(tok.Name) {
				addName(attempt)
			}
		}
	}
	return ids, names
}
