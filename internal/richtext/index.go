package richtext

import (
	"strings"

	"codex/api/internal/store"
)

const summaryLength = 150

// Candidate is an entry a mention may resolve to.
type Candidate struct {
	ID          string
	Type        store.EntryType
	Name        string
	Description string
	Aliases     []string
}

func CandidateFromEntry(entry store.Entry) Candidate {
	aliases := make([]string, 0, len(entry.Aliases))
	for _, alias := range entry.Aliases {
		aliases = append(aliases, alias.Name)
	}
	return Candidate{
		ID:          entry.ID,
		Type:        entry.Type,
		Name:        entry.Name,
		Description: Summary(entry.Description, summaryLength),
		Aliases:     aliases,
	}
}

func (c Candidate) Summary() store.EntrySummary {
	return store.EntrySummary{ID: c.ID, Type: c.Type, Name: c.Name, Description: c.Description}
}

// Index answers case-insensitive name and alias lookups. Canonical names
// shadow aliases; otherwise the first candidate added wins.
type Index struct {
	byName map[string]Candidate
	byID   map[string]Candidate
}

func NewIndex(candidates []Candidate) *Index {
	idx := &Index{
		byName: make(map[string]Candidate, len(candidates)),
		byID:   make(map[string]Candidate, len(candidates)),
	}
	for _, c := range candidates {
		if c.ID == "" {
			continue
		}
		if _, ok := idx.byID[c.ID]; !ok {
			idx.byID[c.ID] = c
		}
		key := normalizeName(c.Name)
		if _, ok := idx.byName[key]; key != "" && !ok {
			idx.byName[key] = c
		}
	}
	for _, c := range candidates {
		for _, alias := range c.Aliases {
			key := normalizeName(alias)
			if _, ok := idx.byName[key]; key != "" && !ok {
				idx.byName[key] = c
			}
		}
	}
	return idx
}

func (idx *Index) Lookup(name string) (Candidate, bool) {
	if idx == nil {
		return Candidate{}, false
	}
	c, ok := idx.byName[normalizeName(name)]
	return c, ok
}

func (idx *Index) ByID(id string) (Candidate, bool) {
	if idx == nil {
		return Candidate{}, false
	}
	c, ok := idx.byID[strings.TrimSpace(id)]
	return c, ok
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byID)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
