package search

import (
	"context"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string          `json:"id"`
	Type    store.EntryType `json:"type"`
	Name    string          `json:"name"`
	Aliases []string        `json:"aliases"`
	Tags    []string        `json:"tags"`
	Snippet string          `json:"snippet"`
	URL     string          `json:"url"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Type     store.EntryType // empty = both glossaries
	Tags     []string        // tag names
	TagLogic store.TagLogic
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entries into a search index.
type Indexer interface {
	IndexEntries(records []Record) error
	DeleteEntry(id string) error
}

// Engine is a search backend that maintains its own index.
type Engine interface {
	Searcher
	Indexer
}

// EntryLister loads the entries to reindex.
type EntryLister interface {
	ListEntries(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error)
}

// Record is the data we index for an entry. Description is plain text.
type Record struct {
	ID          string          `json:"id"`
	Type        store.EntryType `json:"type"`
	Name        string          `json:"name"`
	Aliases     []string        `json:"aliases"`
	Tags        []string        `json:"tags"`
	Description string          `json:"description"`
	VideoLink   string          `json:"videoLink"`
}

func RecordFromEntry(entry store.Entry) Record {
	r := Record{
		ID:          entry.ID,
		Type:        entry.Type,
		Name:        entry.Name,
		Aliases:     make([]string, 0, len(entry.Aliases)),
		Tags:        make([]string, 0, len(entry.Tags)),
		Description: richtext.StripTags(richtext.NormalizeDescription(entry.Description, nil)),
		VideoLink:   entry.VideoLink,
	}
	for _, alias := range entry.Aliases {
		r.Aliases = append(r.Aliases, alias.Name)
	}
	for _, tag := range entry.Tags {
		r.Tags = append(r.Tags, tag.Name)
	}
	return r
}
