// Package catalog serves entry lookups for mention resolution and rendering.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTTL  = 5 * time.Minute
	lookupLimit = 8
)

type Repository interface {
	FindEntryByID(ctx context.Context, id string) (*store.Entry, error)
	FindEntryByName(ctx context.Context, name string) (*store.Entry, error)
	SaveEntry(ctx context.Context, entry store.Entry) (store.Entry, error)
	ReplaceEntryReferences(ctx context.Context, sourceID string, targets []store.EntryReference) error
}

// Catalog caches lookups used to build mention indexes. Reads made on
// behalf of writers go straight to the repository.
type Catalog struct {
	repo  Repository
	cache *ristretto.Cache[string, store.Entry]
	ttl   time.Duration
}

func New(repo Repository) (*Catalog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, store.Entry]{
		NumCounters:        100_000,
		MaxCost:            10_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create entry cache: %w", err)
	}
	return &Catalog{repo: repo, cache: cache, ttl: defaultTTL}, nil
}

func (c *Catalog) Close() {
	c.cache.Close()
}

// Invalidate drops every cached lookup.
func (c *Catalog) Invalidate() {
	c.cache.Clear()
}

func (c *Catalog) FindEntryByID(ctx context.Context, id string) (*store.Entry, error) {
	return c.repo.FindEntryByID(ctx, id)
}

func (c *Catalog) FindEntryByName(ctx context.Context, name string) (*store.Entry, error) {
	return c.repo.FindEntryByName(ctx, name)
}

func (c *Catalog) SaveEntry(ctx context.Context, entry store.Entry) (store.Entry, error) {
	saved, err := c.repo.SaveEntry(ctx, entry)
	if err != nil {
		return store.Entry{}, err
	}
	c.Invalidate()
	return saved, nil
}

func (c *Catalog) ReplaceEntryReferences(ctx context.Context, sourceID string, targets []store.EntryReference) error {
	return c.repo.ReplaceEntryReferences(ctx, sourceID, targets)
}

func (c *Catalog) cachedByID(ctx context.Context, id string) (*store.Entry, error) {
	key := "id:" + id
	if entry, ok := c.cache.Get(key); ok {
		return &entry, nil
	}
	entry, err := c.repo.FindEntryByID(ctx, id)
	if err != nil || entry == nil {
		return entry, err
	}
	c.cache.SetWithTTL(key, *entry, 1, c.ttl)
	return entry, nil
}

func (c *Catalog) cachedByName(ctx context.Context, name string) (*store.Entry, error) {
	key := "name:" + strings.ToLower(strings.TrimSpace(name))
	if entry, ok := c.cache.Get(key); ok {
		return &entry, nil
	}
	entry, err := c.repo.FindEntryByName(ctx, name)
	if err != nil || entry == nil {
		return entry, err
	}
	c.cache.SetWithTTL(key, *entry, 1, c.ttl)
	return entry, nil
}

// Candidates fetches every entry markup could mention and indexes them.
// Lookups run concurrently; the index is built in lookup order so the
// result does not depend on scheduling.
func (c *Catalog) Candidates(ctx context.Context, markup string) (*richtext.Index, error) {
	ids, names := richtext.MentionLookups(markup)
	return c.index(ctx, ids, names)
}

func (c *Catalog) index(ctx context.Context, ids, names []string) (*richtext.Index, error) {
	found := make([]*store.Entry, len(ids)+len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupLimit)
	for i, id := range ids {
		g.Go(func() error {
			entry, err := c.cachedByID(gctx, id)
			if err != nil {
				return fmt.Errorf("lookup entry %s: %w", id, err)
			}
			found[i] = entry
			return nil
		})
	}
	for i, name := range names {
		g.Go(func() error {
			entry, err := c.cachedByName(gctx, name)
			if err != nil {
				return fmt.Errorf("lookup entry named %q: %w", name, err)
			}
			found[len(ids)+i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]richtext.Candidate, 0, len(found))
	for _, entry := range found {
		if entry != nil {
			candidates = append(candidates, richtext.CandidateFromEntry(*entry))
		}
	}
	return richtext.NewIndex(candidates), nil
}

// RenderedEntry is an entry as served to readers.
type RenderedEntry struct {
	store.Entry
	DescriptionHTML      string                        `json:"descriptionHtml"`
	ResolvedMentionsData map[string]store.EntrySummary `json:"resolvedMentionsData"`
}

// Render sanitizes the description, converting legacy plain text, and links
// its mentions.
func (c *Catalog) Render(ctx context.Context, entry store.Entry) (RenderedEntry, error) {
	description := richtext.NormalizeDescription(entry.Description, nil)
	ids, names := richtext.MentionLookups(description)
	ids = appendMissing(ids, entry.MentionedEntries)
	idx, err := c.index(ctx, ids, names)
	if err != nil {
		return RenderedEntry{}, err
	}
	if !richtext.IsHTML(entry.Description) && strings.TrimSpace(entry.Description) != "" {
		description = richtext.Sanitize(richtext.PlainTextToHTML(entry.Description, idx))
	}
	annotated := richtext.ResolveMentions(description, idx)
	return RenderedEntry{
		Entry:                entry,
		DescriptionHTML:      annotated.HTML,
		ResolvedMentionsData: annotated.Resolved(),
	}, nil
}

// Preview sanitizes and links markup that has not been saved yet.
func (c *Catalog) Preview(ctx context.Context, markup string) (richtext.AnnotatedText, error) {
	clean := richtext.NormalizeDescription(markup, nil)
	idx, err := c.Candidates(ctx, clean)
	if err != nil {
		return richtext.AnnotatedText{}, err
	}
	return richtext.ResolveMentions(clean, idx), nil
}

func appendMissing(ids, extra []string) []string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range extra {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
