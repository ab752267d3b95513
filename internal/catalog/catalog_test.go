package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"codex/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu          sync.Mutex
	entries     []store.Entry
	idCalls     int
	nameCalls   int
	findErr     error
	saveEntryFn func(store.Entry) (store.Entry, error)
}

func (f *fakeRepo) FindEntryByID(_ context.Context, id string) (*store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, e := range f.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindEntryByName(_ context.Context, name string) (*store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, e := range f.entries {
		if strings.EqualFold(e.Name, name) {
			return &e, nil
		}
		for _, a := range e.Aliases {
			if strings.EqualFold(a.Name, name) {
				return &e, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeRepo) SaveEntry(_ context.Context, entry store.Entry) (store.Entry, error) {
	if f.saveEntryFn != nil {
		return f.saveEntryFn(entry)
	}
	return entry, nil
}

func (f *fakeRepo) ReplaceEntryReferences(context.Context, string, []store.EntryReference) error {
	return nil
}

func newTestCatalog(t *testing.T, repo *fakeRepo) *Catalog {
	t.Helper()
	c, err := New(repo)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func glossary() *fakeRepo {
	return &fakeRepo{entries: []store.Entry{
		{ID: "merkin", Type: store.EntryTypeExicon, Name: "Merkin", Description: "<p>A push-up</p>", Aliases: []store.Alias{{Name: "Push-up"}}},
		{ID: "arm-circles", Type: store.EntryTypeExicon, Name: "Arm circles", Description: "<p>Rotate arms</p>"},
		{ID: "q", Type: store.EntryTypeLexicon, Name: "Q", Description: "<p>The leader</p>"},
	}}
}

func TestCandidatesResolvesNamesAndIDs(t *testing.T) {
	c := newTestCatalog(t, glossary())

	idx, err := c.Candidates(context.Background(), `<p><span class="mention" data-id="q">@Q</span> then @Arm circles forward and @push-up</p>`)
	require.NoError(t, err)

	_, ok := idx.ByID("q")
	assert.True(t, ok)
	match, ok := idx.Lookup("arm circles")
	require.True(t, ok)
	assert.Equal(t, "arm-circles", match.ID)
	match, ok = idx.Lookup("push-up")
	require.True(t, ok)
	assert.Equal(t, "merkin", match.ID)
}

func TestCandidatesUsesCache(t *testing.T) {
	repo := glossary()
	c := newTestCatalog(t, repo)
	ctx := context.Background()

	_, err := c.Candidates(ctx, `<p>@Merkin</p>`)
	require.NoError(t, err)
	c.cache.Wait()
	_, err = c.Candidates(ctx, `<p>@Merkin</p>`)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.nameCalls)

	_, err = c.SaveEntry(ctx, store.Entry{ID: "merkin"})
	require.NoError(t, err)
	_, err = c.Candidates(ctx, `<p>@Merkin</p>`)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.nameCalls, "saves clear the cache")
}

func TestSaveEntryPropagatesErrors(t *testing.T) {
	repo := glossary()
	repo.saveEntryFn = func(store.Entry) (store.Entry, error) { return store.Entry{}, store.ErrVersionConflict }
	c := newTestCatalog(t, repo)

	_, err := c.SaveEntry(context.Background(), store.Entry{ID: "merkin"})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestCandidatesPropagatesErrors(t *testing.T) {
	repo := glossary()
	repo.findErr = errors.New("db down")
	c := newTestCatalog(t, repo)

	_, err := c.Candidates(context.Background(), `<p>@Merkin</p>`)
	assert.ErrorContains(t, err, "db down")
}

func TestRender(t *testing.T) {
	c := newTestCatalog(t, glossary())
	rendered, err := c.Render(context.Background(), store.Entry{
		ID:               "burpee",
		Type:             store.EntryTypeExicon,
		Name:             "Burpee",
		Description:      `<p onclick="x()">Squat thrust then @Merkin.</p>`,
		MentionedEntries: []string{"q"},
	})
	require.NoError(t, err)

	assert.Contains(t, rendered.DescriptionHTML, `<a class="mention-link" href="/exicon/merkin">@Merkin</a>`)
	assert.NotContains(t, rendered.DescriptionHTML, "onclick")
	require.Contains(t, rendered.ResolvedMentionsData, "merkin")
	assert.Equal(t, "A push-up", rendered.ResolvedMentionsData["merkin"].Description)
	assert.NotContains(t, rendered.ResolvedMentionsData, "q", "only mentions present in the text are reported")
}

func TestRenderLegacyPlainText(t *testing.T) {
	c := newTestCatalog(t, glossary())
	rendered, err := c.Render(context.Background(), store.Entry{
		ID:          "old",
		Type:        store.EntryTypeLexicon,
		Description: "Ask the @Q.\n\nThanks",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rendered.DescriptionHTML, `<p>Ask the <span class="mention" data-id="q"`))
	assert.True(t, strings.HasSuffix(rendered.DescriptionHTML, `.</p><p>Thanks</p>`))
}

func TestPreview(t *testing.T) {
	c := newTestCatalog(t, glossary())
	out, err := c.Preview(context.Background(), `<p>@Q<script>alert(1)</script></p>`)
	require.NoError(t, err)
	assert.NotContains(t, out.HTML, "<script>")
	assert.Empty(t, out.Mentions, "script text joins the mention token and does not resolve")

	out, err = c.Preview(context.Background(), `<p>@Q rocks</p>`)
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, out.MentionedIDs())
}
