package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"codex/api/internal/store"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	healthy  bool
	results  []Result
	err      error
	indexed  []Record
	deleted  []string
	indexErr error
}

func (f *fakeEngine) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) IndexEntries(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return f.indexErr
}

func (f *fakeEngine) DeleteEntry(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) indexedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed)
}

type fakeFallback struct {
	calls   int
	results []Result
	err     error
}

func (f *fakeFallback) Search(context.Context, Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeFallback) Healthy() bool { return true }

type listerFunc func(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error)

func (fn listerFunc) ListEntries(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error) {
	return fn(ctx, filter)
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestSearchPrefersHealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: true, results: []Result{{ID: "merkin"}}}
	fallback := &fakeFallback{}
	svc := NewService(engine, fallback, quietLogger())

	resp := svc.Search(context.Background(), Query{Text: "push"})
	assert.Equal(t, "push", resp.Query)
	assert.Equal(t, 1, resp.Total)
	assert.Zero(t, fallback.calls)
}

func TestSearchFallsBack(t *testing.T) {
	fallback := &fakeFallback{results: []Result{{ID: "q"}}}

	t.Run("engine unhealthy", func(t *testing.T) {
		svc := NewService(&fakeEngine{healthy: false}, fallback, quietLogger())
		resp := svc.Search(context.Background(), Query{Text: "leader"})
		require.Len(t, resp.Results, 1)
	})

	t.Run("engine error", func(t *testing.T) {
		logger, hook := test.NewNullLogger()
		svc := NewService(&fakeEngine{healthy: true, err: errors.New("boom")}, fallback, logger)
		resp := svc.Search(context.Background(), Query{Text: "leader"})
		require.Len(t, resp.Results, 1)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	})

	t.Run("no engine", func(t *testing.T) {
		svc := NewService(nil, fallback, quietLogger())
		resp := svc.Search(context.Background(), Query{Text: "leader"})
		require.Len(t, resp.Results, 1)
	})
}

func TestSearchFallbackErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, &fakeFallback{err: errors.New("db down")}, quietLogger())
	resp := svc.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexEntryIsAsync(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := NewService(engine, nil, quietLogger())

	svc.IndexEntry(store.Entry{ID: "merkin", Name: "Merkin", Description: "<p>A <em>push</em>-up</p>"})
	assert.Eventually(t, func() bool { return engine.indexedCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "A push-up", engine.indexed[0].Description)
}

func TestIndexEntrySkipsUnhealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: false}
	svc := NewService(engine, nil, quietLogger())
	svc.IndexEntry(store.Entry{ID: "merkin"})
	svc.DeleteEntry("merkin")
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, engine.indexedCount())
}

func TestReindexAll(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := NewService(engine, nil, quietLogger())
	lister := listerFunc(func(_ context.Context, filter store.EntryFilter) ([]store.Entry, error) {
		assert.Zero(t, filter.Limit)
		return []store.Entry{
			{ID: "merkin", Type: store.EntryTypeExicon, Name: "Merkin", Tags: []store.Tag{{ID: "t1", Name: "Core"}}},
			{ID: "q", Type: store.EntryTypeLexicon, Name: "Q", Aliases: []store.Alias{{Name: "Leader"}}},
		}, nil
	})

	n, err := svc.ReindexAll(context.Background(), lister)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, engine.indexed, 2)
	assert.Equal(t, []string{"Core"}, engine.indexed[0].Tags)
	assert.Equal(t, []string{"Leader"}, engine.indexed[1].Aliases)
}

func TestReindexAllPropagatesLoadErrors(t *testing.T) {
	svc := NewService(&fakeEngine{healthy: true}, nil, quietLogger())
	_, err := svc.ReindexAll(context.Background(), listerFunc(func(context.Context, store.EntryFilter) ([]store.Entry, error) {
		return nil, errors.New("db down")
	}))
	assert.EqualError(t, err, "db down")
}

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, "", buildFilter(Query{}))
	assert.Equal(t, `type = "exicon"`, buildFilter(Query{Type: store.EntryTypeExicon}))
	assert.Equal(t, `type = "exicon" AND tags IN ["Core", "Say \"hi\""]`,
		buildFilter(Query{Type: store.EntryTypeExicon, Tags: []string{"Core", `Say "hi"`}}))
	assert.Equal(t, `tags = "Core" AND tags = "Arms"`,
		buildFilter(Query{Tags: []string{"Core", "Arms"}, TagLogic: store.TagLogicAnd}))
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"merkin"`),
		"type":        json.RawMessage(`"exicon"`),
		"name":        json.RawMessage(`"Merkin"`),
		"aliases":     json.RawMessage(`["Push-up"]`),
		"description": json.RawMessage(`"A push-up"`),
		"_formatted":  json.RawMessage(`{"description":"A <mark>push</mark>-up","aliases":["Push-up"]}`),
	}
	r := hitToResult(hit)
	assert.Equal(t, "merkin", r.ID)
	assert.Equal(t, store.EntryTypeExicon, r.Type)
	assert.Equal(t, []string{"Push-up"}, r.Aliases)
	assert.Equal(t, []string{}, r.Tags)
	assert.Equal(t, "A <mark>push</mark>-up", r.Snippet)
	assert.Equal(t, "/exicon/merkin", r.URL)
}

func TestPgWhere(t *testing.T) {
	where, args := pgWhere(Query{Text: "push up"})
	assert.Equal(t, "e.fts @@ websearch_to_tsquery('english', $1)", where)
	assert.Equal(t, []any{"push up"}, args)

	where, args = pgWhere(Query{Text: "x", Type: store.EntryTypeLexicon, Tags: []string{"Core", "Arms"}, TagLogic: store.TagLogicAnd})
	assert.Contains(t, where, "e.type = $2")
	assert.Contains(t, where, "lower(t.name) = ANY($3)")
	assert.Contains(t, where, ") = $4")
	assert.Equal(t, []any{"x", "lexicon", []string{"core", "arms"}, 2}, args)

	where, _ = pgWhere(Query{Text: "x", Tags: []string{"Core"}})
	assert.Contains(t, where, ") > 0")
}
