package search

import (
	"context"

	"codex/api/internal/store"
	"github.com/sirupsen/logrus"
)

// Service is the facade that tries the engine first and falls back to
// PG FTS.
type Service struct {
	engine   Engine
	fallback Searcher
	log      logrus.FieldLogger
}

// NewService creates a search service. engine may be nil when Meilisearch
// is not configured.
func NewService(engine Engine, fallback Searcher, log logrus.FieldLogger) *Service {
	return &Service{engine: engine, fallback: fallback, log: log.WithField("component", "search")}
}

// Search tries the engine if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEntry indexes an entry (fire-and-forget).
func (s *Service) IndexEntry(entry store.Entry) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	record := RecordFromEntry(entry)
	go func() {
		if err := s.engine.IndexEntries([]Record{record}); err != nil {
			s.log.WithError(err).WithField("entry_id", record.ID).Warn("index entry")
		}
	}()
}

// DeleteEntry removes an entry from the index (fire-and-forget).
func (s *Service) DeleteEntry(id string) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.engine.DeleteEntry(id); err != nil {
			s.log.WithError(err).WithField("entry_id", id).Warn("delete entry from index")
		}
	}()
}

// ReindexAll pushes every entry to the engine synchronously and reports how
// many were sent.
func (s *Service) ReindexAll(ctx context.Context, entries EntryLister) (int, error) {
	if s.engine == nil || !s.engine.Healthy() {
		return 0, nil
	}
	all, err := entries.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		return 0, err
	}
	records := make([]Record, 0, len(all))
	for _, entry := range all {
		records = append(records, RecordFromEntry(entry))
	}
	if err := s.engine.IndexEntries(records); err != nil {
		return 0, err
	}
	s.log.WithField("count", len(records)).Info("reindexed entries")
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
