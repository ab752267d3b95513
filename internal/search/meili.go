package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
)

const idxEntries = "codex_entries"

var (
	filterableAttributes = []string{"type", "tags"}
	searchableAttributes = []string{"name", "aliases", "description", "tags"}
)

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     logrus.FieldLogger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the entry index.
// An unreachable server is not an error; the health loop keeps probing.
func NewMeili(url, apiKey string, log logrus.FieldLogger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log.WithField("component", "meilisearch"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.WithError(err).Warnf("meilisearch unavailable at %s", url)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxEntries,
		PrimaryKey: "id",
	}); err != nil {
		m.log.WithError(err).Debugf("create index %s (may already exist)", idxEntries)
	}

	index := m.client.Index(idxEntries)
	filterable := make([]interface{}, len(filterableAttributes))
	for i, v := range filterableAttributes {
		filterable[i] = v
	}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.WithError(err).Warn("update filterable attributes")
	}
	searchable := append([]string(nil), searchableAttributes...)
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.WithError(err).Warn("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxEntries,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(max(q.Offset, 0)),
		AttributesToHighlight: []string{"name", "description"},
		AttributesToCrop:      []string{"description"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filter := buildFilter(q); filter != "" {
		sr.Filter = filter
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// buildFilter renders type and tag constraints as a Meilisearch filter
// expression.
func buildFilter(q Query) string {
	var clauses []string
	if q.Type != "" {
		clauses = append(clauses, fmt.Sprintf("type = %s", quoteFilter(string(q.Type))))
	}
	if len(q.Tags) > 0 {
		quoted := make([]string, len(q.Tags))
		for i, tag := range q.Tags {
			quoted[i] = quoteFilter(tag)
		}
		if q.TagLogic == store.TagLogicAnd {
			for _, tag := range quoted {
				clauses = append(clauses, "tags = "+tag)
			}
		} else {
			clauses = append(clauses, "tags IN ["+strings.Join(quoted, ", ")+"]")
		}
	}
	return strings.Join(clauses, " AND ")
}

func quoteFilter(value string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:      decodeString(hit, "id"),
		Type:    store.EntryType(decodeString(hit, "type")),
		Name:    decodeString(hit, "name"),
		Aliases: decodeStrings(hit, "aliases"),
		Tags:    decodeStrings(hit, "tags"),
		Snippet: firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
	}
	r.URL = richtext.EntryPath(r.Type, r.ID)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	out := []string{}
	if raw, ok := hit[key]; ok {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexEntries adds or updates entries in the search index.
func (m *Meili) IndexEntries(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEntries).AddDocuments(records, nil)
	return err
}

// DeleteEntry removes an entry from the search index.
func (m *Meili) DeleteEntry(id string) error {
	_, err := m.client.Index(idxEntries).DeleteDocument(id, nil)
	return err
}
