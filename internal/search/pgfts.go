package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks entries.fts against websearch_to_tsquery with ts_headline
// snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	where, args := pgWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM entries e WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	dataSQL := fmt.Sprintf(`SELECT e.id, e.type, e.name,
			ts_headline('english', regexp_replace(e.description, '<[^>]+>', ' ', 'g'),
				websearch_to_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM entries e
		WHERE %s
		ORDER BY ts_rank(e.fts, websearch_to_tsquery('english', $1)) DESC, e.name
		LIMIT %d OFFSET %d`, where, limit, max(q.Offset, 0))

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.URL = richtext.EntryPath(r.Type, r.ID)
		r.Aliases = []string{}
		r.Tags = []string{}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgWhere builds the filter shared by the count and data queries. $1 is
// always the query text.
func pgWhere(q Query) (string, []any) {
	clauses := []string{"e.fts @@ websearch_to_tsquery('english', $1)"}
	args := []any{q.Text}
	if q.Type != "" {
		args = append(args, string(q.Type))
		clauses = append(clauses, fmt.Sprintf("e.type = $%d", len(args)))
	}
	if len(q.Tags) > 0 {
		names := make([]string, len(q.Tags))
		for i, tag := range q.Tags {
			names[i] = strings.ToLower(tag)
		}
		args = append(args, names)
		p := fmt.Sprintf("$%d", len(args))
		matching := `SELECT COUNT(DISTINCT t.id) FROM entry_tags et JOIN tags t ON t.id = et.tag_id
			WHERE et.entry_id = e.id AND lower(t.name) = ANY(` + p + `)`
		if q.TagLogic == store.TagLogicAnd {
			args = append(args, len(names))
			clauses = append(clauses, fmt.Sprintf("(%s) = $%d", matching, len(args)))
		} else {
			clauses = append(clauses, fmt.Sprintf("(%s) > 0", matching))
		}
	}
	return strings.Join(clauses, " AND "), args
}
