package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"codex/api/internal/util"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrEntryExists     = errors.New("entry already exists")
	ErrVersionConflict = errors.New("entry was modified concurrently")
	ErrStatusConflict  = errors.New("submission is no longer pending")
	ErrTagExists       = errors.New("tag already exists")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const entryColumns = `e.id, e.type, e.name, e.description, e.video_link, e.mentioned_entries, e.version, e.created_at, e.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		mentioned []byte
	)
	if err := row.Scan(&entry.ID, &entry.Type, &entry.Name, &entry.Description, &entry.VideoLink, &mentioned, &entry.Version, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return Entry{}, err
	}
	if len(mentioned) > 0 {
		if err := json.Unmarshal(mentioned, &entry.MentionedEntries); err != nil {
			return Entry{}, fmt.Errorf("decode mentioned entries for %s: %w", entry.ID, err)
		}
	}
	if entry.MentionedEntries == nil {
		entry.MentionedEntries = []string{}
	}
	entry.Aliases = []Alias{}
	return entry, nil
}

// FindEntryByID returns nil when no entry has the id.
func (s *PostgresStore) FindEntryByID(ctx context.Context, id string) (*Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries e WHERE e.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry %s: %w", id, err)
	}
	entries := []Entry{entry}
	if err := s.attachRelations(ctx, entries); err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// FindEntryByName matches the canonical name first, then aliases, ignoring case.
func (s *PostgresStore) FindEntryByName(ctx context.Context, name string) (*Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	const query = `
		SELECT ` + entryColumns + `
		FROM entries e
		WHERE lower(e.name) = lower($1)
			OR EXISTS (SELECT 1 FROM entry_aliases a WHERE a.entry_id = e.id AND lower(a.name) = lower($1))
		ORDER BY (lower(e.name) = lower($1)) DESC, e.created_at ASC
		LIMIT 1
	`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry by name: %w", err)
	}
	entries := []Entry{entry}
	if err := s.attachRelations(ctx, entries); err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// SearchEntriesByName backs mention autocomplete: prefix matches rank first.
func (s *PostgresStore) SearchEntriesByName(ctx context.Context, query string) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Entry{}, nil
	}
	const sqlQuery = `
		SELECT ` + entryColumns + `
		FROM entries e
		WHERE e.name ILIKE '%' || $1 || '%'
			OR EXISTS (SELECT 1 FROM entry_aliases a WHERE a.entry_id = e.id AND a.name ILIKE '%' || $1 || '%')
		ORDER BY (e.name ILIKE $1 || '%') DESC, e.name ASC
		LIMIT 10
	`
	return s.queryEntries(ctx, sqlQuery, escapeLike(query))
}

func (s *PostgresStore) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Type != "" {
		clauses = append(clauses, "e.type = "+arg(string(filter.Type)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := arg(escapeLike(q))
		clauses = append(clauses, fmt.Sprintf(`(e.name ILIKE '%%' || %[1]s || '%%'
			OR e.description ILIKE '%%' || %[1]s || '%%'
			OR EXISTS (SELECT 1 FROM entry_aliases a WHERE a.entry_id = e.id AND a.name ILIKE '%%' || %[1]s || '%%'))`, p))
	}
	if letter := strings.TrimSpace(filter.Letter); letter != "" {
		if letter == "#" {
			clauses = append(clauses, `e.name !~* '^[a-z]'`)
		} else {
			clauses = append(clauses, "upper(left(e.name, 1)) = upper("+arg(letter[:1])+")")
		}
	}
	if len(filter.TagIDs) > 0 {
		p := arg(filter.TagIDs)
		if filter.TagLogic == TagLogicOr {
			clauses = append(clauses, `EXISTS (SELECT 1 FROM entry_tags t WHERE t.entry_id = e.id AND t.tag_id = ANY(`+p+`))`)
		} else {
			clauses = append(clauses, `(SELECT COUNT(DISTINCT t.tag_id) FROM entry_tags t WHERE t.entry_id = e.id AND t.tag_id = ANY(`+p+`)) = `+arg(len(filter.TagIDs)))
		}
	}

	query := `SELECT ` + entryColumns + ` FROM entries e`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY lower(e.name) ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	return s.queryEntries(ctx, query, args...)
}

// ListReferencingEntries returns entries whose descriptions mention id.
func (s *PostgresStore) ListReferencingEntries(ctx context.Context, id string) ([]Entry, error) {
	const query = `
		SELECT ` + entryColumns + `
		FROM entry_references r
		JOIN entries e ON e.id = r.source_entry_id
		WHERE r.target_entry_id = $1
		ORDER BY lower(e.name) ASC
	`
	return s.queryEntries(ctx, query, id)
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if err := s.attachRelations(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) attachRelations(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
		index[entry.ID] = i
	}

	aliasRows, err := s.db.QueryContext(ctx, `SELECT entry_id, name FROM entry_aliases WHERE entry_id = ANY($1) ORDER BY entry_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load aliases: %w", err)
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var entryID, name string
		if err := aliasRows.Scan(&entryID, &name); err != nil {
			return fmt.Errorf("scan alias: %w", err)
		}
		i := index[entryID]
		entries[i].Aliases = append(entries[i].Aliases, Alias{Name: name})
	}
	if err := aliasRows.Err(); err != nil {
		return fmt.Errorf("iterate aliases: %w", err)
	}

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT et.entry_id, t.id, t.name
		FROM entry_tags et
		JOIN tags t ON t.id = et.tag_id
		WHERE et.entry_id = ANY($1)
		ORDER BY et.entry_id, et.position, t.name
	`, ids)
	if err != nil {
		return fmt.Errorf("load entry tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var entryID string
		var tag Tag
		if err := tagRows.Scan(&entryID, &tag.ID, &tag.Name); err != nil {
			return fmt.Errorf("scan entry tag: %w", err)
		}
		i := index[entryID]
		entries[i].Tags = append(entries[i].Tags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return fmt.Errorf("iterate entry tags: %w", err)
	}
	return nil
}

// SaveEntry inserts the entry when Version is zero and otherwise updates it,
// provided the stored version still equals entry.Version. Tags without an id
// are matched by name and created when missing.
func (s *PostgresStore) SaveEntry(ctx context.Context, entry Entry) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin save entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := saveEntryTx(ctx, tx, entry)
	if err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit save entry: %w", err)
	}
	return saved, nil
}

// ApproveSubmission saves entry and marks the pending submission approved in
// one transaction. Nothing is written unless both succeed.
func (s *PostgresStore) ApproveSubmission(ctx context.Context, id int64, entry Entry, update StatusUpdate) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin approve submission %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var status SubmissionStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM submissions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lock submission %d: %w", id, err)
	}
	if status != StatusPending {
		return Entry{}, ErrStatusConflict
	}

	saved, err := saveEntryTx(ctx, tx, entry)
	if err != nil {
		return Entry{}, err
	}
	update.EntryID = saved.ID
	if err := setStatus(ctx, tx, id, StatusApproved, update); err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit approve submission %d: %w", id, err)
	}
	return saved, nil
}

func saveEntryTx(ctx context.Context, tx *sql.Tx, entry Entry) (Entry, error) {
	if entry.MentionedEntries == nil {
		entry.MentionedEntries = []string{}
	}
	mentioned, err := json.Marshal(entry.MentionedEntries)
	if err != nil {
		return Entry{}, fmt.Errorf("encode mentioned entries: %w", err)
	}
	if entry.Type == EntryTypeLexicon {
		entry.Tags = nil
		entry.VideoLink = ""
	}

	if entry.Version == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO entries (id, type, name, description, video_link, mentioned_entries)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING version, created_at, updated_at
		`, entry.ID, entry.Type, entry.Name, entry.Description, entry.VideoLink, mentioned).Scan(&entry.Version, &entry.CreatedAt, &entry.UpdatedAt)
		if isUniqueViolation(err) {
			return Entry{}, fmt.Errorf("insert entry %s: %w", entry.ID, ErrEntryExists)
		}
		if err != nil {
			return Entry{}, fmt.Errorf("insert entry %s: %w", entry.ID, err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			UPDATE entries
			SET type = $2, name = $3, description = $4, video_link = $5, mentioned_entries = $6,
				version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $7
			RETURNING version, created_at, updated_at
		`, entry.ID, entry.Type, entry.Name, entry.Description, entry.VideoLink, mentioned, entry.Version).Scan(&entry.Version, &entry.CreatedAt, &entry.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("update entry %s: %w", entry.ID, ErrVersionConflict)
		}
		if err != nil {
			return Entry{}, fmt.Errorf("update entry %s: %w", entry.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_aliases WHERE entry_id = $1`, entry.ID); err != nil {
		return Entry{}, fmt.Errorf("clear aliases: %w", err)
	}
	aliases := make([]Alias, 0, len(entry.Aliases))
	for _, alias := range entry.Aliases {
		name := strings.TrimSpace(alias.Name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO entry_aliases (entry_id, position, name) VALUES ($1, $2, $3)`, entry.ID, len(aliases), name); err != nil {
			return Entry{}, fmt.Errorf("insert alias: %w", err)
		}
		aliases = append(aliases, Alias{Name: name})
	}
	entry.Aliases = aliases

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = $1`, entry.ID); err != nil {
		return Entry{}, fmt.Errorf("clear entry tags: %w", err)
	}
	var tags []Tag
	seen := map[string]bool{}
	for _, ref := range entry.Tags {
		tag, err := ensureTag(ctx, tx, ref)
		if err != nil {
			return Entry{}, err
		}
		if tag.ID == "" || seen[tag.ID] {
			continue
		}
		seen[tag.ID] = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO entry_tags (entry_id, tag_id, position) VALUES ($1, $2, $3)`, entry.ID, tag.ID, len(tags)); err != nil {
			return Entry{}, fmt.Errorf("link tag %s: %w", tag.ID, err)
		}
		tags = append(tags, tag)
	}
	entry.Tags = tags
	return entry, nil
}

func ensureTag(ctx context.Context, tx *sql.Tx, ref Tag) (Tag, error) {
	if ref.ID != "" {
		var tag Tag
		err := tx.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE id = $1`, ref.ID).Scan(&tag.ID, &tag.Name)
		if err == nil {
			return tag, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Tag{}, fmt.Errorf("lookup tag %s: %w", ref.ID, err)
		}
	}
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return Tag{}, nil
	}
	var tag Tag
	err := tx.QueryRowContext(ctx, `
		INSERT INTO tags (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`, util.NewID("tag"), name).Scan(&tag.ID, &tag.Name)
	if err != nil {
		return Tag{}, fmt.Errorf("ensure tag %q: %w", name, err)
	}
	return tag, nil
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceEntryReferences swaps the outgoing reference rows of sourceID.
// Targets that no longer exist are skipped.
func (s *PostgresStore) ReplaceEntryReferences(ctx context.Context, sourceID string, targets []EntryReference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace references: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_references WHERE source_entry_id = $1`, sourceID); err != nil {
		return fmt.Errorf("clear references: %w", err)
	}
	for _, target := range targets {
		if target.TargetEntryID == "" || target.TargetEntryID == sourceID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entry_references (source_entry_id, target_entry_id, context)
			SELECT $1, id, $3 FROM entries WHERE id = $2
			ON CONFLICT (source_entry_id, target_entry_id) DO NOTHING
		`, sourceID, target.TargetEntryID, target.Context); err != nil {
			return fmt.Errorf("insert reference %s -> %s: %w", sourceID, target.TargetEntryID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit references: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEntryIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list entry ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM tags ORDER BY lower(name)`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	tags := []Tag{}
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *PostgresStore) CreateTag(ctx context.Context, name string) (Tag, error) {
	tag := Tag{ID: util.NewID("tag"), Name: strings.TrimSpace(name)}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tags (id, name) VALUES ($1, $2)`, tag.ID, tag.Name)
	if isUniqueViolation(err) {
		return Tag{}, ErrTagExists
	}
	if err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStore) RenameTag(ctx context.Context, id, name string) (Tag, error) {
	tag := Tag{ID: id, Name: strings.TrimSpace(name)}
	result, err := s.db.ExecContext(ctx, `UPDATE tags SET name = $2 WHERE id = $1`, tag.ID, tag.Name)
	if isUniqueViolation(err) {
		return Tag{}, ErrTagExists
	}
	if err != nil {
		return Tag{}, fmt.Errorf("rename tag: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return Tag{}, ErrNotFound
	}
	return tag, nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const submissionColumns = `id, submission_type, data, submitter_name, submitter_email, status, rejection_reason, admin_notes, reviewed_by, reviewed_at, entry_id, created_at`

func scanSubmission(row rowScanner) (Submission, error) {
	var (
		sub        Submission
		data       []byte
		reviewedAt sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.Type, &data, &sub.SubmitterName, &sub.SubmitterEmail, &sub.Status, &sub.RejectionReason, &sub.AdminNotes, &sub.ReviewedBy, &reviewedAt, &sub.EntryID, &sub.Timestamp); err != nil {
		return Submission{}, err
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		sub.ReviewedAt = &t
	}
	switch sub.Type {
	case SubmissionNew:
		sub.New = &NewEntryData{}
		if err := json.Unmarshal(data, sub.New); err != nil {
			return Submission{}, fmt.Errorf("decode submission %d: %w", sub.ID, err)
		}
	case SubmissionEdit:
		sub.Edit = &EditEntryData{}
		if err := json.Unmarshal(data, sub.Edit); err != nil {
			return Submission{}, fmt.Errorf("decode submission %d: %w", sub.ID, err)
		}
	default:
		return Submission{}, fmt.Errorf("submission %d has unknown type %q", sub.ID, sub.Type)
	}
	return sub, nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub Submission) (Submission, error) {
	var data any
	switch sub.Type {
	case SubmissionNew:
		data = sub.New
	case SubmissionEdit:
		data = sub.Edit
	}
	if data == nil {
		return Submission{}, fmt.Errorf("submission %q has no data", sub.Type)
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return Submission{}, fmt.Errorf("encode submission: %w", err)
	}
	created, err := scanSubmission(s.db.QueryRowContext(ctx, `
		INSERT INTO submissions (submission_type, data, submitter_name, submitter_email)
		VALUES ($1, $2, $3, $4)
		RETURNING `+submissionColumns, sub.Type, encoded, sub.SubmitterName, sub.SubmitterEmail))
	if err != nil {
		return Submission{}, fmt.Errorf("create submission: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("get submission %d: %w", id, err)
	}
	return sub, nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]Submission, error) {
	return s.ListSubmissions(ctx, StatusPending)
}

// ListSubmissions lists oldest first; an empty status lists everything.
func (s *PostgresStore) ListSubmissions(ctx context.Context, status SubmissionStatus) ([]Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	subs := []Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateStatus moves a pending submission to status. Submissions that are
// no longer pending are left untouched and ErrStatusConflict is returned.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status SubmissionStatus, update StatusUpdate) error {
	return setStatus(ctx, s.db, id, status, update)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func setStatus(ctx context.Context, db execQuerier, id int64, status SubmissionStatus, update StatusUpdate) error {
	reviewedAt := update.ReviewedAt
	if reviewedAt.IsZero() {
		reviewedAt = time.Now().UTC()
	}
	result, err := db.ExecContext(ctx, `
		UPDATE submissions
		SET status = $2, rejection_reason = $3, admin_notes = $4, reviewed_by = $5, reviewed_at = $6, entry_id = $7
		WHERE id = $1 AND status = 'pending'
	`, id, status, update.RejectionReason, update.AdminNotes, update.ReviewedBy, reviewedAt, update.EntryID)
	if err != nil {
		return fmt.Errorf("update submission %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check submission %d: %w", id, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
