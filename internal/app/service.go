package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codex/api/internal/auth"
	"codex/api/internal/catalog"
	"codex/api/internal/config"
	"codex/api/internal/export"
	"codex/api/internal/history"
	"codex/api/internal/moderation"
	"codex/api/internal/rbac"
	"codex/api/internal/richtext"
	"codex/api/internal/search"
	"codex/api/internal/session"
	"codex/api/internal/store"
	"codex/api/internal/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type sessionKey struct{}

func withSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session attached by the HTTP layer.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

type dataStore interface {
	FindEntryByID(context.Context, string) (*store.Entry, error)
	FindEntryByName(context.Context, string) (*store.Entry, error)
	SearchEntriesByName(context.Context, string) ([]store.Entry, error)
	SaveEntry(context.Context, store.Entry) (store.Entry, error)
	ReplaceEntryReferences(context.Context, string, []store.EntryReference) error
	ListEntries(context.Context, store.EntryFilter) ([]store.Entry, error)
	ListEntryIDs(context.Context) ([]string, error)
	ListReferencingEntries(context.Context, string) ([]store.Entry, error)
	DeleteEntry(context.Context, string) error
	ListTags(context.Context) ([]store.Tag, error)
	CreateTag(context.Context, string) (store.Tag, error)
	RenameTag(context.Context, string, string) (store.Tag, error)
	DeleteTag(context.Context, string) error
	CreateSubmission(context.Context, store.Submission) (store.Submission, error)
	GetSubmission(context.Context, int64) (store.Submission, error)
	ListPending(context.Context) ([]store.Submission, error)
	ListSubmissions(context.Context, store.SubmissionStatus) ([]store.Submission, error)
	UpdateStatus(context.Context, int64, store.SubmissionStatus, store.StatusUpdate) error
	ApproveSubmission(context.Context, int64, store.Entry, store.StatusUpdate) (store.Entry, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveState(context.Context, string) error
	ConsumeState(context.Context, string) error
	SaveRefreshSession(context.Context, string, session.TokenData, time.Time) error
	LookupRefreshSession(context.Context, string) (session.TokenData, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type identityProvider interface {
	Configured() bool
	LoginURL(string) (string, error)
	Exchange(context.Context, string) (*oauth2.Token, error)
	UserInfo(context.Context, *oauth2.Token) (auth.UserInfo, error)
}

type historyService interface {
	Record(history.Snapshot, string, string) (history.Revision, error)
	History(string, int) ([]history.Revision, error)
	Revision(string, string) (history.Snapshot, history.Revision, error)
}

// Deps are the collaborators New wires together. Everything except Store
// may be nil, which disables the matching feature.
type Deps struct {
	Store          dataStore
	Sessions       sessionStore
	Provider       identityProvider
	History        historyService
	SearchEngine   search.Engine
	SearchFallback search.Searcher
	Archiver       export.Archiver
	Notifier       moderation.Listener
	Log            logrus.FieldLogger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	provider  identityProvider
	history   historyService
	catalog   *catalog.Catalog
	moderator *moderation.Moderator
	search    *search.Service
	exporter  *export.Service
	intake    intakeListener
	log       logrus.FieldLogger
}

// intakeListener is told about every accepted public submission.
type intakeListener interface {
	SubmissionReceived(ctx context.Context, sub store.Submission)
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	cat, err := catalog.New(deps.Store)
	if err != nil {
		return nil, fmt.Errorf("create catalog: %w", err)
	}
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		provider: deps.Provider,
		history:  deps.History,
		catalog:  cat,
		search:   search.NewService(deps.SearchEngine, deps.SearchFallback, log),
		log:      log,
	}
	s.exporter = export.NewService(deps.Store, cat, deps.Archiver, cfg.PublicBaseURL, log)

	opts := []moderation.Option{
		moderation.WithLogger(log.WithField("component", "moderation")),
		moderation.WithListener(entryEffects{s}),
	}
	if deps.Notifier != nil {
		opts = append(opts, moderation.WithListener(deps.Notifier))
		if intake, ok := deps.Notifier.(intakeListener); ok {
			s.intake = intake
		}
	}
	s.moderator = moderation.NewModerator(cat, deps.Store, cat, opts...)
	return s, nil
}

func (s *Service) Close() {
	s.catalog.Close()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Sessions

func (s *Service) authEnabled() bool {
	return s.sessions != nil && s.provider != nil && s.provider.Configured()
}

// LoginURL stores a fresh single-use state and returns the provider URL
// the client should open.
func (s *Service) LoginURL(ctx context.Context) (string, string, error) {
	if !s.authEnabled() {
		return "", "", domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Sign-in is not configured", nil)
	}
	state := util.NewID("state")
	if err := s.sessions.SaveState(ctx, state); err != nil {
		return "", "", err
	}
	loginURL, err := s.provider.LoginURL(state)
	if err != nil {
		return "", "", err
	}
	return loginURL, state, nil
}

// CompleteLogin consumes state, exchanges the code and opens a session for
// the provider's user.
func (s *Service) CompleteLogin(ctx context.Context, code, state string) (Session, error) {
	if !s.authEnabled() {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Sign-in is not configured", nil)
	}
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_CALLBACK", "code and state are required", nil)
	}
	if err := s.sessions.ConsumeState(ctx, state); err != nil {
		if errors.Is(err, session.ErrStateNotFound) {
			return Session{}, domainError(http.StatusBadRequest, "INVALID_STATE", "Sign-in state expired, please try again", nil)
		}
		return Session{}, err
	}
	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign-in failed", nil)
	}
	info, err := s.provider.UserInfo(ctx, token)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign-in failed", nil)
	}
	user := session.TokenData{
		UserID:      info.Sub,
		DisplayName: info.DisplayName(),
		Email:       info.Email,
		Role:        string(rbac.RoleForEmail(info.Email, s.cfg.AdminEmails)),
	}
	s.log.WithFields(logrus.Fields{"user_id": user.UserID, "role": user.Role}).Info("user signed in")
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil || refreshToken == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Admin membership is re-read so list changes apply on the next refresh.
	user.Role = string(rbac.RoleForEmail(user.Email, s.cfg.AdminEmails))
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user session.TokenData) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.UserID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	user.CreatedAt = now
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.UserID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.sessions != nil {
		revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if s.sessions == nil {
		return nil
	}
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Entries

func (s *Service) ListEntries(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be exicon or lexicon", nil)
	}
	if filter.TagLogic != "" && filter.TagLogic != store.TagLogicAnd && filter.TagLogic != store.TagLogicOr {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tagLogic must be AND or OR", nil)
	}
	entries, err := s.store.ListEntries(ctx, filter)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	return entries, nil
}

// SuggestEntries backs the editor's @mention autocomplete.
func (s *Service) SuggestEntries(ctx context.Context, query string) ([]store.EntrySummary, error) {
	query = strings.TrimSpace(query)
	out := []store.EntrySummary{}
	if query == "" {
		return out, nil
	}
	entries, err := s.store.SearchEntriesByName(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		out = append(out, summarize(entry))
	}
	return out, nil
}

func (s *Service) GetEntry(ctx context.Context, id string) (catalog.RenderedEntry, error) {
	entry, err := s.requireEntry(ctx, id)
	if err != nil {
		return catalog.RenderedEntry{}, err
	}
	return s.catalog.Render(ctx, entry)
}

// EntryReferences lists the entries whose descriptions mention id.
func (s *Service) EntryReferences(ctx context.Context, id string) ([]store.EntrySummary, error) {
	if _, err := s.requireEntry(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListReferencingEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]store.EntrySummary, 0, len(entries))
	for _, entry := range entries {
		out = append(out, summarize(entry))
	}
	return out, nil
}

func (s *Service) requireEntry(ctx context.Context, id string) (store.Entry, error) {
	entry, err := s.store.FindEntryByID(ctx, id)
	if err != nil {
		return store.Entry{}, err
	}
	if entry == nil {
		return store.Entry{}, &moderation.NotFoundError{Resource: "entry", ID: id}
	}
	return *entry, nil
}

// CreateEntry publishes an entry directly, bypassing the submission queue.
// A name already in use is refused; a slug taken by a differently named
// entry gets a numeric suffix.
func (s *Service) CreateEntry(ctx context.Context, data store.NewEntryData, actor string) (store.Entry, error) {
	if err := moderation.ValidateNewEntry(data); err != nil {
		return store.Entry{}, err
	}
	entry := moderation.Merge(store.Entry{Type: data.Type}, moderation.NewEntryChanges(data), store.Changes{})
	existing, err := s.store.FindEntryByName(ctx, entry.Name)
	if err != nil {
		return store.Entry{}, err
	}
	if existing != nil && strings.EqualFold(existing.Name, entry.Name) {
		return store.Entry{}, fmt.Errorf("create entry %q: %w", entry.Name, store.ErrEntryExists)
	}
	var saved store.Entry
	for attempt := 0; ; attempt++ {
		entry.ID = moderation.EntryID(entry.Name, attempt)
		saved, err = s.saveEntry(ctx, entry)
		if !errors.Is(err, store.ErrEntryExists) || attempt >= moderation.MaxEntryIDAttempts {
			break
		}
	}
	if err != nil {
		return store.Entry{}, err
	}
	s.afterSave(saved, actor, "Create entry")
	return saved, nil
}

// UpdateEntry applies changes on top of the stored entry. version must
// match the stored version.
func (s *Service) UpdateEntry(ctx context.Context, id string, version int64, changes store.Changes, actor string) (store.Entry, error) {
	original, err := s.requireEntry(ctx, id)
	if err != nil {
		return store.Entry{}, err
	}
	if changes.Empty() {
		return store.Entry{}, &moderation.ValidationError{Message: "at least one change is required"}
	}
	if err := moderation.ValidateChanges(original.Type, changes); err != nil {
		return store.Entry{}, err
	}
	if version != 0 && version != original.Version {
		return store.Entry{}, fmt.Errorf("update entry %s: %w", id, store.ErrVersionConflict)
	}
	merged := moderation.Merge(original, changes, store.Changes{})
	saved, err := s.saveEntry(ctx, merged)
	if err != nil {
		return store.Entry{}, err
	}
	s.afterSave(saved, actor, "Edit entry")
	return saved, nil
}

func (s *Service) DeleteEntry(ctx context.Context, id, actor string) error {
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	s.catalog.Invalidate()
	s.search.DeleteEntry(id)
	s.log.WithFields(logrus.Fields{"entry_id": id, "actor": actor}).Info("entry deleted")
	return nil
}

// saveEntry sanitizes the description, links its mentions and writes the
// entry and its reference rows.
func (s *Service) saveEntry(ctx context.Context, entry store.Entry) (store.Entry, error) {
	entry.Description = richtext.NormalizeDescription(entry.Description, nil)
	annotated := richtext.AnnotatedText{}
	if entry.Description != "" {
		idx, err := s.catalog.Candidates(ctx, entry.Description)
		if err != nil {
			return store.Entry{}, fmt.Errorf("gather mention candidates: %w", err)
		}
		annotated = richtext.ResolveMentions(entry.Description, idx)
	}
	entry.MentionedEntries = withoutSelf(annotated.MentionedIDs(), entry.ID)

	saved, err := s.catalog.SaveEntry(ctx, entry)
	if err != nil {
		return store.Entry{}, err
	}
	refs := make([]store.EntryReference, 0, len(saved.MentionedEntries))
	seen := map[string]bool{}
	for _, m := range annotated.Mentions {
		if m.TargetID == saved.ID || seen[m.TargetID] {
			continue
		}
		seen[m.TargetID] = true
		refs = append(refs, store.EntryReference{TargetEntryID: m.TargetID, Context: m.DisplayText})
	}
	if err := s.catalog.ReplaceEntryReferences(ctx, saved.ID, refs); err != nil {
		s.log.WithError(err).WithField("entry_id", saved.ID).Warn("entry references not replaced; recompute later")
	}
	return saved, nil
}

// afterSave runs the side effects of a published revision.
func (s *Service) afterSave(entry store.Entry, actor, message string) {
	s.search.IndexEntry(entry)
	s.recordHistory(entry, actor, message)
}

func (s *Service) recordHistory(entry store.Entry, actor, message string) {
	if s.history == nil {
		return
	}
	if actor == "" {
		actor = "system"
	}
	if _, err := s.history.Record(history.SnapshotFromEntry(entry), actor, message); err != nil {
		s.log.WithError(err).WithField("entry_id", entry.ID).Warn("history not recorded")
	}
}

func (s *Service) EntryHistory(ctx context.Context, id string, limit int) ([]history.Revision, error) {
	if _, err := s.requireEntry(ctx, id); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	revisions, err := s.history.History(id, limit)
	if errors.Is(err, history.ErrNoHistory) {
		return []history.Revision{}, nil
	}
	return revisions, err
}

func (s *Service) EntryRevision(ctx context.Context, id, hash string) (history.Snapshot, history.Revision, error) {
	if s.history == nil {
		return history.Snapshot{}, history.Revision{}, &moderation.NotFoundError{Resource: "revision", ID: hash}
	}
	snap, rev, err := s.history.Revision(id, hash)
	if err != nil {
		if errors.Is(err, history.ErrNoHistory) || errors.Is(err, history.ErrRevisionNotFound) {
			return history.Snapshot{}, history.Revision{}, &moderation.NotFoundError{Resource: "revision", ID: hash}
		}
		return history.Snapshot{}, history.Revision{}, err
	}
	return snap, rev, nil
}

// RebuildReferences recomputes mention links for every entry and reports
// how many were processed.
func (s *Service) RebuildReferences(ctx context.Context) (int, error) {
	ids, err := s.store.ListEntryIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if _, err := s.moderator.RecomputeReferences(ctx, id); err != nil {
			return i, fmt.Errorf("recompute references for %s: %w", id, err)
		}
	}
	s.catalog.Invalidate()
	return len(ids), nil
}

// Tags

func (s *Service) ListTags(ctx context.Context) ([]store.Tag, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []store.Tag{}
	}
	return tags, nil
}

func (s *Service) CreateTag(ctx context.Context, name string) (store.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Tag{}, &moderation.ValidationError{Message: "tag name is required", Fields: map[string]string{"name": "required"}}
	}
	return s.store.CreateTag(ctx, name)
}

func (s *Service) RenameTag(ctx context.Context, id, name string) (store.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Tag{}, &moderation.ValidationError{Message: "tag name is required", Fields: map[string]string{"name": "required"}}
	}
	tag, err := s.store.RenameTag(ctx, id, name)
	if err != nil {
		return store.Tag{}, err
	}
	s.catalog.Invalidate()
	return tag, nil
}

func (s *Service) DeleteTag(ctx context.Context, id string) error {
	if err := s.store.DeleteTag(ctx, id); err != nil {
		return err
	}
	s.catalog.Invalidate()
	return nil
}

// Search and export

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if q.Type != "" && !q.Type.Valid() {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be exicon or lexicon", nil)
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) ReindexSearch(ctx context.Context) (int, error) {
	return s.search.ReindexAll(ctx, s.store)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if req.Type != "" && !req.Type.Valid() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be exicon or lexicon", nil)
	}
	return s.exporter.Export(ctx, req)
}

// Preview sanitizes markup and links its mentions without saving.
func (s *Service) Preview(ctx context.Context, markup string) (richtext.AnnotatedText, error) {
	annotated, err := s.catalog.Preview(ctx, markup)
	if err != nil {
		return richtext.AnnotatedText{}, err
	}
	if annotated.Mentions == nil {
		annotated.Mentions = []richtext.ResolvedMention{}
	}
	return annotated, nil
}

func summarize(entry store.Entry) store.EntrySummary {
	return store.EntrySummary{
		ID:          entry.ID,
		Type:        entry.Type,
		Name:        entry.Name,
		Description: richtext.Summary(entry.Description, 200),
	}
}

func withoutSelf(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
