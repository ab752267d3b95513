package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"codex/api/internal/auth"
	"codex/api/internal/config"
	"codex/api/internal/history"
	"codex/api/internal/search"
	"codex/api/internal/session"
	"codex/api/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// memStore is an in-memory dataStore.
type memStore struct {
	mu          sync.Mutex
	entries     map[string]store.Entry
	refs        map[string][]store.EntryReference
	tags        []store.Tag
	submissions map[int64]store.Submission
	nextSubID   int64
	pingErr     error
	saveErr     error
}

func newMemStore(entries ...store.Entry) *memStore {
	m := &memStore{
		entries:     map[string]store.Entry{},
		refs:        map[string][]store.EntryReference{},
		submissions: map[int64]store.Submission{},
	}
	for _, e := range entries {
		if e.Version == 0 {
			e.Version = 1
		}
		m.entries[e.ID] = e
	}
	return m
}

func (m *memStore) FindEntryByID(_ context.Context, id string) (*store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memStore) FindEntryByName(_ context.Context, name string) (*store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
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

func (m *memStore) SearchEntriesByName(_ context.Context, query string) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Entry
	for _, e := range m.sorted() {
		if strings.Contains(strings.ToLower(e.Name), strings.ToLower(query)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) SaveEntry(_ context.Context, entry store.Entry) (store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return store.Entry{}, m.saveErr
	}
	existing, ok := m.entries[entry.ID]
	if entry.Version == 0 {
		if ok {
			return store.Entry{}, store.ErrEntryExists
		}
		entry.CreatedAt = time.Now()
	} else if !ok || existing.Version != entry.Version {
		return store.Entry{}, store.ErrVersionConflict
	}
	entry.Version++
	entry.UpdatedAt = time.Now()
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *memStore) ReplaceEntryReferences(_ context.Context, sourceID string, targets []store.EntryReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[sourceID] = targets
	return nil
}

func (m *memStore) ListEntries(_ context.Context, filter store.EntryFilter) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Entry
	for _, e := range m.sorted() {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Letter != "" && !strings.HasPrefix(strings.ToLower(e.Name), strings.ToLower(filter.Letter)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) ListEntryIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, e := range m.sorted() {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (m *memStore) ListReferencingEntries(_ context.Context, id string) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Entry
	for _, e := range m.sorted() {
		for _, ref := range m.refs[e.ID] {
			if ref.TargetEntryID == id {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.entries, id)
	delete(m.refs, id)
	return nil
}

func (m *memStore) ListTags(context.Context) ([]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Tag(nil), m.tags...), nil
}

func (m *memStore) CreateTag(_ context.Context, name string) (store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tags {
		if strings.EqualFold(t.Name, name) {
			return store.Tag{}, store.ErrTagExists
		}
	}
	tag := store.Tag{ID: "tag-" + strings.ToLower(name), Name: name}
	m.tags = append(m.tags, tag)
	return tag, nil
}

func (m *memStore) RenameTag(_ context.Context, id, name string) (store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tags {
		if t.ID == id {
			m.tags[i].Name = name
			return m.tags[i], nil
		}
	}
	return store.Tag{}, store.ErrNotFound
}

func (m *memStore) DeleteTag(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tags {
		if t.ID == id {
			m.tags = append(m.tags[:i], m.tags[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) CreateSubmission(_ context.Context, sub store.Submission) (store.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	sub.ID = m.nextSubID
	sub.Timestamp = time.Now()
	sub.Status = store.StatusPending
	m.submissions[sub.ID] = sub
	return sub, nil
}

func (m *memStore) GetSubmission(_ context.Context, id int64) (store.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return store.Submission{}, store.ErrNotFound
	}
	return sub, nil
}

func (m *memStore) ListPending(ctx context.Context) ([]store.Submission, error) {
	return m.ListSubmissions(ctx, store.StatusPending)
}

func (m *memStore) ListSubmissions(_ context.Context, status store.SubmissionStatus) ([]store.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Submission
	for _, sub := range m.submissions {
		if status == "" || sub.Status == status {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id int64, status store.SubmissionStatus, update store.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sub.Status != store.StatusPending {
		return store.ErrStatusConflict
	}
	m.submissions[id] = resolved(sub, status, update)
	return nil
}

// ApproveSubmission only records the status once the entry saved. Callers
// serialize approvals of one submission.
func (m *memStore) ApproveSubmission(ctx context.Context, id int64, entry store.Entry, update store.StatusUpdate) (store.Entry, error) {
	m.mu.Lock()
	sub, ok := m.submissions[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return store.Entry{}, store.ErrNotFound
	case sub.Status != store.StatusPending:
		m.mu.Unlock()
		return store.Entry{}, store.ErrStatusConflict
	}
	m.mu.Unlock()

	saved, err := m.SaveEntry(ctx, entry)
	if err != nil {
		return store.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	update.EntryID = saved.ID
	m.submissions[id] = resolved(sub, store.StatusApproved, update)
	return saved, nil
}

func resolved(sub store.Submission, status store.SubmissionStatus, update store.StatusUpdate) store.Submission {
	sub.Status = status
	sub.RejectionReason = update.RejectionReason
	sub.AdminNotes = update.AdminNotes
	sub.ReviewedBy = update.ReviewedBy
	reviewedAt := update.ReviewedAt
	sub.ReviewedAt = &reviewedAt
	sub.EntryID = update.EntryID
	return sub
}

func (m *memStore) Ping(context.Context) error {
	return m.pingErr
}

func (m *memStore) sorted() []store.Entry {
	out := make([]store.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *memStore) entry(id string) store.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id]
}

type fakeProvider struct {
	info        auth.UserInfo
	exchangeErr error
}

func (p *fakeProvider) Configured() bool { return true }

func (p *fakeProvider) LoginURL(state string) (string, error) {
	return "https://auth.example.test/api/oauth/authorize?state=" + state, nil
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	if code != "good-code" {
		return nil, errors.New("bad code")
	}
	return &oauth2.Token{AccessToken: "provider-token"}, nil
}

func (p *fakeProvider) UserInfo(context.Context, *oauth2.Token) (auth.UserInfo, error) {
	return p.info, nil
}

type fakeSearcher struct {
	query search.Query
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) ([]search.Result, int, error) {
	f.query = q
	return []search.Result{{ID: "merkin", Type: store.EntryTypeExicon, Name: "Merkin"}}, 1, nil
}

func (f *fakeSearcher) Healthy() bool { return true }

type testEnv struct {
	svc      *Service
	store    *memStore
	redis    *miniredis.Miniredis
	sessions *session.RedisStore
	provider *fakeProvider
	history  *history.Service
	searcher *fakeSearcher
	logs     *test.Hook
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:     "test-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		ClientOrigin:  "http://localhost:3000",
		PublicBaseURL: "https://codex.example.test",
		AdminEmails:   []string{"admin@example.test"},
	}
}

func newTestEnv(t *testing.T, entries ...store.Entry) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = sessions.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		store:    newMemStore(entries...),
		redis:    mr,
		sessions: sessions,
		provider: &fakeProvider{info: auth.UserInfo{Sub: "user-1", Name: "Blake", Email: "blake@example.test"}},
		history:  history.New(t.TempDir()),
		searcher: &fakeSearcher{},
		logs:     hook,
	}
	svc, err := New(testConfig(), Deps{
		Store:          env.store,
		Sessions:       env.sessions,
		Provider:       env.provider,
		History:        env.history,
		SearchFallback: env.searcher,
		Log:            logger,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	env.svc = svc
	return env
}

// signIn runs the login flow for the given e-mail and returns the session.
func (e *testEnv) signIn(t *testing.T, email string) Session {
	t.Helper()
	e.provider.info = auth.UserInfo{Sub: "user-" + email, Name: strings.Split(email, "@")[0], Email: email}
	_, state, err := e.svc.LoginURL(context.Background())
	require.NoError(t, err)
	sess, err := e.svc.CompleteLogin(context.Background(), "good-code", state)
	require.NoError(t, err)
	return sess
}

func merkin() store.Entry {
	return store.Entry{
		ID:          "merkin",
		Type:        store.EntryTypeExicon,
		Name:        "Merkin",
		Description: "<p>A push-up.</p>",
		Aliases:     []store.Alias{{Name: "Push-up"}},
		Version:     1,
	}
}

func burpee() store.Entry {
	return store.Entry{
		ID:          "burpee",
		Type:        store.EntryTypeExicon,
		Name:        "Burpee",
		Description: "<p>Squat, plank, jump.</p>",
		Version:     1,
	}
}
