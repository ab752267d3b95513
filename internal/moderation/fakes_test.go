package moderation

import (
	"context"
	"errors"
	"sync"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
)

type fakeEntries struct {
	mu         sync.Mutex
	entries    map[string]store.Entry
	saves      int
	references map[string][]store.EntryReference
	saveErr    error
	refsErr    error
}

func newFakeEntries(entries ...store.Entry) *fakeEntries {
	f := &fakeEntries{entries: map[string]store.Entry{}, references: map[string][]store.EntryReference{}}
	for _, e := range entries {
		if e.Version == 0 {
			e.Version = 1
		}
		f.entries[e.ID] = e
	}
	return f
}

func (f *fakeEntries) FindEntryByID(_ context.Context, id string) (*store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeEntries) SaveEntry(_ context.Context, entry store.Entry) (store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return store.Entry{}, f.saveErr
	}
	existing, exists := f.entries[entry.ID]
	if entry.Version == 0 && exists {
		return store.Entry{}, store.ErrEntryExists
	}
	if entry.Version != 0 && (!exists || existing.Version != entry.Version) {
		return store.Entry{}, store.ErrVersionConflict
	}
	entry.Version++
	f.entries[entry.ID] = entry
	f.saves++
	return entry, nil
}

func (f *fakeEntries) ReplaceEntryReferences(_ context.Context, sourceID string, targets []store.EntryReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refsErr != nil {
		return f.refsErr
	}
	f.references[sourceID] = targets
	return nil
}

// fakeSubmissions writes approved entries to entries. failApprovals makes
// that many approvals fail as a rolled back transaction would.
type fakeSubmissions struct {
	mu            sync.Mutex
	subs          map[int64]store.Submission
	entries       *fakeEntries
	calls         int
	failApprovals int
}

func newFakeSubmissions(entries *fakeEntries, subs ...store.Submission) *fakeSubmissions {
	f := &fakeSubmissions{subs: map[int64]store.Submission{}, entries: entries}
	for _, s := range subs {
		if s.Status == "" {
			s.Status = store.StatusPending
		}
		f.subs[s.ID] = s
	}
	return f
}

func (f *fakeSubmissions) GetSubmission(_ context.Context, id int64) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return store.Submission{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeSubmissions) UpdateStatus(_ context.Context, id int64, status store.SubmissionStatus, update store.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s, ok := f.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.Status != store.StatusPending {
		return store.ErrStatusConflict
	}
	f.subs[id] = applyUpdate(s, status, update)
	return nil
}

func (f *fakeSubmissions) ApproveSubmission(ctx context.Context, id int64, entry store.Entry, update store.StatusUpdate) (store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return store.Entry{}, store.ErrNotFound
	}
	if s.Status != store.StatusPending {
		return store.Entry{}, store.ErrStatusConflict
	}
	if f.failApprovals > 0 {
		f.failApprovals--
		return store.Entry{}, errors.New("status write failed")
	}
	saved, err := f.entries.SaveEntry(ctx, entry)
	if err != nil {
		return store.Entry{}, err
	}
	update.EntryID = saved.ID
	f.subs[id] = applyUpdate(s, store.StatusApproved, update)
	return saved, nil
}

func applyUpdate(s store.Submission, status store.SubmissionStatus, update store.StatusUpdate) store.Submission {
	s.Status = status
	s.RejectionReason = update.RejectionReason
	s.AdminNotes = update.AdminNotes
	s.ReviewedBy = update.ReviewedBy
	s.EntryID = update.EntryID
	return s
}

func (f *fakeSubmissions) status(id int64) store.SubmissionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[id].Status
}

// entryCandidates indexes every entry in the fake repository.
type entryCandidates struct {
	entries *fakeEntries
	err     error
}

func (c entryCandidates) Candidates(context.Context, string) (*richtext.Index, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.entries.mu.Lock()
	defer c.entries.mu.Unlock()
	var candidates []richtext.Candidate
	for _, e := range c.entries.entries {
		candidates = append(candidates, richtext.CandidateFromEntry(e))
	}
	return richtext.NewIndex(candidates), nil
}

type recordingListener struct {
	mu       sync.Mutex
	approved []int64
	rejected []int64
}

func (l *recordingListener) SubmissionApproved(_ context.Context, sub store.Submission, _ store.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.approved = append(l.approved, sub.ID)
}

func (l *recordingListener) SubmissionRejected(_ context.Context, sub store.Submission) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejected = append(l.rejected, sub.ID)
}
