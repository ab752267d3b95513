package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
	"codex/api/internal/util"
	"github.com/sirupsen/logrus"
)

// EntryRepository is the slice of the entry store moderation writes through.
type EntryRepository interface {
	FindEntryByID(ctx context.Context, id string) (*store.Entry, error)
	SaveEntry(ctx context.Context, entry store.Entry) (store.Entry, error)
	ReplaceEntryReferences(ctx context.Context, sourceID string, targets []store.EntryReference) error
}

// SubmissionStore resolves submissions. ApproveSubmission must save the
// entry and mark the submission approved atomically: on error neither write
// is visible.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id int64) (store.Submission, error)
	UpdateStatus(ctx context.Context, id int64, status store.SubmissionStatus, update store.StatusUpdate) error
	ApproveSubmission(ctx context.Context, id int64, entry store.Entry, update store.StatusUpdate) (store.Entry, error)
}

// CandidateSource builds the mention index for a description.
type CandidateSource interface {
	Candidates(ctx context.Context, markup string) (*richtext.Index, error)
}

// Listener observes completed transitions. Implementations must not block.
type Listener interface {
	SubmissionApproved(ctx context.Context, sub store.Submission, entry store.Entry)
	SubmissionRejected(ctx context.Context, sub store.Submission)
}

// Review is the admin's input to an approval.
type Review struct {
	Overrides  store.Changes `json:"overrides"`
	AdminNotes string        `json:"adminNotes"`
	Reviewer   string        `json:"-"`
}

type Moderator struct {
	entries     EntryRepository
	submissions SubmissionStore
	candidates  CandidateSource
	listeners   []Listener
	now         func() time.Time
	log         logrus.FieldLogger

	lockMu sync.Mutex
	locks  map[int64]*submissionLock
}

type submissionLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Moderator)

func WithListener(l Listener) Option {
	return func(m *Moderator) {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Moderator) { m.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Moderator) { m.log = log }
}

func NewModerator(entries EntryRepository, submissions SubmissionStore, candidates CandidateSource, opts ...Option) *Moderator {
	m := &Moderator{
		entries:     entries,
		submissions: submissions,
		candidates:  candidates,
		now:         time.Now,
		log:         logrus.StandardLogger(),
		locks:       make(map[int64]*submissionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockSubmission serializes transitions of one submission and returns the
// unlock func. The entry is dropped once no caller holds or waits on it.
func (m *Moderator) lockSubmission(id int64) func() {
	m.lockMu.Lock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &submissionLock{}
		m.locks[id] = lock
	}
	lock.refs++
	m.lockMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.lockMu.Lock()
		defer m.lockMu.Unlock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, id)
		}
	}
}

func (m *Moderator) heldLocks() int {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	return len(m.locks)
}

// Preview diffs a submission with the given overrides without writing.
func (m *Moderator) Preview(ctx context.Context, submissionID int64, overrides store.Changes) (store.Submission, Diff, error) {
	sub, err := m.loadSubmission(ctx, submissionID)
	if err != nil {
		return store.Submission{}, Diff{}, err
	}
	switch sub.Type {
	case store.SubmissionNew:
		return sub, DiffNew(*sub.New, overrides), nil
	case store.SubmissionEdit:
		original, err := m.entries.FindEntryByID(ctx, sub.Edit.EntryID)
		if err != nil {
			return store.Submission{}, Diff{}, err
		}
		diff := ComputeDiff(original, sub.Edit.Changes, overrides)
		if original == nil {
			diff.EntryID = sub.Edit.EntryID
		}
		return sub, diff, nil
	}
	return store.Submission{}, Diff{}, fmt.Errorf("submission %d has unknown type %q", sub.ID, sub.Type)
}

// Approve merges a pending submission into its entry and marks it approved.
// The entry and the status are written together, so a failed approval
// leaves the submission pending with its entry untouched and may be retried.
func (m *Moderator) Approve(ctx context.Context, submissionID int64, review Review) (store.Entry, error) {
	defer m.lockSubmission(submissionID)()

	sub, err := m.loadSubmission(ctx, submissionID)
	if err != nil {
		return store.Entry{}, err
	}
	if sub.Status != store.StatusPending {
		return store.Entry{}, &MergeConflictError{SubmissionID: sub.ID, Status: sub.Status}
	}

	merged, err := m.mergedEntry(ctx, sub, review.Overrides)
	if err != nil {
		return store.Entry{}, err
	}

	merged.Description = richtext.NormalizeDescription(merged.Description, nil)
	annotated, err := m.resolve(ctx, merged.Description)
	if err != nil {
		return store.Entry{}, err
	}

	update := store.StatusUpdate{
		AdminNotes: strings.TrimSpace(review.AdminNotes),
		ReviewedBy: review.Reviewer,
		ReviewedAt: m.now().UTC(),
	}
	saved, err := m.commitApproval(ctx, sub, merged, annotated.MentionedIDs(), update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrEntryExists):
			return store.Entry{}, &MergeConflictError{SubmissionID: sub.ID, Reason: err.Error()}
		case errors.Is(err, store.ErrStatusConflict):
			return store.Entry{}, &MergeConflictError{SubmissionID: sub.ID, Reason: "submission was resolved concurrently"}
		case errors.Is(err, store.ErrNotFound):
			return store.Entry{}, &NotFoundError{Resource: "submission", ID: fmt.Sprint(sub.ID)}
		}
		return store.Entry{}, fmt.Errorf("approve submission %d: %w", sub.ID, err)
	}

	log := m.log.WithFields(logrus.Fields{"submission_id": sub.ID, "entry_id": saved.ID})
	if err := m.entries.ReplaceEntryReferences(ctx, saved.ID, references(annotated)); err != nil {
		log.WithError(err).Warn("entry references not replaced; recompute later")
	}
	log.Info("submission approved")

	sub.Status = store.StatusApproved
	sub.AdminNotes = update.AdminNotes
	sub.ReviewedBy = update.ReviewedBy
	sub.ReviewedAt = &update.ReviewedAt
	sub.EntryID = saved.ID
	for _, l := range m.listeners {
		l.SubmissionApproved(ctx, sub, saved)
	}
	return saved, nil
}

// Reject closes a pending submission with a reason. Entries are untouched.
func (m *Moderator) Reject(ctx context.Context, submissionID int64, reason, adminNotes, reviewer string) (store.Submission, error) {
	if err := ValidateRejection(reason); err != nil {
		return store.Submission{}, err
	}

	defer m.lockSubmission(submissionID)()

	sub, err := m.loadSubmission(ctx, submissionID)
	if err != nil {
		return store.Submission{}, err
	}
	if sub.Status != store.StatusPending {
		return store.Submission{}, &MergeConflictError{SubmissionID: sub.ID, Status: sub.Status}
	}

	update := store.StatusUpdate{
		RejectionReason: strings.TrimSpace(reason),
		AdminNotes:      strings.TrimSpace(adminNotes),
		ReviewedBy:      reviewer,
		ReviewedAt:      m.now().UTC(),
	}
	if err := m.submissions.UpdateStatus(ctx, sub.ID, store.StatusRejected, update); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return store.Submission{}, &MergeConflictError{SubmissionID: sub.ID, Reason: "submission was resolved concurrently"}
		}
		return store.Submission{}, fmt.Errorf("mark submission %d rejected: %w", sub.ID, err)
	}
	m.log.WithField("submission_id", sub.ID).Info("submission rejected")

	sub.Status = store.StatusRejected
	sub.RejectionReason = update.RejectionReason
	sub.AdminNotes = update.AdminNotes
	sub.ReviewedBy = update.ReviewedBy
	sub.ReviewedAt = &update.ReviewedAt
	for _, l := range m.listeners {
		l.SubmissionRejected(ctx, sub)
	}
	return sub, nil
}

// RecomputeReferences re-derives mentionedEntries and reference rows from
// the stored description of an entry.
func (m *Moderator) RecomputeReferences(ctx context.Context, entryID string) (store.Entry, error) {
	entry, err := m.entries.FindEntryByID(ctx, entryID)
	if err != nil {
		return store.Entry{}, err
	}
	if entry == nil {
		return store.Entry{}, &NotFoundError{Resource: "entry", ID: entryID}
	}
	annotated, err := m.resolve(ctx, entry.Description)
	if err != nil {
		return store.Entry{}, err
	}
	ids := withoutID(annotated.MentionedIDs(), entry.ID)
	saved := *entry
	if !equalIDs(entry.MentionedEntries, ids) {
		entry.MentionedEntries = ids
		saved, err = m.entries.SaveEntry(ctx, *entry)
		if err != nil {
			return store.Entry{}, fmt.Errorf("save mentioned entries for %s: %w", entry.ID, err)
		}
	}
	if err := m.entries.ReplaceEntryReferences(ctx, saved.ID, references(annotated)); err != nil {
		return store.Entry{}, fmt.Errorf("replace references for %s: %w", saved.ID, err)
	}
	return saved, nil
}

func (m *Moderator) loadSubmission(ctx context.Context, id int64) (store.Submission, error) {
	sub, err := m.submissions.GetSubmission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Submission{}, &NotFoundError{Resource: "submission", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return store.Submission{}, err
	}
	if (sub.Type == store.SubmissionNew && sub.New == nil) || (sub.Type == store.SubmissionEdit && sub.Edit == nil) {
		return store.Submission{}, fmt.Errorf("submission %d has no %s data", sub.ID, sub.Type)
	}
	return sub, nil
}

func (m *Moderator) mergedEntry(ctx context.Context, sub store.Submission, overrides store.Changes) (store.Entry, error) {
	switch sub.Type {
	case store.SubmissionNew:
		if err := ValidateChanges(sub.New.Type, overrides); err != nil {
			return store.Entry{}, err
		}
		base := store.Entry{Type: sub.New.Type}
		merged := Merge(base, NewEntryChanges(*sub.New), overrides)
		if merged.Name == "" {
			return store.Entry{}, &ValidationError{Message: "name is required", Fields: map[string]string{"name": "required"}}
		}
		merged.ID = EntryID(merged.Name, 0)
		return merged, nil
	case store.SubmissionEdit:
		original, err := m.entries.FindEntryByID(ctx, sub.Edit.EntryID)
		if err != nil {
			return store.Entry{}, err
		}
		if original == nil {
			return store.Entry{}, &NotFoundError{Resource: "entry", ID: sub.Edit.EntryID}
		}
		if err := ValidateChanges(original.Type, overrides); err != nil {
			return store.Entry{}, err
		}
		merged := Merge(*original, sub.Edit.Changes, overrides)
		if merged.Name == "" {
			return store.Entry{}, &ValidationError{Message: "name is required", Fields: map[string]string{"name": "required"}}
		}
		return merged, nil
	}
	return store.Entry{}, fmt.Errorf("submission %d has unknown type %q", sub.ID, sub.Type)
}

// MaxEntryIDAttempts bounds the slug suffixes tried before a random id is used.
const MaxEntryIDAttempts = 20

// EntryID returns the id to try for a new entry called name: the slug on
// attempt 0, then slug-2, slug-3 and so on, and a random id once the
// suffixes run out or the name has no slug.
func EntryID(name string, attempt int) string {
	slug := util.Slugify(name)
	switch {
	case slug == "" || attempt >= MaxEntryIDAttempts:
		return util.NewID("entry")
	case attempt == 0:
		return slug
	}
	return fmt.Sprintf("%s-%d", slug, attempt+1)
}

// commitApproval writes merged and the approval. A new entry whose id is
// taken by another entry moves on to the next candidate id.
func (m *Moderator) commitApproval(ctx context.Context, sub store.Submission, merged store.Entry, mentioned []string, update store.StatusUpdate) (store.Entry, error) {
	for attempt := 0; ; attempt++ {
		if sub.Type == store.SubmissionNew {
			merged.ID = EntryID(merged.Name, attempt)
		}
		merged.MentionedEntries = withoutID(mentioned, merged.ID)
		saved, err := m.submissions.ApproveSubmission(ctx, sub.ID, merged, update)
		if sub.Type == store.SubmissionNew && errors.Is(err, store.ErrEntryExists) && attempt < MaxEntryIDAttempts {
			m.log.WithFields(logrus.Fields{"submission_id": sub.ID, "entry_id": merged.ID}).Debug("entry id taken")
			continue
		}
		return saved, err
	}
}

func (m *Moderator) resolve(ctx context.Context, description string) (richtext.AnnotatedText, error) {
	if strings.TrimSpace(description) == "" {
		return richtext.AnnotatedText{}, nil
	}
	idx, err := m.candidates.Candidates(ctx, description)
	if err != nil {
		return richtext.AnnotatedText{}, fmt.Errorf("gather mention candidates: %w", err)
	}
	return richtext.ResolveMentions(description, idx), nil
}

func references(annotated richtext.AnnotatedText) []store.EntryReference {
	seen := map[string]bool{}
	var out []store.EntryReference
	for _, mention := range annotated.Mentions {
		if seen[mention.TargetID] {
			continue
		}
		seen[mention.TargetID] = true
		out = append(out, store.EntryReference{TargetEntryID: mention.TargetID, Context: mention.DisplayText})
	}
	return out
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
