package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"codex/api/internal/moderation"
	"codex/api/internal/store"
	"github.com/sirupsen/logrus"
)

// SubmitInput is the public submission payload. Data holds NewEntryData or
// EditEntryData depending on SubmissionType.
type SubmitInput struct {
	SubmissionType store.SubmissionType `json:"submissionType" validate:"required,oneof=new edit"`
	Data           json.RawMessage      `json:"data" validate:"required"`
	SubmitterName  string               `json:"submitterName" validate:"max=200"`
	SubmitterEmail string               `json:"submitterEmail" validate:"omitempty,email,max=320"`
}

// Submit validates and queues a public suggestion.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (store.Submission, error) {
	input.SubmitterName = strings.TrimSpace(input.SubmitterName)
	input.SubmitterEmail = strings.TrimSpace(input.SubmitterEmail)
	if err := moderation.ValidateStruct(input); err != nil {
		return store.Submission{}, err
	}

	sub := store.Submission{
		Type:           input.SubmissionType,
		SubmitterName:  input.SubmitterName,
		SubmitterEmail: input.SubmitterEmail,
		Status:         store.StatusPending,
	}
	switch input.SubmissionType {
	case store.SubmissionNew:
		var data store.NewEntryData
		if err := json.Unmarshal(input.Data, &data); err != nil {
			return store.Submission{}, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid submission data", nil)
		}
		data.Name = strings.TrimSpace(data.Name)
		if err := moderation.ValidateNewEntry(data); err != nil {
			return store.Submission{}, err
		}
		existing, err := s.store.FindEntryByName(ctx, data.Name)
		if err != nil {
			return store.Submission{}, err
		}
		if existing != nil {
			return store.Submission{}, domainError(http.StatusConflict, "ENTRY_EXISTS",
				fmt.Sprintf("%q already exists; suggest an edit instead", existing.Name),
				map[string]any{"entryId": existing.ID})
		}
		sub.New = &data
	case store.SubmissionEdit:
		var data store.EditEntryData
		if err := json.Unmarshal(input.Data, &data); err != nil {
			return store.Submission{}, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid submission data", nil)
		}
		entry, err := s.requireEntry(ctx, strings.TrimSpace(data.EntryID))
		if err != nil {
			return store.Submission{}, err
		}
		if err := moderation.ValidateEdit(data, entry.Type); err != nil {
			return store.Submission{}, err
		}
		data.EntryID = entry.ID
		data.EntryName = entry.Name
		sub.Edit = &data
	}

	created, err := s.store.CreateSubmission(ctx, sub)
	if err != nil {
		return store.Submission{}, err
	}
	s.log.WithFields(logrus.Fields{"submission_id": created.ID, "type": created.Type}).Info("submission received")
	if s.intake != nil {
		s.intake.SubmissionReceived(ctx, created)
	}
	return created, nil
}

func (s *Service) ListSubmissions(ctx context.Context, status store.SubmissionStatus) ([]store.Submission, error) {
	switch status {
	case "", store.StatusPending, store.StatusApproved, store.StatusRejected:
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be pending, approved or rejected", nil)
	}
	var (
		subs []store.Submission
		err  error
	)
	if status == store.StatusPending {
		subs, err = s.store.ListPending(ctx)
	} else {
		subs, err = s.store.ListSubmissions(ctx, status)
	}
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []store.Submission{}
	}
	return subs, nil
}

type ReviewPayload struct {
	Submission store.Submission `json:"submission"`
	Diff       moderation.Diff  `json:"diff"`
}

// ReviewSubmission shows what approving with overrides would change.
func (s *Service) ReviewSubmission(ctx context.Context, id int64, overrides store.Changes) (ReviewPayload, error) {
	sub, diff, err := s.moderator.Preview(ctx, id, overrides)
	if err != nil {
		return ReviewPayload{}, err
	}
	return ReviewPayload{Submission: sub, Diff: diff}, nil
}

func (s *Service) ApproveSubmission(ctx context.Context, id int64, review moderation.Review, sess Session) (store.Entry, error) {
	review.Reviewer = reviewerName(sess)
	return s.moderator.Approve(ctx, id, review)
}

func (s *Service) RejectSubmission(ctx context.Context, id int64, reason, adminNotes string, sess Session) (store.Submission, error) {
	return s.moderator.Reject(ctx, id, reason, adminNotes, reviewerName(sess))
}

func reviewerName(sess Session) string {
	if sess.UserName != "" {
		return sess.UserName
	}
	return sess.UserID
}

// entryEffects keeps search and history in step with approvals.
type entryEffects struct {
	s *Service
}

func (e entryEffects) SubmissionApproved(_ context.Context, sub store.Submission, entry store.Entry) {
	e.s.catalog.Invalidate()
	e.s.search.IndexEntry(entry)
	e.s.recordHistory(entry, sub.ReviewedBy, fmt.Sprintf("Approve submission %d", sub.ID))
}

func (e entryEffects) SubmissionRejected(context.Context, store.Submission) {}

var _ moderation.Listener = entryEffects{}
