package email

import (
	"context"
	"fmt"
	"strings"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
	"github.com/sirupsen/logrus"
)

// Notifier mails submitters when their submission is reviewed and
// moderators when a new one arrives. Sends run in the background and
// failures are only logged.
type Notifier struct {
	svc        *Service
	baseURL    string
	moderators []string
	log        logrus.FieldLogger
	async      bool
}

func NewNotifier(svc *Service, baseURL string, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		svc:     svc,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.WithField("component", "email"),
		async:   true,
	}
}

// WithModerators sets who hears about new submissions.
func (n *Notifier) WithModerators(emails []string) *Notifier {
	n.moderators = emails
	return n
}

// SubmissionReceived sends moderators a plain-text notice with a link to
// the review queue.
func (n *Notifier) SubmissionReceived(_ context.Context, sub store.Submission) {
	if n.svc == nil || !n.svc.IsConfigured() || len(n.moderators) == 0 {
		return
	}
	kind := "New entry"
	if sub.Type == store.SubmissionEdit {
		kind = "Edit"
	}
	from := sub.SubmitterName
	if from == "" {
		from = "an anonymous visitor"
	}
	subject := fmt.Sprintf("%s submitted: %s", kind, submissionEntryName(sub))
	body := fmt.Sprintf("%s suggested by %s.\n\nReview it at %s/admin/submissions/%d\n",
		subject, from, n.baseURL, sub.ID)
	n.run(sub, func() error { return n.svc.SendEmail(n.moderators, subject, body) })
}

func (n *Notifier) SubmissionApproved(_ context.Context, sub store.Submission, entry store.Entry) {
	if !n.enabled(sub) {
		return
	}
	data := SubmissionNoticeData{
		SubmitterName: sub.SubmitterName,
		EntryName:     entry.Name,
		EntryURL:      n.baseURL + richtext.EntryPath(entry.Type, entry.ID),
		AdminNotes:    sub.AdminNotes,
	}
	n.run(sub, func() error { return n.svc.SendSubmissionApproved(sub.SubmitterEmail, data) })
}

func (n *Notifier) SubmissionRejected(_ context.Context, sub store.Submission) {
	if !n.enabled(sub) {
		return
	}
	data := SubmissionNoticeData{
		SubmitterName: sub.SubmitterName,
		EntryName:     submissionEntryName(sub),
		Reason:        sub.RejectionReason,
		AdminNotes:    sub.AdminNotes,
	}
	n.run(sub, func() error { return n.svc.SendSubmissionRejected(sub.SubmitterEmail, data) })
}

func (n *Notifier) enabled(sub store.Submission) bool {
	return n.svc != nil && n.svc.IsConfigured() && strings.TrimSpace(sub.SubmitterEmail) != ""
}

func (n *Notifier) run(sub store.Submission, send func() error) {
	deliver := func() {
		if err := send(); err != nil {
			n.log.WithError(err).WithField("submission_id", sub.ID).Warn("send submission notice")
		}
	}
	if n.async {
		go deliver()
		return
	}
	deliver()
}

func submissionEntryName(sub store.Submission) string {
	switch {
	case sub.New != nil:
		return sub.New.Name
	case sub.Edit != nil && sub.Edit.EntryName != "":
		return sub.Edit.EntryName
	case sub.Edit != nil:
		return sub.Edit.EntryID
	}
	return "your entry"
}
