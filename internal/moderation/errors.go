package moderation

import (
	"fmt"
	"strings"

	"codex/api/internal/store"
)

// NotFoundError reports a missing submission or entry.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError reports rejected input. Fields maps field names to the
// failed rule when more than one field is involved.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, field+": "+rule)
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

// MergeConflictError reports a transition from a non-pending state or a
// save that lost a race with another write.
type MergeConflictError struct {
	SubmissionID int64
	Status       store.SubmissionStatus
	Reason       string
}

func (e *MergeConflictError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("submission %d is already %s", e.SubmissionID, e.Status)
	}
	return fmt.Sprintf("submission %d: %s", e.SubmissionID, e.Reason)
}
