package store

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type EntryType string

const (
	EntryTypeExicon  EntryType = "exicon"
	EntryTypeLexicon EntryType = "lexicon"
)

func (t EntryType) Valid() bool {
	return t == EntryTypeExicon || t == EntryTypeLexicon
}

type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusApproved SubmissionStatus = "approved"
	StatusRejected SubmissionStatus = "rejected"
)

type SubmissionType string

const (
	SubmissionNew  SubmissionType = "new"
	SubmissionEdit SubmissionType = "edit"
)

type Entry struct {
	ID               string    `json:"id"`
	Type             EntryType `json:"type"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Aliases          []Alias   `json:"aliases"`
	Tags             []Tag     `json:"tags,omitempty"`
	VideoLink        string    `json:"videoLink,omitempty"`
	MentionedEntries []string  `json:"mentionedEntries"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Summary is the hover-card view of an entry. Description is plain text.
type EntrySummary struct {
	ID          string    `json:"id"`
	Type        EntryType `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Alias decodes from either "Push-up" or {"name":"Push-up"}.
type Alias struct {
	Name string `json:"name"`
}

func (a *Alias) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		a.Name = strings.TrimSpace(name)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.New("alias must be a string or an object with a name")
	}
	a.Name = strings.TrimSpace(obj.Name)
	return nil
}

// TagRef decodes from "Core", {"name":"Core"} or {"id":"t1","name":"Core"}.
type TagRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (r *TagRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = strings.TrimSpace(name)
		return nil
	}
	var obj struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.New("tag must be a string or an object with a name")
	}
	r.ID = strings.TrimSpace(obj.ID)
	r.Name = strings.TrimSpace(obj.Name)
	return nil
}

// Optional records whether a JSON key was present, separately from its
// value. A present null leaves Set true with the zero Value.
type Optional[T any] struct {
	Set   bool
	Value T
}

func Some[T any](value T) Optional[T] {
	return Optional[T]{Set: true, Value: value}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Changes is the set of fields suggested by an edit submission, or the
// admin overrides applied on top of one.
type Changes struct {
	Name        Optional[string]   `json:"name"`
	Description Optional[string]   `json:"description"`
	Aliases     Optional[[]Alias]  `json:"aliases"`
	Tags        Optional[[]TagRef] `json:"tags"`
	VideoLink   Optional[string]   `json:"videoLink"`
}

// Keys lists the present keys in field order.
func (c Changes) Keys() []string {
	var keys []string
	if c.Name.Set {
		keys = append(keys, "name")
	}
	if c.Description.Set {
		keys = append(keys, "description")
	}
	if c.Aliases.Set {
		keys = append(keys, "aliases")
	}
	if c.Tags.Set {
		keys = append(keys, "tags")
	}
	if c.VideoLink.Set {
		keys = append(keys, "videoLink")
	}
	return keys
}

func (c Changes) Empty() bool {
	return len(c.Keys()) == 0
}

func (c Changes) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if c.Name.Set {
		out["name"] = c.Name.Value
	}
	if c.Description.Set {
		out["description"] = c.Description.Value
	}
	if c.Aliases.Set {
		out["aliases"] = nonNil(c.Aliases.Value)
	}
	if c.Tags.Set {
		out["tags"] = nonNil(c.Tags.Value)
	}
	if c.VideoLink.Set {
		out["videoLink"] = c.VideoLink.Value
	}
	return json.Marshal(out)
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}

type NewEntryData struct {
	Name             string    `json:"name" validate:"required,max=200"`
	Type             EntryType `json:"type" validate:"required,oneof=exicon lexicon"`
	Description      string    `json:"description" validate:"required,max=20000"`
	Aliases          []Alias   `json:"aliases,omitempty" validate:"max=50"`
	Tags             []TagRef  `json:"tags,omitempty" validate:"max=50"`
	VideoLink        string    `json:"videoLink,omitempty" validate:"omitempty,url,max=500"`
	Comments         string    `json:"comments,omitempty" validate:"max=2000"`
	MentionedEntries []string  `json:"mentionedEntries,omitempty"`
}

type EditEntryData struct {
	EntryID          string   `json:"entryId" validate:"required"`
	EntryName        string   `json:"entryName"`
	Changes          Changes  `json:"changes"`
	Comments         string   `json:"comments,omitempty" validate:"max=2000"`
	MentionedEntries []string `json:"mentionedEntries,omitempty"`
}

type Submission struct {
	ID              int64            `json:"id"`
	Type            SubmissionType   `json:"submissionType"`
	New             *NewEntryData    `json:"-"`
	Edit            *EditEntryData   `json:"-"`
	SubmitterName   string           `json:"submitterName,omitempty"`
	SubmitterEmail  string           `json:"submitterEmail,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Status          SubmissionStatus `json:"status"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	AdminNotes      string           `json:"adminNotes,omitempty"`
	ReviewedBy      string           `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewedAt,omitempty"`
	EntryID         string           `json:"entryId,omitempty"`
}

func (s Submission) MarshalJSON() ([]byte, error) {
	type plain Submission
	var data any
	switch s.Type {
	case SubmissionNew:
		data = s.New
	case SubmissionEdit:
		data = s.Edit
	}
	return json.Marshal(struct {
		plain
		Data any `json:"data"`
	}{plain: plain(s), Data: data})
}

// StatusUpdate carries the review fields written with a status transition.
type StatusUpdate struct {
	RejectionReason string
	AdminNotes      string
	ReviewedBy      string
	ReviewedAt      time.Time
	EntryID         string
}

type EntryReference struct {
	SourceEntryID string `json:"sourceEntryId"`
	TargetEntryID string `json:"targetEntryId"`
	Context       string `json:"context"`
}

type TagLogic string

const (
	TagLogicAnd TagLogic = "AND"
	TagLogicOr  TagLogic = "OR"
)

type EntryFilter struct {
	Type     EntryType
	Query    string
	Letter   string
	TagIDs   []string
	TagLogic TagLogic
	Limit    int
}
