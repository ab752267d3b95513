package moderation

import (
	"strings"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
)

type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldAliases     Field = "aliases"
	FieldTags        Field = "tags"
	FieldVideoLink   Field = "videoLink"
)

type TextChange struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

// FieldComparison describes one editable field of a submission under review.
// Values are strings for text fields and name lists for aliases and tags.
type FieldComparison struct {
	Field         Field        `json:"field"`
	Original      any          `json:"original"`
	Suggested     any          `json:"suggested,omitempty"`
	HasSuggestion bool         `json:"hasSuggestion"`
	Override      any          `json:"override,omitempty"`
	IsOverridden  bool         `json:"isOverridden"`
	Merged        any          `json:"merged"`
	Changed       bool         `json:"changed"`
	TextDiff      []TextChange `json:"textDiff,omitempty"`
}

type Diff struct {
	EntryID           string            `json:"entryId,omitempty"`
	EntryType         store.EntryType   `json:"entryType"`
	OriginalAvailable bool              `json:"originalAvailable"`
	CanApprove        bool              `json:"canApprove"`
	Fields            []FieldComparison `json:"fields"`
	Merged            *store.Entry      `json:"merged,omitempty"`
}

// Suggested returns the comparisons the submitter actually proposed.
func (d Diff) Suggested() []FieldComparison {
	var out []FieldComparison
	for _, f := range d.Fields {
		if f.HasSuggestion {
			out = append(out, f)
		}
	}
	return out
}

// ComputeDiff compares original against the suggested changes with admin
// overrides applied on top. A nil original still lists the suggestions but
// the result cannot be approved.
func ComputeDiff(original *store.Entry, changes, overrides store.Changes) Diff {
	base := store.Entry{}
	if original != nil {
		base = *original
	}
	merged := Merge(base, changes, overrides)

	diff := Diff{
		EntryID:           base.ID,
		EntryType:         base.Type,
		OriginalAvailable: original != nil,
		CanApprove:        original != nil,
	}
	if original != nil {
		diff.Merged = &merged
	}
	for _, field := range fieldsFor(base.Type, changes) {
		diff.Fields = append(diff.Fields, compareField(field, base, merged, changes, overrides))
	}
	return diff
}

// DiffNew reviews a new-entry submission against an empty entry of its type.
func DiffNew(data store.NewEntryData, overrides store.Changes) Diff {
	base := store.Entry{Type: data.Type}
	changes := NewEntryChanges(data)
	merged := Merge(base, changes, overrides)
	diff := Diff{
		EntryType:         data.Type,
		OriginalAvailable: true,
		CanApprove:        true,
		Merged:            &merged,
	}
	for _, field := range fieldsFor(data.Type, changes) {
		diff.Fields = append(diff.Fields, compareField(field, base, merged, changes, overrides))
	}
	return diff
}

// NewEntryChanges expresses a new-entry submission as a full change set.
func NewEntryChanges(data store.NewEntryData) store.Changes {
	changes := store.Changes{
		Name:        store.Some(data.Name),
		Description: store.Some(data.Description),
		Aliases:     store.Some(data.Aliases),
	}
	if data.Type == store.EntryTypeExicon {
		changes.Tags = store.Some(data.Tags)
		changes.VideoLink = store.Some(data.VideoLink)
	}
	return changes
}

// fieldsFor lists the editable fields of an entry type. Exicon-only fields
// suggested for a lexicon entry are still listed so nothing the submitter
// sent is hidden from review; Merge ignores them.
func fieldsFor(entryType store.EntryType, changes store.Changes) []Field {
	fields := []Field{FieldName, FieldDescription, FieldAliases}
	if entryType != store.EntryTypeLexicon || changes.Tags.Set {
		fields = append(fields, FieldTags)
	}
	if entryType != store.EntryTypeLexicon || changes.VideoLink.Set {
		fields = append(fields, FieldVideoLink)
	}
	return fields
}

func compareField(field Field, original, merged store.Entry, changes, overrides store.Changes) FieldComparison {
	cmp := FieldComparison{Field: field}
	switch field {
	case FieldName:
		cmp.Original, cmp.Merged = original.Name, merged.Name
		cmp.HasSuggestion, cmp.Suggested = changes.Name.Set, optionalValue(changes.Name)
		cmp.IsOverridden, cmp.Override = overrides.Name.Set, optionalValue(overrides.Name)
		cmp.Changed = original.Name != merged.Name
		if cmp.Changed {
			cmp.TextDiff = textDiff(original.Name, merged.Name)
		}
	case FieldDescription:
		cmp.Original, cmp.Merged = original.Description, merged.Description
		cmp.HasSuggestion, cmp.Suggested = changes.Description.Set, optionalValue(changes.Description)
		cmp.IsOverridden, cmp.Override = overrides.Description.Set, optionalValue(overrides.Description)
		before, after := richtext.StripTags(original.Description), richtext.StripTags(merged.Description)
		cmp.Changed = original.Description != merged.Description
		if cmp.Changed {
			cmp.TextDiff = textDiff(before, after)
		}
	case FieldAliases:
		cmp.Original, cmp.Merged = aliasNames(original.Aliases), aliasNames(merged.Aliases)
		if changes.Aliases.Set {
			cmp.HasSuggestion, cmp.Suggested = true, aliasNames(changes.Aliases.Value)
		}
		if overrides.Aliases.Set {
			cmp.IsOverridden, cmp.Override = true, aliasNames(overrides.Aliases.Value)
		}
		cmp.Changed = !sameNames(aliasNames(original.Aliases), aliasNames(merged.Aliases))
	case FieldTags:
		cmp.Original, cmp.Merged = tagNames(original.Tags), tagNames(merged.Tags)
		if changes.Tags.Set {
			cmp.HasSuggestion, cmp.Suggested = true, tagRefNames(changes.Tags.Value)
		}
		if overrides.Tags.Set {
			cmp.IsOverridden, cmp.Override = true, tagRefNames(overrides.Tags.Value)
		}
		cmp.Changed = !sameNames(tagNames(original.Tags), tagNames(merged.Tags))
	case FieldVideoLink:
		cmp.Original, cmp.Merged = original.VideoLink, merged.VideoLink
		cmp.HasSuggestion, cmp.Suggested = changes.VideoLink.Set, optionalValue(changes.VideoLink)
		cmp.IsOverridden, cmp.Override = overrides.VideoLink.Set, optionalValue(overrides.VideoLink)
		cmp.Changed = original.VideoLink != merged.VideoLink
	}
	return cmp
}

func optionalValue(o store.Optional[string]) any {
	if !o.Set {
		return nil
	}
	return o.Value
}

func textDiff(before, after string) []TextChange {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))
	out := make([]TextChange, 0, len(diffs))
	for _, d := range diffs {
		op := "equal"
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = "insert"
		case diffmatchpatch.DiffDelete:
			op = "delete"
		}
		out = append(out, TextChange{Op: op, Text: d.Text})
	}
	return out
}

// sameNames compares name lists as case-insensitive sets.
func sameNames(a, b []string) bool {
	return lowerSet(a).Equal(lowerSet(b))
}

func lowerSet(names []string) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			set.Add(name)
		}
	}
	return set
}

func aliasNames(aliases []store.Alias) []string {
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		out = append(out, a.Name)
	}
	return out
}

func tagNames(tags []store.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}

func tagRefNames(tags []store.TagRef) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}
