package moderation

import (
	"encoding/json"
	"testing"

	"codex/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func burpee() store.Entry {
	return store.Entry{
		ID:          "burpee",
		Type:        store.EntryTypeExicon,
		Name:        "Burpee",
		Description: "<p>A squat thrust</p>",
		Aliases:     []store.Alias{{Name: "Up-down"}},
		Tags:        []store.Tag{{ID: "t-full", Name: "Full body"}},
		VideoLink:   "https://example.com/burpee",
		Version:     1,
	}
}

func TestComputeDiffSuggestedKeysMatchPresentKeys(t *testing.T) {
	payloads := []string{
		`{}`,
		`{"name": "Burpees"}`,
		`{"videoLink": null}`,
		`{"aliases": [], "tags": ["Cardio"]}`,
		`{"name": "B", "description": "", "aliases": ["x"], "tags": [], "videoLink": ""}`,
	}
	original := burpee()
	for _, payload := range payloads {
		var changes store.Changes
		require.NoError(t, json.Unmarshal([]byte(payload), &changes))

		var suggested []string
		for _, f := range ComputeDiff(&original, changes, store.Changes{}).Suggested() {
			suggested = append(suggested, string(f.Field))
		}
		assert.Equal(t, changes.Keys(), suggested, payload)
	}
}

func TestComputeDiffReportsChangesAndTextDiff(t *testing.T) {
	original := burpee()
	changes := store.Changes{
		Description: store.Some("<p>A squat thrust with @Merkin</p>"),
		Aliases:     store.Some([]store.Alias{{Name: "up-DOWN"}}),
	}
	diff := ComputeDiff(&original, changes, store.Changes{})

	require.True(t, diff.CanApprove)
	require.Len(t, diff.Fields, 5)
	desc := diff.Fields[1]
	assert.Equal(t, FieldDescription, desc.Field)
	assert.True(t, desc.Changed)
	assert.Equal(t, []TextChange{{Op: "equal", Text: "A squat thrust"}, {Op: "insert", Text: " with @Merkin"}}, desc.TextDiff)

	aliases := diff.Fields[2]
	assert.True(t, aliases.HasSuggestion)
	assert.False(t, aliases.Changed, "alias sets compare case-insensitively")

	assert.False(t, diff.Fields[0].Changed)
	assert.Nil(t, diff.Fields[0].Suggested)
}

func TestComputeDiffWithoutOriginal(t *testing.T) {
	diff := ComputeDiff(nil, store.Changes{Name: store.Some("Ghost")}, store.Changes{})
	assert.False(t, diff.OriginalAvailable)
	assert.False(t, diff.CanApprove)
	assert.Nil(t, diff.Merged)
	require.NotEmpty(t, diff.Suggested())
	assert.Equal(t, "Ghost", diff.Suggested()[0].Suggested)
}

func TestMergePrecedence(t *testing.T) {
	original := burpee()
	changes := store.Changes{
		Name:      store.Some("Burpees"),
		VideoLink: store.Some(""),
		Tags:      store.Some([]store.TagRef{{Name: "Cardio"}, {Name: "cardio"}, {ID: "t-full", Name: "Full body"}}),
	}
	overrides := store.Changes{Name: store.Some("  Burpee (classic) ")}

	merged := Merge(original, changes, overrides)
	assert.Equal(t, "Burpee (classic)", merged.Name)
	assert.Equal(t, original.Description, merged.Description)
	assert.Equal(t, "", merged.VideoLink, "present empty value clears the field")
	assert.Equal(t, []store.Tag{{Name: "Cardio"}, {ID: "t-full", Name: "Full body"}}, merged.Tags)
	assert.Equal(t, original.Aliases, merged.Aliases)
	assert.Equal(t, int64(1), merged.Version)

	assert.Equal(t, "Burpee", original.Name, "original is not mutated")
}

func TestMergeIgnoresExiconFieldsForLexicon(t *testing.T) {
	original := store.Entry{ID: "q", Type: store.EntryTypeLexicon, Name: "Q"}
	merged := Merge(original, store.Changes{
		Tags:      store.Some([]store.TagRef{{Name: "x"}}),
		VideoLink: store.Some("https://example.com"),
		Aliases:   store.Some([]store.Alias{{Name: " Leader "}, {Name: "leader"}, {Name: ""}}),
	}, store.Changes{})
	assert.Empty(t, merged.Tags)
	assert.Empty(t, merged.VideoLink)
	assert.Equal(t, []store.Alias{{Name: "Leader"}}, merged.Aliases)
}

func TestDiffNew(t *testing.T) {
	diff := DiffNew(store.NewEntryData{
		Name:        "Merkin",
		Type:        store.EntryTypeLexicon,
		Description: "<p>A push-up</p>",
	}, store.Changes{Description: store.Some("<p>A military push-up</p>")})

	assert.True(t, diff.CanApprove)
	require.NotNil(t, diff.Merged)
	assert.Equal(t, "<p>A military push-up</p>", diff.Merged.Description)
	assert.Len(t, diff.Fields, 3)
	assert.True(t, diff.Fields[1].IsOverridden)
}
