package moderation

import (
	"strings"

	"codex/api/internal/store"
)

// Merge applies changes and then overrides to original, field by field:
// an override wins over a suggestion, which wins over the original value.
// Tags and video links only apply to exicon entries.
func Merge(original store.Entry, changes, overrides store.Changes) store.Entry {
	merged := original
	merged.Aliases = append([]store.Alias(nil), original.Aliases...)
	merged.Tags = append([]store.Tag(nil), original.Tags...)
	merged.MentionedEntries = append([]string(nil), original.MentionedEntries...)

	merged.Name = strings.TrimSpace(pick(original.Name, changes.Name, overrides.Name))
	merged.Description = pick(original.Description, changes.Description, overrides.Description)

	if aliases, ok := pickList(changes.Aliases, overrides.Aliases); ok {
		merged.Aliases = normalizeAliases(aliases)
	}

	if original.Type == store.EntryTypeLexicon {
		merged.Tags = nil
		merged.VideoLink = ""
		return merged
	}
	if refs, ok := pickList(changes.Tags, overrides.Tags); ok {
		merged.Tags = tagsFromRefs(refs)
	}
	merged.VideoLink = strings.TrimSpace(pick(original.VideoLink, changes.VideoLink, overrides.VideoLink))
	return merged
}

func pick[T any](original T, suggested, override store.Optional[T]) T {
	if override.Set {
		return override.Value
	}
	if suggested.Set {
		return suggested.Value
	}
	return original
}

func pickList[T any](suggested, override store.Optional[[]T]) ([]T, bool) {
	if override.Set {
		return override.Value, true
	}
	if suggested.Set {
		return suggested.Value, true
	}
	return nil, false
}

// normalizeAliases trims names and drops blanks and case-insensitive
// duplicates, keeping the first spelling.
func normalizeAliases(aliases []store.Alias) []store.Alias {
	out := make([]store.Alias, 0, len(aliases))
	seen := map[string]bool{}
	for _, a := range aliases {
		name := strings.TrimSpace(a.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, store.Alias{Name: name})
	}
	return out
}

func tagsFromRefs(refs []store.TagRef) []store.Tag {
	out := make([]store.Tag, 0, len(refs))
	seen := map[string]bool{}
	for _, ref := range refs {
		name := strings.TrimSpace(ref.Name)
		key := ref.ID
		if key == "" {
			key = "name:" + strings.ToLower(name)
		}
		if (ref.ID == "" && name == "") || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, store.Tag{ID: ref.ID, Name: name})
	}
	return out
}
