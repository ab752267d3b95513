package export

import (
	"bytes"
	"encoding/csv"
	"strings"

	"codex/api/internal/richtext"
	"codex/api/internal/store"
)

var csvHeader = []string{"Name", "Type", "Aliases", "Tags", "Video Link", "Description", "URL"}

// CSV writes one row per entry. Descriptions are reduced to plain text and
// URLs are absolute when baseURL is set.
func CSV(entries []store.Entry, baseURL string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	baseURL = strings.TrimRight(baseURL, "/")
	for _, entry := range entries {
		aliases := make([]string, 0, len(entry.Aliases))
		for _, alias := range entry.Aliases {
			aliases = append(aliases, alias.Name)
		}
		tags := make([]string, 0, len(entry.Tags))
		for _, tag := range entry.Tags {
			tags = append(tags, tag.Name)
		}
		row := []string{
			entry.Name,
			string(entry.Type),
			strings.Join(aliases, "; "),
			strings.Join(tags, "; "),
			entry.VideoLink,
			richtext.StripTags(richtext.NormalizeDescription(entry.Description, nil)),
			baseURL + richtext.EntryPath(entry.Type, entry.ID),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
