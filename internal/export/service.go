package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"codex/api/internal/catalog"
	"codex/api/internal/store"
	"github.com/sirupsen/logrus"
)

// EntryLister loads the entries to export.
type EntryLister interface {
	ListEntries(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error)
}

// Renderer turns a stored entry into reader-facing markup.
type Renderer interface {
	Render(ctx context.Context, entry store.Entry) (catalog.RenderedEntry, error)
}

// Service provides glossary export functionality
type Service struct {
	entries  EntryLister
	renderer Renderer
	archiver Archiver
	baseURL  string
	log      logrus.FieldLogger
	now      func() time.Time
	pdf      func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates an export service. archiver may be nil.
func NewService(entries EntryLister, renderer Renderer, archiver Archiver, baseURL string, log logrus.FieldLogger) *Service {
	return &Service{
		entries:  entries,
		renderer: renderer,
		archiver: archiver,
		baseURL:  baseURL,
		log:      log.WithField("component", "export"),
		now:      time.Now,
		pdf:      renderPDF,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if !req.Format.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if req.Archive && s.archiver == nil {
		return nil, ErrArchiveUnavailable
	}

	entries, err := s.entries.ListEntries(ctx, store.EntryFilter{Type: req.Type})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	title := glossaryTitle(req.Type)
	var result *Result
	switch req.Format {
	case FormatCSV:
		data, err := CSV(entries, s.baseURL)
		if err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
		result = &Result{Data: data, Filename: sanitizeFilename(title) + ".csv", MimeType: "text/csv; charset=utf-8"}
	case FormatPDF:
		html, err := s.glossaryHTML(ctx, title, entries)
		if err != nil {
			return nil, err
		}
		if result, err = s.pdf(ctx, html, title); err != nil {
			return nil, err
		}
	}

	if req.Archive {
		key, err := s.archiver.Archive(ctx, result)
		if err != nil {
			return nil, err
		}
		result.ArchiveKey = key
		s.log.WithFields(logrus.Fields{"key": key, "bytes": len(result.Data)}).Info("archived export")
	}
	return result, nil
}

func (s *Service) glossaryHTML(ctx context.Context, title string, entries []store.Entry) (string, error) {
	data := TemplateData{Title: title, GeneratedAt: s.now(), Entries: make([]TemplateEntry, 0, len(entries))}
	for _, entry := range entries {
		rendered, err := s.renderer.Render(ctx, entry)
		if err != nil {
			return "", fmt.Errorf("render entry %s: %w", entry.ID, err)
		}
		item := TemplateEntry{
			Name:      entry.Name,
			Type:      string(entry.Type),
			VideoLink: entry.VideoLink,
			// Render output is sanitized.
			DescriptionHTML: template.HTML(rendered.DescriptionHTML),
		}
		for _, alias := range entry.Aliases {
			item.Aliases = append(item.Aliases, alias.Name)
		}
		for _, tag := range entry.Tags {
			item.Tags = append(item.Tags, tag.Name)
		}
		data.Entries = append(data.Entries, item)
	}
	html, err := RenderGlossaryHTML(data)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return html, nil
}

func glossaryTitle(entryType store.EntryType) string {
	switch entryType {
	case store.EntryTypeExicon:
		return "Exicon"
	case store.EntryTypeLexicon:
		return "Lexicon"
	default:
		return "Glossary"
	}
}
