// Package export renders glossary exports as CSV or PDF.
package export

import (
	"errors"

	"codex/api/internal/store"
)

// Format represents the export output format
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatPDF
}

// Request contains parameters for an export operation
type Request struct {
	Type   store.EntryType // empty exports both glossaries
	Format Format
	// Archive uploads the result to object storage when an archiver is configured.
	Archive bool
}

// Result contains the export output
type Result struct {
	Data       []byte `json:"-"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	ArchiveKey string `json:"archiveKey,omitempty"`
}

var (
	// ErrUnsupportedFormat indicates a format other than csv or pdf.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrArchiveUnavailable indicates no object storage is configured.
	ErrArchiveUnavailable = errors.New("export archive not configured")
)
