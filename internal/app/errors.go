package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"codex/api/internal/auth"
	"codex/api/internal/export"
	"codex/api/internal/moderation"
	"codex/api/internal/store"
)

// DomainError is an error the service raises with its HTTP status and
// machine-readable code already decided, e.g. AUTH_UNAVAILABLE or
// ENTRY_EXISTS. Details is sent to the client as-is.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

// mapError turns any error reaching a handler into the response envelope
// fields. Unrecognised errors become a 500 without leaking their text.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var notFound *moderation.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil
	}
	var invalid *moderation.ValidationError
	if errors.As(err, &invalid) {
		var fields any
		if len(invalid.Fields) > 0 {
			fields = invalid.Fields
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", invalid.Message, fields
	}
	var conflict *moderation.MergeConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, "CONFLICT", conflict.Error(), nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrEntryExists):
		return http.StatusConflict, "ENTRY_EXISTS", "An entry with this name already exists", nil
	case errors.Is(err, store.ErrTagExists):
		return http.StatusConflict, "TAG_EXISTS", "A tag with this name already exists", nil
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "Entry was modified by someone else; reload and retry", nil
	case errors.Is(err, store.ErrStatusConflict):
		return http.StatusConflict, "CONFLICT", "Submission is no longer pending", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be csv or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, export.ErrArchiveUnavailable):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export archival is not configured", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
