package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codex/api/internal/auth"
	"codex/api/internal/export"
	"codex/api/internal/history"
	"codex/api/internal/moderation"
	"codex/api/internal/rbac"
	"codex/api/internal/search"
	"codex/api/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: service.log.WithField("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/login" {
		loginURL, state, err := s.service.LoginURL(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": loginURL, "state": state})
		return
	}

	// The provider redirects the browser here; the client app finishes the
	// exchange through POST /api/auth/callback.
	if r.Method == http.MethodGet && r.URL.Path == "/api/callback" {
		target := strings.TrimRight(s.service.cfg.ClientOrigin, "/") + "/callback"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusFound)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/callback" {
		var body struct {
			Code  string `json:"code"`
			State string `json:"state"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.CompleteLogin(r.Context(), body.Code, body.State)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"email":         session.Email,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
				return
			}
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/entries" {
		query := r.URL.Query()
		filter := store.EntryFilter{
			Type:     store.EntryType(strings.TrimSpace(query.Get("type"))),
			Query:    strings.TrimSpace(query.Get("q")),
			Letter:   strings.TrimSpace(query.Get("letter")),
			TagIDs:   splitList(query.Get("tags")),
			TagLogic: store.TagLogic(strings.ToUpper(strings.TrimSpace(query.Get("tagLogic")))),
		}
		entries, err := s.service.ListEntries(r.Context(), filter)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/entries/search" {
		items, err := s.service.SuggestEntries(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/entries" {
		session, ok := s.authorize(w, r, rbac.ActionAdmin)
		if !ok {
			return
		}
		var body store.NewEntryData
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		entry, err := s.service.CreateEntry(r.Context(), body, session.UserName)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/entries/") {
		parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api/entries/"))
		if len(parts) > 0 {
			s.handleEntry(w, r, parts)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tags" {
		tags, err := s.service.ListTags(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/tags" {
		if _, ok := s.authorize(w, r, rbac.ActionAdmin); !ok {
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tag, err := s.service.CreateTag(r.Context(), body.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/tags/") {
		parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api/tags/"))
		if len(parts) == 1 {
			s.handleTag(w, r, parts[0])
			return
		}
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/submissions" {
		var body SubmitInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sub, err := s.service.Submit(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/submissions" {
		if _, ok := s.authorize(w, r, rbac.ActionModerate); !ok {
			return
		}
		status := store.SubmissionStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		subs, err := s.service.ListSubmissions(r.Context(), status)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/submissions/") {
		parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api/submissions/"))
		if len(parts) == 2 {
			s.handleSubmissionAction(w, r, parts[0], parts[1])
			return
		}
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/richtext/preview" {
		var body struct {
			HTML string `json:"html"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		annotated, err := s.service.Preview(r.Context(), body.HTML)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, annotated)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		q := search.Query{
			Text:     strings.TrimSpace(query.Get("q")),
			Type:     store.EntryType(strings.TrimSpace(query.Get("type"))),
			Tags:     splitList(query.Get("tags")),
			TagLogic: store.TagLogic(strings.ToUpper(strings.TrimSpace(query.Get("tagLogic")))),
		}
		var err error
		if q.Limit, err = intParam(query, "limit", 20); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		if q.Offset, err = intParam(query, "offset", 0); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.Search(r.Context(), q)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export" {
		s.handleExport(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEntry(w http.ResponseWriter, r *http.Request, parts []string) {
	entryID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			entry, err := s.service.GetEntry(r.Context(), entryID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, entry)
		case http.MethodPut:
			session, ok := s.authorize(w, r, rbac.ActionAdmin)
			if !ok {
				return
			}
			var body struct {
				Version int64         `json:"version"`
				Changes store.Changes `json:"changes"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			entry, err := s.service.UpdateEntry(r.Context(), entryID, body.Version, body.Changes, session.UserName)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, entry)
		case http.MethodDelete:
			session, ok := s.authorize(w, r, rbac.ActionAdmin)
			if !ok {
				return
			}
			if err := s.service.DeleteEntry(r.Context(), entryID, session.UserName); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "references" {
		refs, err := s.service.EntryReferences(r.Context(), entryID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": refs})
		return
	}

	if r.Method == http.MethodGet && len(parts) >= 2 && parts[1] == "history" {
		if _, ok := s.authorize(w, r, rbac.ActionModerate); !ok {
			return
		}
		if len(parts) == 3 {
			snap, rev, err := s.service.EntryRevision(r.Context(), entryID, parts[2])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, revisionPayload{Revision: rev, Snapshot: snap})
			return
		}
		limit, err := intParam(r.URL.Query(), "limit", 50)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		revisions, err := s.service.EntryHistory(r.Context(), entryID, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entryId": entryID, "revisions": revisions})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTag(w http.ResponseWriter, r *http.Request, tagID string) {
	switch r.Method {
	case http.MethodPut:
		if _, ok := s.authorize(w, r, rbac.ActionAdmin); !ok {
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tag, err := s.service.RenameTag(r.Context(), tagID, body.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tag)
	case http.MethodDelete:
		if _, ok := s.authorize(w, r, rbac.ActionAdmin); !ok {
			return
		}
		if err := s.service.DeleteTag(r.Context(), tagID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSubmissionAction(w http.ResponseWriter, r *http.Request, rawID, action string) {
	session, ok := s.authorize(w, r, rbac.ActionModerate)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Submission not found", nil)
		return
	}

	switch {
	case action == "review" && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		var body struct {
			Overrides store.Changes `json:"overrides"`
		}
		if r.Method == http.MethodPost {
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
		}
		payload, err := s.service.ReviewSubmission(r.Context(), id, body.Overrides)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case action == "approve" && r.Method == http.MethodPost:
		var body moderation.Review
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		entry, err := s.service.ApproveSubmission(r.Context(), id, body, session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entry": entry})
	case action == "reject" && r.Method == http.MethodPost:
		var body struct {
			Reason     string `json:"reason"`
			AdminNotes string `json:"adminNotes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sub, err := s.service.RejectSubmission(r.Context(), id, body.Reason, body.AdminNotes, session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "submission": sub})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := export.Request{
		Type:    store.EntryType(strings.TrimSpace(query.Get("type"))),
		Format:  export.Format(strings.ToLower(strings.TrimSpace(query.Get("format")))),
		Archive: query.Get("archive") == "true",
	}
	if req.Format == "" {
		req.Format = export.FormatCSV
	}
	if req.Archive {
		if _, ok := s.authorize(w, r, rbac.ActionAdmin); !ok {
			return
		}
	}
	result, err := s.service.Export(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Archive {
		writeJSON(w, http.StatusOK, result)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// authorize requires a session whose role allows action.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, action rbac.Action) (Session, bool) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if !s.service.Can(session.Role, action) {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"user_id":    session.UserID,
			"action":     action,
		}).Warn("forbidden")
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return Session{}, false
	}
	*r = *r.WithContext(withSession(r.Context(), session))
	return session, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail writes the mapped error and logs anything that is not a client error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("request_id", requestID(r.Context())).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		if timeout := s.service.cfg.RequestTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  reqID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type revisionPayload struct {
	Revision history.Revision `json:"revision"`
	Snapshot history.Snapshot `json:"snapshot"`
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userName":     session.UserName,
		"userId":       session.UserID,
		"email":        session.Email,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intParam(values url.Values, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
