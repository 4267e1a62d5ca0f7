package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	hardened   bool
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		hardened:   service.cfg.IsProduction(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "UP",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
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
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/ideas" {
		s.handleCreateIdea(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ideas" {
		s.handleListIdeas(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "ideas" {
		s.handleIdea(w, r, parts[2])
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/kollabs" {
		s.handleCreateKollab(w, r)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "kollabs" {
		s.handleKollab(w, r, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "kollabs" && parts[3] == "discussions" {
		if r.Method != http.MethodPost {
			writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleAddDiscussion(w, r, parts[2])
		return
	}

	writeError(w, r, http.StatusNotFound, "NOT_FOUND",
		fmt.Sprintf("Can't find %s on this server", r.URL.Path), nil)
}

func (s *HTTPServer) handleCreateIdea(w http.ResponseWriter, r *http.Request) {
	var body CreateIdeaInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateIdea(r.Context(), body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, payload, "Idea created successfully")
}

func (s *HTTPServer) handleListIdeas(w http.ResponseWriter, r *http.Request) {
	input := ListIdeasInput{
		Status:    strings.TrimSpace(r.URL.Query().Get("status")),
		SortBy:    strings.TrimSpace(r.URL.Query().Get("sortBy")),
		SortOrder: strings.TrimSpace(r.URL.Query().Get("sortOrder")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "page must be a positive integer", nil)
			return
		}
		input.Page = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return
		}
		input.PageSize = parsed
	}

	payload, err := s.service.ListIdeas(r.Context(), input)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, payload, "")
}

func (s *HTTPServer) handleIdea(w http.ResponseWriter, r *http.Request, ideaID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetIdea(r.Context(), ideaID)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload, "")

	case http.MethodPut:
		var body UpdateIdeaInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateIdea(r.Context(), ideaID, body)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload, "Idea updated successfully")

	case http.MethodDelete:
		if err := s.service.DeleteIdea(r.Context(), ideaID); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, nil, "Idea deleted successfully")

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleCreateKollab(w http.ResponseWriter, r *http.Request) {
	var body CreateKollabInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateKollab(r.Context(), body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, payload, "Kollab created successfully")
}

func (s *HTTPServer) handleKollab(w http.ResponseWriter, r *http.Request, kollabID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetKollab(r.Context(), kollabID)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload, "")

	case http.MethodPut:
		var body UpdateKollabInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateKollab(r.Context(), kollabID, body)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, payload, "Kollab updated successfully")

	case http.MethodDelete:
		if err := s.service.DeleteKollab(r.Context(), kollabID); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, nil, "Kollab deleted successfully")

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAddDiscussion(w http.ResponseWriter, r *http.Request, kollabID string) {
	var body AddDiscussionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AddDiscussion(r.Context(), kollabID, body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, payload, "Discussion added successfully")
}

// writeFailure maps any service error onto the response envelope. Unclassified
// errors become 500s; the underlying message is exposed outside hardened mode
// and always logged with full request context.
func (s *HTTPServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, r, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	log.Printf("%s %s -> 500: %v", r.Method, r.URL.Path, err)
	message := "An unexpected error occurred"
	if !s.hardened {
		message = err.Error()
	}
	writeError(w, r, http.StatusInternalServerError, "SERVER_ERROR", message, nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccess wraps a payload in the {success, data, message} envelope.
func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	response := map[string]any{"success": true}
	if data != nil {
		response["data"] = data
	}
	if message != "" {
		response["message"] = message
	}
	writeJSON(w, status, response)
}

// writeError wraps a failure in the {success, code, error, data} envelope and
// logs it with the request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	if status >= http.StatusBadRequest {
		log.Printf("%s %s -> %d %s: %s", r.Method, r.URL.Path, status, code, message)
	}
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["data"] = details
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
