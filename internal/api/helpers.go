package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/vdavid/webmail/internal/auth"
	"github.com/vdavid/webmail/internal/db"
	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/session"
)

const defaultPerPage = 100

// GetUserIDFromContext extracts the user's email from context, resolves/creates the DB user,
// and writes appropriate HTTP errors when it fails. Returns (userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, repo db.Repository) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Println("API: No user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	userID, err := repo.GetOrCreateUser(ctx, email)
	if err != nil {
		log.Printf("API: Failed to get/create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}

	return userID, true
}

// GetSessionFromContext returns the mailbox session of the user in context,
// starting it if needed. It writes the HTTP error itself and returns false
// when there is no usable session.
func GetSessionFromContext(ctx context.Context, w http.ResponseWriter, sessions *session.Manager) (*session.Session, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Println("API: No user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	s, err := sessions.Get(ctx, email)
	if err != nil {
		WriteError(w, "API", err)
		return nil, false
	}
	return s, true
}

// WriteError maps an engine or gateway error to an HTTP status.
// The component prefixes the log line.
func WriteError(w http.ResponseWriter, component string, err error) {
	var gwErr *mailerr.GatewayError

	switch {
	case errors.Is(err, session.ErrNotConfigured):
		http.Error(w, "Settings not found for this user", http.StatusNotFound)
	case mailerr.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, mailerr.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case mailerr.IsAuthentication(err):
		log.Printf("%s: Mail server rejected credentials: %v", component, err)
		http.Error(w, "The mail server rejected your credentials. Please check your Settings.", http.StatusBadGateway)
	case errors.As(err, &gwErr) && gwErr.Kind == mailerr.GatewayTimeout:
		log.Printf("%s: Mail server timed out: %v", component, err)
		http.Error(w, "Connection to the mail server timed out. Please try again.", http.StatusGatewayTimeout)
	case errors.As(err, &gwErr):
		log.Printf("%s: Mail server error: %v", component, err)
		http.Error(w, "Failed to reach the mail server", http.StatusBadGateway)
	case errors.Is(err, mailbox.ErrClosed):
		http.Error(w, "Your mail session was restarted. Please try again.", http.StatusServiceUnavailable)
	default:
		log.Printf("%s: %v", component, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// WriteJSONResponse encodes v and writes it with status 200.
// Uses a buffered approach to prevent partial writes if JSON encoding fails.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	return writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	// Only write headers and body if encoding succeeded
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
		return false
	}
	return true
}

// decodeJSONBody reads the request body into v, answering 400 when it is malformed.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, component string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("%s: Failed to decode request: %v", component, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// ParsePaginationParams parses page and limit from query parameters.
// Returns default values (page=1, limit=defaultLimit) if parameters are missing or invalid.
func ParsePaginationParams(r *http.Request, defaultLimit int) (page, limit int) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	return page, limit
}

// GetPaginationLimit uses the user's page size unless the request asked for one.
func GetPaginationLimit(ctx context.Context, r *http.Request, repo db.Repository, userID string) (page, limit int) {
	perPage := defaultPerPage
	if settings, err := repo.GetUserSettings(ctx, userID); err == nil && settings.PaginationThreadsPerPage > 0 {
		perPage = settings.PaginationThreadsPerPage
	}
	return ParsePaginationParams(r, perPage)
}

// paginate returns the items of one page. Pages past the end are empty.
func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := min(start+limit, len(items))
	return items[start:end]
}
