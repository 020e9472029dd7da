package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/mailbox"
	"github.com/vdavid/webmail/internal/mailerr"
	"github.com/vdavid/webmail/internal/session"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not configured", session.ErrNotConfigured, http.StatusNotFound},
		{"validation", mailerr.Validation("name", "folder name is required"), http.StatusBadRequest},
		{"not found", fmt.Errorf("failed to load conversation: %w", mailerr.ErrNotFound), http.StatusNotFound},
		{"rejected credentials", &mailerr.AuthenticationError{Err: errors.New("bad password")}, http.StatusBadGateway},
		{"gateway timeout", &mailerr.GatewayError{Op: "fetch", Kind: mailerr.GatewayTimeout, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"gateway connection", &mailerr.GatewayError{Op: "fetch", Kind: mailerr.GatewayConnection, Err: errors.New("reset")}, http.StatusBadGateway},
		{"closed mailbox", mailbox.ErrClosed, http.StatusServiceUnavailable},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteError(rr, "Test", tt.err)
			assert.Equal(t, tt.status, rr.Code)
		})
	}

	t.Run("validation message reaches the client", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteError(rr, "Test", mailerr.Validation("name", "folder name is required"))
		assert.Contains(t, rr.Body.String(), "folder name is required")
	})
}

func TestParsePaginationParams(t *testing.T) {
	tests := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, 50},
		{"?page=3&limit=10", 3, 10},
		{"?page=0&limit=-1", 1, 50},
		{"?page=abc&limit=x", 1, 50},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/conversations"+tt.query, nil)
			page, limit := ParsePaginationParams(req, 50)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, []int{1, 2}, paginate(items, 1, 2))
	assert.Equal(t, []int{5}, paginate(items, 3, 2))
	assert.Equal(t, []int{}, paginate(items, 4, 2))
	assert.Equal(t, []int{}, paginate([]int(nil), 1, 2))
}

func TestWriteJSONResponse(t *testing.T) {
	t.Run("writes JSON with status 200", func(t *testing.T) {
		rr := httptest.NewRecorder()
		require.True(t, WriteJSONResponse(rr, map[string]bool{"success": true}))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	})

	t.Run("unencodable value is 500 without a partial body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		assert.False(t, WriteJSONResponse(rr, map[string]any{"bad": make(chan int)}))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "bad")
	})

	t.Run("reports a failed write", func(t *testing.T) {
		assert.False(t, WriteJSONResponse(&FailingResponseWriter{ResponseWriter: httptest.NewRecorder(), WriteShouldFail: true}, []string{"a"}))
	})
}
