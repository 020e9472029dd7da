package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/models"
)

func TestSelectionHandler(t *testing.T) {
	env := seededEnv(t)
	handler := NewSelectionHandler(env.sessions)
	mb := env.mailbox(t)

	update := func(t *testing.T, selected bool, ids ...string) []string {
		t.Helper()
		req := createRequestWithUser(t, "POST", "/api/v1/selection", testEmail, selectionRequest{ConversationIDs: ids, Selected: selected})
		rr := httptest.NewRecorder()
		handler.UpdateSelection(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		return decodeResponse[selectionResponse](t, rr).ConversationIDs
	}
	bulk := func(t *testing.T, action string) int {
		t.Helper()
		req := createRequestWithUser(t, "POST", "/api/v1/selection/"+action, testEmail, nil)
		req.SetPathValue("action", action)
		rr := httptest.NewRecorder()
		handler.ApplyBulkAction(rr, req)
		return rr.Code
	}

	t.Run("selects known conversations in order and ignores unknown ones", func(t *testing.T) {
		assert.Equal(t, []string{"c2", "c1"}, update(t, true, "c2", "nope", "c1", "c2"))
	})

	t.Run("deselects", func(t *testing.T) {
		assert.Equal(t, []string{"c1"}, update(t, false, "c2"))
	})

	t.Run("get returns the selection", func(t *testing.T) {
		req := createRequestWithUser(t, "GET", "/api/v1/selection", testEmail, nil)
		rr := httptest.NewRecorder()
		handler.GetSelection(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{"c1"}, decodeResponse[selectionResponse](t, rr).ConversationIDs)
	})

	t.Run("bulk read applies to the selection and clears it", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, bulk(t, "read"))
		assert.Empty(t, mb.Selection())
		c1, err := mb.Conversation("c1")
		require.NoError(t, err)
		assert.True(t, c1.IsRead)
		c2, err := mb.Conversation("c2")
		require.NoError(t, err)
		assert.False(t, c2.IsRead)
	})

	t.Run("bulk spam moves the selection", func(t *testing.T) {
		update(t, true, "c2", "c3")
		require.Equal(t, http.StatusNoContent, bulk(t, "spam"))

		assert.ElementsMatch(t, []string{"c2", "c3"}, conversationIDs(mb.Conversations(models.FolderSpam, "")))
		assert.Empty(t, mb.Selection())
	})

	t.Run("bulk delete with an empty selection changes nothing", func(t *testing.T) {
		before := mb.Version()
		require.Equal(t, http.StatusNoContent, bulk(t, "delete"))
		assert.Equal(t, before, mb.Version())
	})

	t.Run("unknown action is 404", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, bulk(t, "archive"))
	})

	t.Run("clear", func(t *testing.T) {
		update(t, true, "c4")
		req := createRequestWithUser(t, "DELETE", "/api/v1/selection", testEmail, nil)
		rr := httptest.NewRecorder()
		handler.ClearSelection(rr, req)

		require.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, mb.Selection())
	})
}
