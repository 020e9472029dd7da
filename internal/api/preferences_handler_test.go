package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/models"
)

func TestPreferencesHandler(t *testing.T) {
	t.Run("returns 401 without a user", func(t *testing.T) {
		handler := NewPreferencesHandler(newTestEnv(t).sessions)
		VerifyAuthCheck(t, handler.GetPreferences, "GET", "/api/v1/preferences")
	})

	t.Run("returns 404 before setup", func(t *testing.T) {
		handler := NewPreferencesHandler(newTestEnv(t).sessions)

		rr := httptest.NewRecorder()
		handler.GetPreferences(rr, createRequestWithUser(t, "GET", "/api/v1/preferences", testEmail, nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("starts from the defaults", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(t)
		handler := NewPreferencesHandler(env.sessions)

		rr := httptest.NewRecorder()
		handler.GetPreferences(rr, createRequestWithUser(t, "GET", "/api/v1/preferences", testEmail, nil))

		require.Equal(t, http.StatusOK, rr.Code)
		got := decodeResponse[models.AppSettings](t, rr)
		assert.Equal(t, models.DefaultAppSettings(), got)
	})

	t.Run("saves rules and hands out ids", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(t)
		handler := NewPreferencesHandler(env.sessions)

		prefs := models.DefaultAppSettings()
		prefs.Signature = models.Signature{IsEnabled: true, Body: "-- Me"}
		prefs.Rules = []models.Rule{{
			Condition: models.RuleCondition{Field: models.RuleFieldSender, Operator: models.RuleOperatorContains, Value: " newsletter "},
			Action:    models.RuleAction{Type: models.RuleActionMove, Folder: "Archive"},
		}}

		rr := httptest.NewRecorder()
		handler.PutPreferences(rr, createRequestWithUser(t, "PUT", "/api/v1/preferences", testEmail, prefs))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		saved := decodeResponse[models.AppSettings](t, rr)
		require.Len(t, saved.Rules, 1)
		assert.NotEmpty(t, saved.Rules[0].ID)
		assert.Equal(t, "newsletter", saved.Rules[0].Condition.Value)

		rr = httptest.NewRecorder()
		handler.GetPreferences(rr, createRequestWithUser(t, "GET", "/api/v1/preferences", testEmail, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		got := decodeResponse[models.AppSettings](t, rr)
		assert.Equal(t, saved, got)
		assert.True(t, env.mailbox(t).Settings().Signature.IsEnabled)
	})

	t.Run("rejects a rule without a folder", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(t)
		handler := NewPreferencesHandler(env.sessions)

		prefs := models.DefaultAppSettings()
		prefs.Rules = []models.Rule{{
			Condition: models.RuleCondition{Field: models.RuleFieldSender, Operator: models.RuleOperatorContains, Value: "boss"},
			Action:    models.RuleAction{Type: models.RuleActionMove},
		}}

		rr := httptest.NewRecorder()
		handler.PutPreferences(rr, createRequestWithUser(t, "PUT", "/api/v1/preferences", testEmail, prefs))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "rule 1 needs a sender value and a target folder")
		assert.Empty(t, env.mailbox(t).Settings().Rules)
	})

	t.Run("missing rules become an empty list", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(t)
		handler := NewPreferencesHandler(env.sessions)

		rr := httptest.NewRecorder()
		handler.PutPreferences(rr, createRawRequestWithUser("PUT", "/api/v1/preferences", testEmail, `{"signature":{"is_enabled":false,"body":""}}`))

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		saved := decodeResponse[models.AppSettings](t, rr)
		assert.NotNil(t, saved.Rules)
		assert.Empty(t, saved.Rules)
	})
}
