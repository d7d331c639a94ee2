package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendsync/internal/models"
	"attendsync/internal/view"
)

func TestSessionLifecycle(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sessions", models.CreateSessionRequest{
		CourseName: "Networks", ProfessorName: "Dr. Tanaka", DurationHours: 1.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decodeBody[models.Session](t, rec)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = env.do(t, http.MethodPost, "/api/sessions", models.CreateSessionRequest{
		CourseName: "Networks", ProfessorName: "Dr. Tanaka", DurationHours: 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var v view.SessionView
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/sessions/current", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		v = decodeBody[view.SessionView](t, rec)
		return v.Token != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "1h 30m", v.RemainingDisplay)
	assert.Equal(t, "482913", v.Token.Code)
	assert.NotNil(t, v.Records)

	rec = env.do(t, http.MethodPost, "/api/sessions/current/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decodeBody[models.Session](t, rec)
	assert.NotNil(t, closed.ClosedAt)

	rec = env.do(t, http.MethodPost, "/api/sessions/current/close", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/sessions", models.CreateSessionRequest{CourseName: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sessions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
