package apisrv

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorld struct {
	stats      map[string]interface{}
	kickErr    error
	banErr     error
	unbanErr   error
	kicked     string
	banned     string
	unbanned   string
}

func (w *fakeWorld) Stats() map[string]interface{} { return w.stats }
func (w *fakeWorld) Kick(agentID string) error {
	w.kicked = agentID
	return w.kickErr
}
func (w *fakeWorld) Ban(agentID string) error {
	w.banned = agentID
	return w.banErr
}
func (w *fakeWorld) Unban(agentID string) error {
	w.unbanned = agentID
	return w.unbanErr
}

func newTestServer(world World) *Server {
	return NewServer(world, "the-admin-key", slog.Default())
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	s := newTestServer(&fakeWorld{stats: map[string]interface{}{}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStats_ReturnsWorldStats(t *testing.T) {
	s := newTestServer(&fakeWorld{stats: map[string]interface{}{"connections": float64(3)}})
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["connections"])
}

func TestAdminKick_RejectsWithoutAdminKey(t *testing.T) {
	world := &fakeWorld{}
	s := newTestServer(world)
	req := httptest.NewRequest(http.MethodPost, "/admin/kick", bytes.NewBufferString(`{"agent":"alice"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, world.kicked, "the world must not be mutated without a valid admin key")
}

func TestAdminKick_SucceedsWithValidAdminKey(t *testing.T) {
	world := &fakeWorld{}
	s := newTestServer(world)
	req := httptest.NewRequest(http.MethodPost, "/admin/kick", bytes.NewBufferString(`{"agent":"alice"}`))
	req.Header.Set("X-Admin-Key", "the-admin-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", world.kicked)
}

func TestAdminKick_MissingAgentFieldIsBadRequest(t *testing.T) {
	s := newTestServer(&fakeWorld{})
	req := httptest.NewRequest(http.MethodPost, "/admin/kick", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Admin-Key", "the-admin-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminKick_WorldErrorIsNotFound(t *testing.T) {
	world := &fakeWorld{kickErr: errors.New("no such agent")}
	s := newTestServer(world)
	req := httptest.NewRequest(http.MethodPost, "/admin/kick", bytes.NewBufferString(`{"agent":"ghost"}`))
	req.Header.Set("X-Admin-Key", "the-admin-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminBanUnban_RoundTrip(t *testing.T) {
	world := &fakeWorld{}
	s := newTestServer(world)

	banReq := httptest.NewRequest(http.MethodPost, "/admin/ban", bytes.NewBufferString(`{"agent":"mallory"}`))
	banReq.Header.Set("X-Admin-Key", "the-admin-key")
	banRec := httptest.NewRecorder()
	s.Router().ServeHTTP(banRec, banReq)
	assert.Equal(t, http.StatusOK, banRec.Code)
	assert.Equal(t, "mallory", world.banned)

	unbanReq := httptest.NewRequest(http.MethodPost, "/admin/unban", bytes.NewBufferString(`{"agent":"mallory"}`))
	unbanReq.Header.Set("X-Admin-Key", "the-admin-key")
	unbanRec := httptest.NewRecorder()
	s.Router().ServeHTTP(unbanRec, unbanReq)
	assert.Equal(t, http.StatusOK, unbanRec.Code)
	assert.Equal(t, "mallory", world.unbanned)
}
