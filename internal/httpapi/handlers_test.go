package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"osqr/internal/crossproject"
	"osqr/internal/embedding"
	"osqr/internal/episodic"
	"osqr/internal/extract"
	"osqr/internal/model"
	"osqr/internal/privacy"
	"osqr/internal/procedural"
	"osqr/internal/semantic"
	"osqr/internal/vault"
	"osqr/internal/vconfig"
)

type fakeCompleter struct{ response string }

func (f *fakeCompleter) Complete(_ context.Context, _ []extract.ChatMessage) (string, error) {
	return f.response, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	v := vault.New(vault.Config{
		Flags:        vconfig.FeatureFlags{EnableMemoryVault: true},
		Episodic:     episodic.New(),
		Semantic:     semantic.New(nil),
		Procedural:   procedural.New(),
		CrossProject: crossproject.New(),
		Embedder:     embedding.NewService(embedding.NewDeterministic(32, true, 1), "test", 32),
		Completer:    &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`},
		Gate:         privacy.New(privacy.NewMemorySink(), privacy.DefaultRules()),
	})
	return NewServer(v)
}

func TestStartSessionAndConversationEndpoints(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vault/u1/sessions", bytes.NewReader([]byte(`{"deviceType":"web"}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/vault/u1/conversations", bytes.NewReader([]byte(`{"projectId":"p1"}`)))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv model.Conversation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conv))
	require.NotEmpty(t, conv.ID)
}

func TestAddMessageEndpointRequiresActiveConversation(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(model.Message{Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vault/u1/conversations/none/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFullConversationFlowEndpoint(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv, "/api/v1/vault/u1/sessions", `{"deviceType":"web"}`)
	post(t, srv, "/api/v1/vault/u1/conversations", `{}`)

	body, err := json.Marshal(model.Message{Role: model.RoleUser, Content: "remember dark mode"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vault/u1/conversations/x/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/vault/u1/window", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteUserDataEndpoint(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/api/v1/vault/u1/sessions", `{"deviceType":"web"}`)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/vault/u1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vault/u1/stats", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func post(t *testing.T, srv *Server, path, body string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Less(t, rec.Code, 300)
}
