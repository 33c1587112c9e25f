// Package httpapi exposes internal/vault's per-user memory operations over
// HTTP, for any caller that would rather speak REST than embed the vault
// package or an MCP client. Grounded on the teacher's internal/httpapi
// (net/http 1.22+ method+pattern routing, one handler per route, a shared
// respondJSON/respondError pair) generalized from its original
// prompt/dataset/experiment surface to the vault's session/conversation/
// retrieval/privacy/admin surface.
package httpapi

import (
	"net/http"

	"osqr/internal/vault"
)

// Server exposes HTTP endpoints for a Vault.
type Server struct {
	vault *vault.Vault
	mux   *http.ServeMux
}

// NewServer creates the HTTP API server wired to v.
func NewServer(v *vault.Vault) *Server {
	s := &Server{vault: v, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/vault/{userID}/sessions", s.handleStartSession)
	s.mux.HandleFunc("POST /api/v1/vault/{userID}/conversations", s.handleStartConversation)
	s.mux.HandleFunc("POST /api/v1/vault/{userID}/conversations/{convID}/messages", s.handleAddMessage)
	s.mux.HandleFunc("GET /api/v1/vault/{userID}/conversations/{convID}/messages", s.handleGetHistory)
	s.mux.HandleFunc("POST /api/v1/vault/{userID}/conversations/{convID}/end", s.handleEndConversation)
	s.mux.HandleFunc("GET /api/v1/vault/{userID}/window", s.handleGetWindow)
	s.mux.HandleFunc("PUT /api/v1/vault/{userID}/window", s.handleSetWindowConfig)

	s.mux.HandleFunc("POST /api/v1/vault/{userID}/retrieve", s.handleRetrieveContext)
	s.mux.HandleFunc("POST /api/v1/vault/{userID}/search", s.handleSearchMemories)
	s.mux.HandleFunc("POST /api/v1/vault/{userID}/outcomes", s.handleRecordOutcome)

	s.mux.HandleFunc("POST /api/v1/vault/{userID}/plugin-requests", s.handlePluginDataRequest)
	s.mux.HandleFunc("GET /api/v1/vault/{userID}/privacy", s.handleGetPrivacySettings)
	s.mux.HandleFunc("PUT /api/v1/vault/{userID}/privacy", s.handleUpdatePrivacySettings)

	s.mux.HandleFunc("GET /api/v1/vault/{userID}/crossproject", s.handleQueryCrossProject)

	s.mux.HandleFunc("GET /api/v1/vault/{userID}/stats", s.handleGetStats)
	s.mux.HandleFunc("GET /api/v1/vault/{userID}/export", s.handleExportUserData)
	s.mux.HandleFunc("DELETE /api/v1/vault/{userID}", s.handleDeleteUserData)

	s.mux.HandleFunc("POST /api/v1/vault/scheduler/synthesis", s.handleTriggerSynthesis)
	s.mux.HandleFunc("POST /api/v1/vault/scheduler/utility", s.handleTriggerUtility)
	s.mux.HandleFunc("POST /api/v1/vault/scheduler/orphans", s.handleTriggerOrphanSweep)
}
