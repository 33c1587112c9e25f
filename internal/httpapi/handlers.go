package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"osqr/internal/crossproject"
	"osqr/internal/model"
	"osqr/internal/privacy"
	"osqr/internal/retrieval"
	"osqr/internal/vault"
	"osqr/internal/vaulterrors"
)

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var body struct {
		DeviceType model.DeviceType `json:"deviceType"`
	}
	if err := decodeOptionalBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.vault.StartSession(r.Context(), userID, body.DeviceType)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var body struct {
		SessionID string `json:"sessionId"`
		ProjectID string `json:"projectId"`
	}
	if err := decodeOptionalBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	conv, err := s.vault.StartConversation(r.Context(), userID, body.SessionID, body.ProjectID)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var msg model.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	saved, win, err := s.vault.AddMessage(r.Context(), userID, msg)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"message": saved, "window": win})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	convID := r.PathValue("convID")
	history, err := s.vault.GetFullHistory(r.Context(), userID, convID)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": history})
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	conv, err := s.vault.EndConversation(r.Context(), userID)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	res, err := s.vault.GetWorkingWindow(r.Context(), userID)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetWindowConfig(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var cfg model.WindowConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	s.vault.SetWindowConfig(r.Context(), userID, cfg)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetrieveContext(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var body struct {
		Query   string            `json:"query"`
		Options retrieval.Options `json:"options"`
	}
	if err := decodeOptionalBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.vault.RetrieveContextForUser(r.Context(), userID, body.Query, body.Options)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var body struct {
		Query   string            `json:"query"`
		Options retrieval.Options `json:"options"`
	}
	if err := decodeOptionalBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.vault.SearchUserMemories(r.Context(), userID, body.Query, body.Options)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var body struct {
		MemoryID string        `json:"memoryId"`
		Outcome  model.Outcome `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.vault.RecordOutcome(r.Context(), userID, body.MemoryID, body.Outcome); err != nil {
		respondVaultError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePluginDataRequest(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var req privacy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.RequesterType = model.RequesterPlugin
	resp, err := s.vault.ProcessPluginDataRequest(r.Context(), userID, req)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPrivacySettings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	respondJSON(w, http.StatusOK, s.vault.GetPrivacySettings(r.Context(), userID))
}

func (s *Server) handleUpdatePrivacySettings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var settings vault.PrivacySettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	s.vault.UpdatePrivacySettings(r.Context(), userID, settings)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryCrossProject(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	q := crossproject.Query{
		UserID:               userID,
		Text:                 r.URL.Query().Get("q"),
		DetectContradictions: r.URL.Query().Get("detectContradictions") == "true",
	}
	result, err := s.vault.QueryCrossProject(r.Context(), q)
	if err != nil {
		respondVaultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	respondJSON(w, http.StatusOK, s.vault.GetVaultStats(r.Context(), userID))
}

func (s *Server) handleExportUserData(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	respondJSON(w, http.StatusOK, s.vault.ExportUserData(r.Context(), userID))
}

func (s *Server) handleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := s.vault.DeleteUserData(r.Context(), userID); err != nil {
		respondVaultError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerSynthesis(w http.ResponseWriter, r *http.Request) {
	s.vault.TriggerSynthesisProcessing(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTriggerUtility(w http.ResponseWriter, r *http.Request) {
	s.vault.TriggerUtilityUpdate(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTriggerOrphanSweep(w http.ResponseWriter, r *http.Request) {
	s.vault.TriggerOrphanCheck(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// decodeOptionalBody decodes a JSON body into dst if present, leaving dst
// at its zero value for an empty body rather than erroring.
func decodeOptionalBody(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func respondVaultError(w http.ResponseWriter, err error) {
	switch {
	case vaulterrors.Is(err, vaulterrors.NotFound):
		respondError(w, http.StatusNotFound, err)
	case vaulterrors.Is(err, vaulterrors.InvalidArgument):
		respondError(w, http.StatusBadRequest, err)
	case vaulterrors.Is(err, vaulterrors.Encryption), vaulterrors.Is(err, vaulterrors.Scheduling):
		respondError(w, http.StatusUnprocessableEntity, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}
