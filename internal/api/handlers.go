package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/scanner"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// ========== Auth handlers ==========

// HandleLogin authenticates the operator password and issues a token pair.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.auth.VerifyPassword(req.Password) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== System handlers ==========

// HandleHealth handles health check
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HandleRoot describes the service
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"service": "prospector-scanner",
		"version": "v1",
	})
}

// HandleStatus reports the scanner engine counters.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"capacity":      s.engine.Capacity(),
		"active":        s.engine.ActiveCount(),
		"selected":      s.engine.SelectedIndex(),
		"primary":       s.engine.PrimaryIndex(),
		"sync_state":    s.engine.SyncState().String(),
		"queue_dropped": s.engine.QueueDropped(),
	})
}

// ========== Keyboard handlers ==========

type keyboardView struct {
	Index int `json:"index"`
	scanner.Entry
}

// HandleListKeyboards lists active entries.
func (s *Server) HandleListKeyboards(w http.ResponseWriter, r *http.Request) {
	keyboards := make([]keyboardView, 0, s.engine.Capacity())
	for i := 0; i < s.engine.Capacity(); i++ {
		e, ok := s.engine.Entry(i)
		if !ok || !e.Active {
			continue
		}
		keyboards = append(keyboards, keyboardView{Index: i, Entry: e})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"keyboards": keyboards,
		"total":     len(keyboards),
	})
}

// HandleGetKeyboard returns the active entry for an address.
func (s *Server) HandleGetKeyboard(w http.ResponseWriter, r *http.Request) {
	addr, err := prospector.ParseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid address")
		return
	}

	e, idx, ok := s.engine.EntryByAddress(addr)
	if !ok {
		s.respondError(w, http.StatusNotFound, "keyboard not found")
		return
	}

	s.respondJSON(w, http.StatusOK, keyboardView{Index: idx, Entry: e})
}

// HandleSetSelection focuses a device by table index. Index -1 clears the
// selection.
func (s *Server) HandleSetSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.Select(req.Index); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"selected":   s.engine.SelectedIndex(),
		"sync_state": s.engine.SyncState().String(),
	})
}

// HandleReset deactivates every entry.
func (s *Server) HandleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "reset",
	})
}

// ========== Response helpers ==========

// respondJSON responds with JSON
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
