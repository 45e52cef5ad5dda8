package cmd

import (
	"encoding/json"
	"net/http"

	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/Siddhant-K-code/identd/pkg/session"
)

// SessionAPI handles session lock endpoints.
type SessionAPI struct {
	store  session.Store
	engine *profile.Engine
}

// RegisterSessionRoutes adds session endpoints to the given mux.
func (s *SessionAPI) RegisterSessionRoutes(mux *http.ServeMux, mw func(string, http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/sessions", mw("/v1/sessions", s.handleList))
	mux.HandleFunc("/v1/sessions/lock", mw("/v1/sessions/lock", s.handleLock))
	mux.HandleFunc("/v1/sessions/unlock", mw("/v1/sessions/unlock", s.handleUnlock))
	mux.HandleFunc("/v1/sessions/{id}", mw("/v1/sessions/{id}", s.handleSession))
}

type lockRequest struct {
	SessionID string `json:"session_id"`
	Identity  string `json:"identity"`
}

func (s *SessionAPI) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Identity == "" {
		writeJSONError(w, "identity is required", http.StatusBadRequest)
		return
	}

	// A lock on an unknown identity would be ignored by the resolver.
	if s.engine != nil {
		if _, err := s.engine.GetIdentity(r.Context(), req.Identity); err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
	}

	lock, err := s.store.Lock(r.Context(), req.SessionID, req.Identity)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(lock)
}

func (s *SessionAPI) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		writeJSONError(w, "session_id is required", http.StatusBadRequest)
		return
	}

	lock, err := s.store.Unlock(r.Context(), req.SessionID)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(lock)
}

func (s *SessionAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		lock, err := s.store.Get(r.Context(), id)
		if err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(lock)

	case http.MethodDelete:
		if err := s.store.Delete(r.Context(), id); err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": id, "deleted": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *SessionAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	locks, err := s.store.List(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"sessions": locks, "count": len(locks)})
}
