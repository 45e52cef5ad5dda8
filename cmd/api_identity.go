package cmd

import (
	"encoding/json"
	"net/http"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/Siddhant-K-code/identd/pkg/session"
)

// IdentityAPI handles resolution, identity, trust and cache endpoints.
type IdentityAPI struct {
	engine   *profile.Engine
	sessions session.Store
}

// RegisterIdentityRoutes adds identity endpoints to the given mux.
func (a *IdentityAPI) RegisterIdentityRoutes(mux *http.ServeMux, mw func(string, http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/resolve", mw("/v1/resolve", a.handleResolve))
	mux.HandleFunc("/v1/identities", mw("/v1/identities", a.handleList))
	mux.HandleFunc("/v1/identities/{id}", mw("/v1/identities/{id}", a.handleIdentity))
	mux.HandleFunc("POST /v1/identities/stub", mw("/v1/identities/stub", a.handleSeed))
	mux.HandleFunc("POST /v1/identities/merge", mw("/v1/identities/merge", a.handleMerge))
	mux.HandleFunc("/v1/trust", mw("/v1/trust", a.handleAddTrust))
	mux.HandleFunc("/v1/trust/update", mw("/v1/trust/update", a.handleUpdateTrust))
	mux.HandleFunc("/v1/trust/{id}", mw("/v1/trust/{id}", a.handleTrusted))
	mux.HandleFunc("/v1/cache/metrics", mw("/v1/cache/metrics", a.handleCacheMetrics))
	mux.HandleFunc("/v1/cache/clear", mw("/v1/cache/clear", a.handleCacheClear))
	mux.HandleFunc("/v1/cleanup", mw("/v1/cleanup", a.handleCleanup))
}

type resolveRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

func (a *IdentityAPI) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		writeJSONError(w, "text is required", http.StatusBadRequest)
		return
	}

	var sc profile.SessionContext
	if req.SessionID != "" && a.sessions != nil {
		var err error
		if sc, err = a.sessions.Context(r.Context(), req.SessionID); err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
	}

	result := a.engine.ResolveDetailed(r.Context(), req.Text, sc)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (a *IdentityAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var t identity.Tier
	if raw := r.URL.Query().Get("tier"); raw != "" {
		var err error
		if t, err = identity.ParseTier(raw); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	recs, err := a.engine.ListAll(r.Context(), t)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"identities": recs, "count": len(recs)})
}

func (a *IdentityAPI) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		rec, err := a.engine.GetIdentity(r.Context(), id)
		if err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)

	case http.MethodPatch:
		var patch identity.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		changed, err := a.engine.MutateIdentity(r.Context(), id, patch)
		if err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "changed": changed})

	case http.MethodDelete:
		if err := a.engine.DeleteIdentity(r.Context(), id); err != nil {
			writeJSONError(w, err.Error(), statusFor(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "deleted": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *IdentityAPI) handleSeed(w http.ResponseWriter, r *http.Request) {
	var seed profile.StubSeed
	if err := json.NewDecoder(r.Body).Decode(&seed); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := a.engine.SeedStub(r.Context(), seed)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rec)
}

type mergeRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (a *IdentityAPI) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" || req.Target == "" {
		writeJSONError(w, "source and target are required", http.StatusBadRequest)
		return
	}

	rec, err := a.engine.MergeIdentities(r.Context(), req.Source, req.Target)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

type trustRequest struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength,omitempty"`
	Delta        float64 `json:"delta,omitempty"`
}

func (a *IdentityAPI) handleAddTrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req trustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	link, err := a.engine.AddTrustLink(r.Context(), req.From, req.To, req.Relationship, req.Strength)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(link)
}

func (a *IdentityAPI) handleUpdateTrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req trustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	link, err := a.engine.UpdateTrustStrength(r.Context(), req.From, req.To, req.Relationship, req.Delta)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(link)
}

func (a *IdentityAPI) handleTrusted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	links, err := a.engine.GetTrustedIdentities(r.Context(), r.PathValue("id"), r.URL.Query().Get("relationship"))
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": r.PathValue("id"), "links": links})
}

func (a *IdentityAPI) handleCacheMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.engine.GetCacheMetrics())
}

func (a *IdentityAPI) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Namespace string `json:"namespace"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	var ns cache.Namespace
	if req.Namespace != "" {
		var err error
		if ns, err = cache.ParseNamespace(req.Namespace); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := a.engine.ClearCache(ns); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.engine.GetCacheMetrics())
}

func (a *IdentityAPI) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := a.engine.RunCleanup(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
