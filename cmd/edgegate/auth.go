package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"storegate/edge-service/internal/config"
	"storegate/edge-service/internal/httputil"
	"storegate/edge-service/internal/metrics"
	"storegate/edge-service/internal/session"
	"storegate/edge-service/internal/upstream"
)

const maxCredentialBytes = 4 * 1024

// authHandler implements the session issuance endpoints under /api/auth/.
// The decision engine never gates these (identity-provider traffic always
// passes), so they do their own method and body checks.
type authHandler struct {
	cfg       *config.Config
	authority *upstream.Client
	sessions  *session.Resolver
}

func (h *authHandler) signin(w http.ResponseWriter, r *http.Request) {
	logger := httputil.GetLogger(r.Context())

	if r.Method != http.MethodPost {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCredentialBytes)
	defer r.Body.Close()

	var req struct {
		Mobile   string `json:"mobile"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_json"})
		return
	}
	if req.Mobile == "" || req.Password == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_fields"})
		return
	}

	login, err := h.authority.Login(r.Context(), req.Mobile, req.Password)
	if err != nil {
		if errors.Is(err, upstream.ErrUnavailable) {
			logger.Error().Err(err).Msg("login failed: authority unavailable")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "authority_unavailable"})
			return
		}
		logger.Info().Msg("login rejected")
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}

	rec := session.NewRecord(login.UserID, req.Mobile, login.FirstName, login.LastName, login.Address, login.Token)
	cookie, err := h.sessions.Issue(rec)
	if err != nil {
		logger.Error().Err(err).Msg("failed to seal session")
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	maxAge := int(h.sessions.Lifetime().Seconds())
	http.SetCookie(w, httputil.BuildSessionCookie(h.cfg, cookie, maxAge))
	metrics.SessionsIssued.Inc()

	logger.Info().Str("user_id", login.UserID).Msg("session issued")
	httputil.WriteJSON(w, http.StatusOK, rec.Profile())
}

func (h *authHandler) signout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}

	// Invalidate upstream best-effort; the local cookie is gone either way.
	if token := h.sessions.AccessTokenFromRequest(r); token != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.UpstreamTimeout())
			defer cancel()
			h.authority.Logout(ctx, token)
		}()
	}

	http.SetCookie(w, httputil.BuildSessionCookie(h.cfg, "", -1))
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"signedOut": true})
}

func (h *authHandler) session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}

	rec, freshCookie, _ := h.sessions.Resolve(r.Context(), r)
	if rec == nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "no_session"})
		return
	}
	if freshCookie != "" {
		maxAge := int(h.sessions.Lifetime().Seconds())
		http.SetCookie(w, httputil.BuildSessionCookie(h.cfg, freshCookie, maxAge))
	}
	httputil.WriteJSON(w, http.StatusOK, rec.Profile())
}
