package server

import (
	"net/http"
	"strings"

	"encoding/json"
)

// adminAuthMiddleware protects /admin/* endpoints. If no admin_token is
// configured, all admin requests are rejected with 403. If configured,
// requests must provide a matching Authorization: Bearer <token> header.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.config.AdminToken == "" {
				httpResponse(w, "admin token not configured", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token != s.config.AdminToken {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type createSessionRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

type createSessionResponse struct {
	Token string `json:"token"`
}

// createSession handles POST /admin/sessions: mints a bearer token bound to
// a workspace, handed out to whatever issues editor sessions (an auth
// gateway, a CLI, a test harness).
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.minter == nil {
		httpResponse(w, "session minting not configured", http.StatusNotImplemented)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkspaceID == "" {
		httpResponse(w, "workspace_id is required", http.StatusBadRequest)
		return
	}

	token, err := s.minter.Mint(r.Context(), req.WorkspaceID)
	if err != nil {
		s.logger.Error("mint session", "workspace_id", req.WorkspaceID, "error", err)
		httpResponse(w, "failed to mint session", http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, createSessionResponse{Token: token.FullString()}, http.StatusOK)
}
