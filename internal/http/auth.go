package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"finvue/internal/auth"
	"finvue/internal/log"
	"finvue/internal/storage"
)

type claimsKey struct{}

func withClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func claimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return c, ok
}

// userID returns the authenticated user. Only valid behind requireAuth.
func userID(r *http.Request) string {
	c, _ := claimsFromContext(r.Context())
	return c.Subject
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth rejects requests without a valid access token and adds the
// user to the request logger.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeAuthError(w, r, auth.ErrInvalidToken)
			return
		}
		claims, err := s.deps.Auth.Authenticate(token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}

		logger := log.FromContext(r.Context()).With(log.FieldUserID, claims.Subject)
		ctx := withClaims(r.Context(), claims)
		ctx = log.NewContext(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	user, err := s.deps.Auth.Register(r.Context(), sanitizeInput(req.Email), req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginResponse struct {
	Token auth.Token   `json:"token"`
	User  storage.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	token, user, err := s.deps.Auth.Login(r.Context(), sanitizeInput(req.Email), req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeAuthError(w, r, auth.ErrInvalidToken)
		return
	}
	if err := s.deps.Auth.Confirm(r.Context(), token); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"confirmed": true})
}

// handleLogout revokes the token and flushes the user's open session. A
// session that cannot be saved stays open with its edits for other devices.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	s.deps.Auth.Logout(claims)

	if err := s.deps.Sessions.Close(r.Context(), claims.Subject); err != nil {
		msg := "Session flush on logout failed"
		if errors.Is(err, storage.ErrSetupRequired) {
			msg = "Session flush on logout skipped, storage setup required"
		}
		log.FromContext(r.Context()).WarnContext(r.Context(), msg, log.FieldError, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Auth.Profile(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAuthError(w, r, auth.ErrInvalidToken)
			return
		}
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	id := userID(r)
	if err := s.deps.Auth.UpdateDisplayName(r.Context(), id, sanitizeInput(req.DisplayName)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	s.handleGetProfile(w, r)
}

type passwordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	if err := s.deps.Auth.ChangePassword(r.Context(), userID(r), req.Password, req.ConfirmPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
