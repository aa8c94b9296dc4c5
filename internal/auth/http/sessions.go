package http

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/pkg/authsdk"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// SessionHandler serves login, refresh, logout and userinfo.
type SessionHandler struct {
	Sessions   *service.SessionManager
	LoginToken string
}

// HandleLogin handles POST /v1/sessions
//
//	@Summary		Start a session
//	@Description	Issues a token pair for a subject whose credentials were already validated by the calling service.
//	@Description	Only callers holding the deployment login token may call it.
//	@Tags			Sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"Subject and custom claims"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Missing or wrong login token"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Too Many Requests"
//	@Failure		503		{object}	authsdk.ErrorResponse	"No active signing key or store unavailable"
//	@Header			200		{string}	Cache-Control			"no-store"
//	@Security		BearerAuth
//	@Router			/v1/sessions [post]
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	presented, ok := httpx.BearerToken(r)
	if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(h.LoginToken)) != 1 {
		slogx.FromContext(r.Context()).Warn("login_token_rejected")
		httpx.WriteBearerError(w)
		return
	}

	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.Subject == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.Sessions.Login(r.Context(), service.Credentials{
		Subject: req.Subject,
		Custom:  req.Claims,
	})
	if errors.Is(err, jwtx.ErrInvalidClaims) {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleRefresh handles POST /v1/token/refresh
//
//	@Summary		Rotate a refresh token
//	@Description	Consumes a refresh token and issues the next pair in the same session.
//	@Description	Presenting a refresh token a second time revokes the whole session.
//	@Tags			Sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Too Many Requests"
//	@Header			200		{string}	Cache-Control			"no-store"
//	@Router			/v1/token/refresh [post]
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.Sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleLogout handles POST /v1/logout
//
//	@Summary		End a session
//	@Description	Revokes every refresh token of the session the presented refresh token belongs to.
//	@Tags			Sessions
//	@Accept			json
//	@Param			body	body	authsdk.RefreshRequest	true	"Refresh token"
//	@Success		204
//	@Failure		400	{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401	{object}	authsdk.ErrorResponse	"invalid_token"
//	@Router			/v1/logout [post]
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleUserInfo handles GET /v1/userinfo
//
//	@Summary		Get token claims
//	@Description	Returns the verified claims of the presented access token.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.UserInfoResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/userinfo [get]
func (h *SessionHandler) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpx.ClaimsFromContext(r.Context())
	if !ok {
		httpx.WriteBearerError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.UserInfoResponse{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		Audience:  claims.Audience,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
		Claims:    claims.Custom,
	})
}

func tokenResponse(p domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		ExpiresIn:        p.ExpiresIn,
		RefreshExpiresIn: p.RefreshExpiresIn,
		SessionID:        p.SessionID,
	}
}

// writeServiceError collapses every token failure into the same 401 and
// keeps infrastructure detail in the logs.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		httpx.WriteBearerError(w)
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, jwtx.ErrNoActiveKey):
		log.Error("dependency_unavailable", "error", err)
		authsdk.ErrUnavailable.WriteError(w)
	default:
		log.Error("request_failed", "error", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
