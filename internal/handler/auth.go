package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/auth"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/service"
)

const oauthStateCookie = "oauth_state"

// AuthHandler serves the account lifecycle: registration, login/logout,
// confirmation, password reset and change, email change, and GitHub
// sign-in.
type AuthHandler struct {
	users      *service.UserService
	github     *auth.GitHubProvider // nil when GitHub sign-in is not configured
	sessionTTL time.Duration
	logger     *slog.Logger
}

func NewAuthHandler(
	users *service.UserService,
	github *auth.GitHubProvider,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:      users,
		github:     github,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token too, for clients that send it
// as a Bearer header instead of relying on the cookie.
type LoginResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// EmailRequest is the body of POST /auth/reset.
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetRequest is the body of POST /auth/reset/{token}.
type ResetRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the body of POST /auth/change-password.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangeEmailRequest is the body of POST /auth/change-email.
type ChangeEmailRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an account and mails a confirmation link.
//
// HTTP: POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.users.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// HandleLogin checks credentials and sets the session cookie.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setSession(w, res.Token)
	writeJSON(w, http.StatusOK, LoginResponse{User: res.User, Token: res.Token})
}

// HandleLogout deletes the session cookie. The token itself stays valid
// until it expires; without the cookie the browser just stops sending it.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeMessage(w, http.StatusOK, "logged out")
}

// HandleConfirm applies a confirmation token to the logged-in account.
//
// HTTP: GET /auth/confirm/{token}
// Auth: Required
func (h *AuthHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.users.Confirm(r.Context(), p.UserID(), chi.URLParam(r, "token")); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "You have confirmed your account. Thanks!")
}

// HandleResendConfirmation mails a new confirmation link.
//
// HTTP: POST /auth/confirm
// Auth: Required
func (h *AuthHandler) HandleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.users.ResendConfirmation(r.Context(), p.UserID()); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusAccepted, "A new confirmation email has been sent to you by email.")
}

// HandleRequestReset mails a password reset token. The answer is the same
// whether or not the address is registered.
//
// HTTP: POST /auth/reset
func (h *AuthHandler) HandleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusAccepted,
		"An email with instructions to reset your password has been sent to you.")
}

// HandleReset sets a new password using a reset token.
//
// HTTP: POST /auth/reset/{token}
func (h *AuthHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.ResetPassword(r.Context(), req.Email, chi.URLParam(r, "token"), req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Your password has been updated.")
}

// HandleChangePassword replaces the password of the logged-in user.
//
// HTTP: POST /auth/change-password
// Auth: Required
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.ChangePassword(r.Context(), p.UserID(), req.OldPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Your password has been updated.")
}

// HandleRequestEmailChange mails a change-email token to the new address.
//
// HTTP: POST /auth/change-email
// Auth: Required
func (h *AuthHandler) HandleRequestEmailChange(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req ChangeEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.users.RequestEmailChange(r.Context(), p.UserID(), req.Email, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusAccepted,
		"An email with instructions to confirm your new email address has been sent to you.")
}

// HandleChangeEmail applies a change-email token.
//
// HTTP: GET /auth/change-email/{token}
// Auth: Required
func (h *AuthHandler) HandleChangeEmail(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	u, err := h.users.ChangeEmail(r.Context(), p.UserID(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
// A random state goes into a short-lived cookie and is checked on the
// callback (CSRF).
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("sign-in provider", "github"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow:
//
//  1. check the state against the cookie
//  2. exchange the code for a GitHub identity
//  3. sign in, linking or creating the local account
//  4. set the session cookie and redirect home
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("sign-in provider", "github"))
		return
	}

	q := r.URL.Query()
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ident, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	res, err := h.users.SignInWithGitHub(r.Context(), ident)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("user authenticated via github",
		slog.String("userID", res.User.ID),
		slog.String("login", ident.Login),
	)
	h.setSession(w, res.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// setSession stores the session token in an HttpOnly cookie. Secure should
// be set when serving over HTTPS.
func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
