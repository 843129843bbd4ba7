package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/auth"
	"github.com/sakif/todo-api/internal/model"
	"github.com/sakif/todo-api/internal/service"
)

// AuthService is the subset of *service.AuthService the handlers call.
// Declaring it here keeps handler tests free of bcrypt and a database.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	RequestReset(ctx context.Context, email string) error
	CompleteReset(ctx context.Context, email, otp, newPassword string) error
	Me(ctx context.Context, userID string) (*model.User, error)
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	// Secure should be true behind HTTPS. Local HTTP development needs false.
	Secure bool
	// TTL becomes the cookie Max-Age; keep it equal to the token lifetime.
	TTL time.Duration
}

// AuthHandler manages registration, login/logout and the password reset flow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister       → create an account
//   - HandleLogin          → verify credentials, set the session cookie
//   - HandleLogout         → clear the session cookie
//   - HandleForgotPassword → mail a reset code
//   - HandleResetPassword  → redeem the code, set a new password
//   - HandleMe             → return the logged-in user's profile
type AuthHandler struct {
	svc    AuthService
	cookie CookieConfig
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(svc AuthService, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	if cookie.TTL <= 0 {
		cookie.TTL = auth.DefaultSessionTTL
	}
	return &AuthHandler{svc: svc, cookie: cookie, logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message  string `json:"message"`
	UserName string `json:"userName"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string  `json:"email"`
	OTP         flexOTP `json:"otp"`
	NewPassword string  `json:"newPassword"`
}

type meResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// flexOTP accepts the reset code as a JSON string ("4821") or number (4821).
// Numeric form fields often arrive as numbers.
type flexOTP string

func (o *flexOTP) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*o = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = flexOTP(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*o = flexOTP(n.String())
	return nil
}

// HandleRegister creates an account.
//
// HTTP: POST /api/v1/auth/register
// REQUEST BODY: {"username":"alice","email":"a@x.com","password":"pw123456"}
// 201 {"message":"User registered successfully"}; 400 if the email is taken.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if _, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "User registered successfully"})
}

// HandleLogin verifies credentials and sets the session cookie.
//
// HTTP: POST /api/v1/auth/login
// REQUEST BODY: {"email":"a@x.com","password":"pw123456"}
//
// The JWT goes in an HttpOnly cookie:
//   - HttpOnly: JavaScript cannot read it (XSS protection)
//   - SameSite=Strict: never sent on cross-site requests (CSRF protection)
//   - Secure: HTTPS only, unless disabled for local development
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Token,
		Path:     "/",
		MaxAge:   int(h.cookie.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Message:  "Login successful",
		UserName: res.User.Username,
	})
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/v1/auth/logout (session required)
//
// Since we're stateless (JWT), "logout" just means deleting the client-side
// cookie. The token itself stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logout successful"})
}

// HandleForgotPassword mails a reset code.
//
// HTTP: POST /api/v1/auth/forgot-password
// REQUEST BODY: {"email":"a@x.com"}
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.svc.RequestReset(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "OTP sent to email"})
}

// HandleResetPassword redeems a reset code.
//
// HTTP: POST /api/v1/auth/reset-password
// REQUEST BODY: {"email":"a@x.com","otp":"4821","newPassword":"..."}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.svc.CompleteReset(r.Context(), req.Email, string(req.OTP), req.NewPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successful"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/v1/auth/me (session required)
//
// The frontend calls this on load to find out whether the cookie is still good.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Unauthorized: No token provided"))
		return
	}

	user, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}
