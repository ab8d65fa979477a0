// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/blogguer/internal/auth"
	"github.com/hitoshi/blogguer/internal/middleware"
	"github.com/hitoshi/blogguer/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	LoginFederated(ctx context.Context, idToken, role string) (*auth.AuthResult, error)
	CurrentIdentity(ctx context.Context, principal *model.Principal) (*model.User, error)
	CheckAvailability(ctx context.Context, username, email string) (*auth.Availability, error)
}

// AuthHandler は登録・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type registerRequest struct {
	Username        string  `json:"username"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword *string `json:"confirmPassword"`
	Role            string  `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	IDToken string `json:"idToken"`
	Role    string `json:"role"`
}

// authResponse は認証成功時のレスポンス。
type authResponse struct {
	Token string            `json:"token"`
	User  model.UserSummary `json:"user"`
}

type availabilityResponse struct {
	UsernameAvailable *bool `json:"usernameAvailable,omitempty"`
	EmailAvailable    *bool `json:"emailAvailable,omitempty"`
}

func toAuthResponse(result *auth.AuthResult) authResponse {
	return authResponse{Token: result.Token, User: result.User.Summary()}
}

// Register はローカル認証のユーザー登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Role:            req.Role,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthResponse(result))
}

// Login はメールアドレスとパスワードによるログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// Google はGoogleのIDトークンによるログインを処理する。初回は自動でユーザーを作成する。
// POST /api/auth/google
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.IDToken == "" {
		handleServiceError(w, r, model.NewValidationError("idToken is required"))
		return
	}

	result, err := h.service.LoginFederated(r.Context(), req.IDToken, req.Role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// Availability はユーザー名とメールアドレスの空き状況を返す。
// GET /api/auth/availability?username=xxx&email=yyy
func (h *AuthHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username, email := q.Get("username"), q.Get("email")
	if username == "" && email == "" {
		handleServiceError(w, r, model.NewValidationError("username or email is required"))
		return
	}

	result, err := h.service.CheckAvailability(r.Context(), username, email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		UsernameAvailable: result.UsernameAvailable,
		EmailAvailable:    result.EmailAvailable,
	})
}

// Me はログイン中ユーザーのプロフィールを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.ErrUnauthorized)
		return
	}

	user, err := h.service.CurrentIdentity(r.Context(), principal)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.Profile())
}
