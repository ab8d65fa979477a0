package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/blogguer/internal/middleware"
	"github.com/hitoshi/blogguer/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	UpdateProfile(ctx context.Context, principal *model.Principal, changes model.ProfileChanges) (*model.User, string, error)
}

// ProfileHandler はプロフィール更新のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// updateProfileRequest は省略されたフィールドを変更しない。
type updateProfileRequest struct {
	Username *string `json:"username"`
	Avatar   *string `json:"avatar"`
	Bio      *string `json:"bio"`
}

// UpdateProfile はログイン中ユーザーのプロフィールを更新し、新しいトークンを返す。
// PUT /api/auth/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.ErrUnauthorized)
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	user, token, err := h.service.UpdateProfile(r.Context(), principal, model.ProfileChanges{
		Username: req.Username,
		Avatar:   req.Avatar,
		Bio:      req.Bio,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user.Summary()})
}
