// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogguer/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに Principal を格納するためのキー。
var principalContextKey = contextKey("principal")

// Authenticator は Authorization ヘッダーを Principal に解決する。
// auth.Gate が実装する。
type Authenticator interface {
	Authenticate(header string) (*model.Principal, error)
}

// NewAuthMiddleware は Authorization: Bearer ヘッダーを検証し、
// 認証済みの Principal をリクエストコンテキストに注入するミドルウェアを返す。
// 失敗理由はログにのみ記録し、レスポンスは一律 401 UNAUTHORIZED とする。
func NewAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authenticator.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				slog.Warn("authentication failed",
					slog.String("error_code", causeCode(err)),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.ErrUnauthorized)
				return
			}

			setRequestSubject(r.Context(), principal.Email)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから Principal を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || p == nil || p.Email == "" {
		return nil, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストに Principal を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// causeCode はUnauthorizedに包まれた原因のエラーコードを返す。
func causeCode(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return "INTERNAL_ERROR"
	}
	if apiErr.Code == model.ErrCodeUnauthorized && apiErr.Err != nil {
		var cause *model.APIError
		if errors.As(apiErr.Err, &cause) {
			return cause.Code
		}
	}
	return apiErr.Code
}
