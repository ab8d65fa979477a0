package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogguer/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeValidation, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials,
		model.ErrCodeFederatedTokenInvalid,
		model.ErrCodeTokenMissing,
		model.ErrCodeTokenMalformed,
		model.ErrCodeTokenInvalidSignature,
		model.ErrCodeTokenExpired,
		model.ErrCodeUnauthorized,
		model.ErrCodeIdentityNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeAccountDisabled:
		return http.StatusForbidden
	case model.ErrCodeDuplicateEmail, model.ErrCodeDuplicateUsername, model.ErrCodeUsernameTaken:
		return http.StatusConflict
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はエラーを統一フォーマットで書き込む。
//
// トークン関連と IDENTITY_NOT_FOUND は UNAUTHORIZED として返し、詳細なコードはログにのみ残す。
// APIError以外のエラーは500として扱う。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}

	status := StatusForCode(apiErr.Code)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error_code", apiErr.Code),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}

	public := apiErr
	switch apiErr.Code {
	case model.ErrCodeTokenMissing,
		model.ErrCodeTokenMalformed,
		model.ErrCodeTokenInvalidSignature,
		model.ErrCodeTokenExpired,
		model.ErrCodeIdentityNotFound:
		public = model.ErrUnauthorized
	}

	if public != apiErr || apiErr.Err != nil {
		slog.Warn("request rejected",
			slog.String("path", r.URL.Path),
			slog.String("error_code", causeCode(err)),
		)
	}

	WriteErrorResponse(w, status, public)
}
