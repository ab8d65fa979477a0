package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogguer/internal/middleware"
	"github.com/hitoshi/blogguer/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディとして受け付ける上限。
const maxRequestBodyBytes = 64 << 10

// errInvalidRequestBody はリクエストボディが解析できない場合のエラー。
var errInvalidRequestBody = &model.APIError{
	Code:     model.ErrCodeValidation,
	Message:  "リクエストボディの解析に失敗しました。",
	Category: "validation",
	Action:   "正しいJSON形式でリクエストしてください。",
}

// decodeJSON はリクエストボディをdstにデコードする。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errInvalidRequestBody.WithCause(errors.New("empty body"))
		}
		return errInvalidRequestBody.WithCause(err)
	}
	return nil
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを統一フォーマットで返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}
