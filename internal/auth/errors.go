package auth

import (
	"errors"

	"github.com/hitoshi/blogguer/internal/model"
)

// errorCode はログとメトリクス用にエラーコードを取り出す。
func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "INTERNAL_ERROR"
}
