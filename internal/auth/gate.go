package auth

import (
	"strings"

	"github.com/hitoshi/blogguer/internal/metrics"
	"github.com/hitoshi/blogguer/internal/model"
)

// bearerPrefix は Authorization ヘッダーに要求するスキーム。大文字小文字を区別する。
const bearerPrefix = "Bearer "

// TokenValidator はセッショントークンを検証する。
type TokenValidator interface {
	Validate(token string) (*Claims, error)
}

// Gate はリクエストの Authorization ヘッダーを Principal に解決する。
type Gate struct {
	tokens  TokenValidator
	metrics metrics.MetricsCollector
}

// NewGate はGateを生成する。mcがnilの場合はメトリクスを記録しない。
func NewGate(tokens TokenValidator, mc metrics.MetricsCollector) *Gate {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Gate{tokens: tokens, metrics: mc}
}

// Authenticate はヘッダー値を検証して Principal を返す。
//
// ヘッダーが空、または "Bearer " で始まらない場合は model.ErrTokenMissing。
// トークンの検証に失敗した場合は原因を保持した model.ErrUnauthorized を返す。
func (g *Gate) Authenticate(header string) (*model.Principal, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		g.metrics.RecordTokenValidation(model.ErrCodeTokenMissing)
		return nil, model.ErrTokenMissing
	}

	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		g.metrics.RecordTokenValidation(model.ErrCodeTokenMissing)
		return nil, model.ErrTokenMissing
	}

	claims, err := g.tokens.Validate(token)
	if err != nil {
		g.metrics.RecordTokenValidation(errorCode(err))
		return nil, model.NewUnauthorizedError(err)
	}

	g.metrics.RecordTokenValidation("valid")
	return &model.Principal{
		Email:    claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
		TokenID:  claims.ID,
	}, nil
}
