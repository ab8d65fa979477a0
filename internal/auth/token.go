package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/blogguer/internal/model"
)

// Claims はセッショントークンのペイロード。Subject はメールアドレス。
type Claims struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService はHS256で署名したステートレスなセッショントークンを発行・検証する。
// トークンは保存しないため、発行後のプロフィール変更は再発行するまで反映されない。
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// TokenOption はTokenServiceの設定を変更する。
type TokenOption func(*TokenService)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(secret string, ttl time.Duration, opts ...TokenOption) *TokenService {
	s := &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)

	return s
}

// TTL はトークンの有効期間を返す。
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue はユーザーのスナップショットからトークンを発行する。
func (s *TokenService) Issue(user *model.User) (string, error) {
	now := s.now()
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate は署名と有効期限を検証し、クレームを返す。
//
// 失敗時は model.ErrTokenMalformed / model.ErrTokenInvalidSignature / model.ErrTokenExpired のいずれか。
// 署名検証は有効期限の判定より先に行われるため、改ざんされた期限切れトークンは署名エラーになる。
func (s *TokenService) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, s.classify(token, err)
	}

	if claims.Subject == "" {
		return nil, model.ErrTokenMalformed.WithCause(errors.New("token has no subject"))
	}
	claims.Role = model.ParseRole(string(claims.Role))

	return claims, nil
}

// ExtractSubject は検証済みトークンのSubject（メールアドレス）を返す。
func (s *TokenService) ExtractSubject(token string) (string, error) {
	claims, err := s.Validate(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *TokenService) classify(token string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return model.ErrTokenInvalidSignature.WithCause(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return model.ErrTokenExpired.WithCause(err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		// ヘッダーとペイロードが読めるなら、壊れているのは署名セグメント
		if _, _, perr := s.parser.ParseUnverified(token, &Claims{}); perr == nil {
			return model.ErrTokenInvalidSignature.WithCause(err)
		}
		return model.ErrTokenMalformed.WithCause(err)
	default:
		return model.ErrTokenMalformed.WithCause(err)
	}
}
