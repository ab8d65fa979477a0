package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// minJWTSecretLen はHS256の署名鍵として受け付ける最小バイト長。
const minJWTSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Token
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	// Federated login
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleTokenInfoURL string        `env:"GOOGLE_TOKENINFO_URL" envDefault:"https://oauth2.googleapis.com/tokeninfo"`
	FederatedTimeout   time.Duration `env:"FEDERATED_TIMEOUT" envDefault:"5s"`

	// Credentials
	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// Identity cache（REDIS_URL が空なら無効）
	RedisURL         string        `env:"REDIS_URL"`
	IdentityCacheTTL time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"5m"`

	// Profile
	AvatarBaseURL string `env:"AVATAR_BASE_URL" envDefault:"https://ui-avatars.com/api/"`

	// Rate Limit
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitProfile int `env:"RATE_LIMIT_PROFILE" envDefault:"10"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:4200"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("invalid configuration: JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("invalid configuration: TOKEN_TTL must be positive")
	}

	return cfg, nil
}

// CacheEnabled はアイデンティティキャッシュが有効かどうかを返す。
func (c *Config) CacheEnabled() bool {
	return c.RedisURL != ""
}
