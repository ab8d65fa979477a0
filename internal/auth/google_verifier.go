package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/blogguer/internal/metrics"
	"github.com/hitoshi/blogguer/internal/model"
)

const (
	defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	defaultFederatedTimeout   = 5 * time.Second

	// maxTokenInfoBytes はtokeninfoレスポンスとして読み込む上限。
	maxTokenInfoBytes = 1 << 20
)

// FederatedClaims は外部IdPが検証済みとして返したクレーム。
type FederatedClaims struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
}

// FederatedVerifier は外部IdPのトークンを検証する。
type FederatedVerifier interface {
	Introspect(ctx context.Context, idToken string) (*FederatedClaims, error)
}

// GoogleVerifierConfig はGoogleトークン検証の設定。
type GoogleVerifierConfig struct {
	ClientID string
	Timeout  time.Duration

	// テスト用にオーバーライド可能なURL
	TokenInfoURL string
}

// GoogleTokenVerifier はGoogleのtokeninfoエンドポイントでIDトークンを検証する。
//
// 署名・発行者・有効期限の検証はGoogle側に委ね、ローカルでは audience が
// 自システムのクライアントIDと一致することのみを確認する。
type GoogleTokenVerifier struct {
	config  GoogleVerifierConfig
	client  *http.Client
	metrics metrics.MetricsCollector
}

// NewGoogleTokenVerifier はGoogleTokenVerifierを生成する。
// clientにはSSRF対策済みのクライアントを渡すこと。nilの場合は http.DefaultClient を使う。
func NewGoogleTokenVerifier(config GoogleVerifierConfig, client *http.Client, mc metrics.MetricsCollector) *GoogleTokenVerifier {
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultFederatedTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &GoogleTokenVerifier{config: config, client: client, metrics: mc}
}

// googleTokenInfo はtokeninfoエンドポイントのレスポンス。値はすべて文字列で返る。
type googleTokenInfo struct {
	Aud     string `json:"aud"`
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Introspect はIDトークンを検証し、クレームを返す。
// 通信失敗・タイムアウト・audience不一致を含む全ての失敗は model.ErrFederatedTokenInvalid になる。
func (v *GoogleTokenVerifier) Introspect(ctx context.Context, idToken string) (*FederatedClaims, error) {
	if idToken == "" {
		return nil, model.ErrFederatedTokenInvalid.WithCause(errors.New("empty id token"))
	}

	start := time.Now()
	info, err := v.fetchTokenInfo(ctx, idToken)
	v.metrics.RecordIntrospectionLatency(time.Since(start))
	if err != nil {
		return nil, model.ErrFederatedTokenInvalid.WithCause(err)
	}

	if info.Aud != v.config.ClientID {
		return nil, model.ErrFederatedTokenInvalid.WithCause(fmt.Errorf("audience mismatch: %q", info.Aud))
	}
	if info.Sub == "" || info.Email == "" {
		return nil, model.ErrFederatedTokenInvalid.WithCause(errors.New("tokeninfo response lacks sub or email"))
	}

	return &FederatedClaims{
		Provider: model.ProviderGoogle,
		Subject:  info.Sub,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
	}, nil
}

func (v *GoogleTokenVerifier) fetchTokenInfo(ctx context.Context, idToken string) (*googleTokenInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()

	endpoint := v.config.TokenInfoURL + "?" + url.Values{"id_token": {idToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokeninfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read tokeninfo response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokeninfo returned status %d", resp.StatusCode)
	}

	var info googleTokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse tokeninfo response: %w", err)
	}

	return &info, nil
}

// compile-time interface check
var _ FederatedVerifier = (*GoogleTokenVerifier)(nil)
