// Package security はパスワード検証・外部URLの安全性確認・入力のサニタイズを提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/blogguer/internal/model"
)

// maxURLLength はプロフィールに保存できるURLの最大長。
const maxURLLength = 2048

// allowedSchemes は許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はアバターURLとして受け付けないネットワーク範囲。
// safeurlのクライアントはDNS解決後のIPも検証するが、保存するURLは
// ブラウザが取得するため、静的に判定できる範囲だけを事前に拒否する。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// URLGuard は外部URLへのアクセスと保存を検査する。
type URLGuard struct{}

// NewURLGuard はURLGuardを生成する。
func NewURLGuard() *URLGuard {
	return &URLGuard{}
}

// NewSafeClient はプライベートIP・ループバック・メタデータIPへの接続を
// Dialerレベルで拒否するHTTPクライアントを生成する。
// 外部IdPのトークン検証エンドポイント呼び出しに使用する。
func (g *URLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はプロフィールに保存するURL（アバター等）を静的に検証する。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return model.NewInvalidURLError("empty URL")
	}
	if len(rawURL) > maxURLLength {
		return model.NewInvalidURLError(fmt.Sprintf("URL must be at most %d characters", maxURLLength))
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.NewInvalidURLError("malformed URL")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return model.NewInvalidURLError(fmt.Sprintf("disallowed scheme: %q", scheme))
	}

	host := parsed.Hostname()
	if host == "" {
		return model.NewInvalidURLError("missing host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return model.NewInvalidURLError(fmt.Sprintf("blocked IP address: %s", ip))
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return model.NewInvalidURLError(fmt.Sprintf("blocked host: %s", host))
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
