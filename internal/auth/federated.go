package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/hitoshi/blogguer/internal/model"
	"github.com/hitoshi/blogguer/internal/repository"
)

const (
	maxUsernameLength = 50

	// maxUsernameAttempts はユーザー名衝突時の再試行回数（初回を含む）。
	maxUsernameAttempts = 3
)

// URLValidator は外部から受け取ったURLを保存してよいか判定する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// FederatedResolver は外部IdPのトークンをローカルのユーザーに解決する。
// 既存ユーザーとの紐付け（リンク）は行わず、作成するかメールアドレスで照合するかのどちらか。
type FederatedResolver struct {
	verifier      FederatedVerifier
	users         repository.UserRepository
	urls          URLValidator
	avatarBaseURL string
	logger        *slog.Logger
}

// NewFederatedResolver はFederatedResolverを生成する。
func NewFederatedResolver(
	verifier FederatedVerifier,
	users repository.UserRepository,
	urls URLValidator,
	avatarBaseURL string,
	logger *slog.Logger,
) *FederatedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FederatedResolver{
		verifier:      verifier,
		users:         users,
		urls:          urls,
		avatarBaseURL: avatarBaseURL,
		logger:        logger,
	}
}

// Resolve はIDトークンを検証し、対応するユーザーを返す。存在しなければ作成する。
//
// 照合の順序は (provider, subject)、メールアドレスの順。
// 同じメールアドレスで並行に初回ログインした場合も、作成されるユーザーは1件だけになる。
func (r *FederatedResolver) Resolve(ctx context.Context, idToken, requestedRole string) (*model.User, error) {
	claims, err := r.verifier.Introspect(ctx, idToken)
	if err != nil {
		return nil, err
	}

	user, err := r.users.FindByProvider(ctx, claims.Provider, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, model.ErrIdentityNotFound) {
		return nil, err
	}

	user, err = r.users.FindByEmail(ctx, claims.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, model.ErrIdentityNotFound) {
		return nil, err
	}

	return r.create(ctx, claims, model.ParseRole(requestedRole))
}

func (r *FederatedResolver) create(ctx context.Context, claims *FederatedClaims, role model.Role) (*model.User, error) {
	base := usernameFromEmail(claims.Email)

	var lastErr error
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			username = fallbackUsername(base)
		}

		user := &model.User{
			ID:         uuid.NewString(),
			Email:      claims.Email,
			Username:   username,
			Role:       role,
			Provider:   claims.Provider,
			ProviderID: claims.Subject,
			Avatar:     r.avatarFor(claims.Picture, username),
			Enabled:    true,
		}

		err := r.users.Create(ctx, user)
		switch {
		case err == nil:
			r.logger.Info("federated user created",
				slog.String("user_id", user.ID),
				slog.String("provider", user.Provider),
			)
			return user, nil

		case errors.Is(err, model.ErrDuplicateEmail):
			// 並行する初回ログインが先に作成した
			return r.findExisting(ctx, claims, err)

		case errors.Is(err, model.ErrDuplicateUsername):
			lastErr = err
			continue

		default:
			return nil, err
		}
	}

	return nil, lastErr
}

func (r *FederatedResolver) findExisting(ctx context.Context, claims *FederatedClaims, createErr error) (*model.User, error) {
	if user, err := r.users.FindByEmail(ctx, claims.Email); err == nil {
		return user, nil
	}
	if user, err := r.users.FindByProvider(ctx, claims.Provider, claims.Subject); err == nil {
		return user, nil
	}
	return nil, createErr
}

func (r *FederatedResolver) avatarFor(picture, username string) string {
	if picture != "" && r.urls.ValidateURL(picture) == nil {
		return picture
	}
	return DefaultAvatarURL(r.avatarBaseURL, username)
}

// usernameFromEmail はメールアドレスのローカル部をユーザー名にする。
func usernameFromEmail(email string) string {
	local := email
	if i := strings.LastIndex(email, "@"); i >= 0 {
		local = email[:i]
	}
	if local == "" {
		local = "user"
	}
	return truncate(local, maxUsernameLength)
}

// fallbackUsername はローカル部をスラッグ化し、ランダムな接尾辞を付ける。
func fallbackUsername(base string) string {
	s := slug.Make(base)
	if s == "" {
		s = "user"
	}

	b := make([]byte, 2)
	_, _ = rand.Read(b)
	suffix := "-" + hex.EncodeToString(b)

	return truncate(s, maxUsernameLength-len(suffix)) + suffix
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
