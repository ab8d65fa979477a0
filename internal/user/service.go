// Package user はログイン中ユーザー自身のプロフィール更新を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/blogguer/internal/auth"
	"github.com/hitoshi/blogguer/internal/model"
	"github.com/hitoshi/blogguer/internal/repository"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
)

// URLValidator はアバターURLを保存してよいか判定する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// BioSanitizer は自己紹介文をプレーンテキストに整える。
type BioSanitizer interface {
	Sanitize(raw string) (string, error)
}

// TokenIssuer は更新後のユーザーからトークンを再発行する。
type TokenIssuer interface {
	Issue(user *model.User) (string, error)
}

// Config はServiceの設定値。
type Config struct {
	// AvatarBaseURL はアバター未設定時に使う頭文字アバターのベースURL。
	AvatarBaseURL string
}

// Service はプロフィール更新のサービス層。
type Service struct {
	users  repository.UserRepository
	urls   URLValidator
	bios   BioSanitizer
	tokens TokenIssuer
	logger *slog.Logger
	cfg    Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	urls URLValidator,
	bios BioSanitizer,
	tokens TokenIssuer,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:  users,
		urls:   urls,
		bios:   bios,
		tokens: tokens,
		logger: logger,
		cfg:    cfg,
	}
}

// UpdateProfile は Principal 本人のプロフィールを更新し、新しいトークンを返す。
//
// 対象はトークンのSubject（メールアドレス）で決まり、クライアントが指定したIDは使わない。
// nilのフィールドは変更しない。メールアドレスはこの経路では変更できない。
// 更新後のアバターが空になる場合は、更新後のユーザー名から既定のアバターを設定する。
// ユーザー名の衝突はコミット時に検出し model.ErrUsernameTaken を返す。
func (s *Service) UpdateProfile(ctx context.Context, principal *model.Principal, changes model.ProfileChanges) (*model.User, string, error) {
	if principal == nil || principal.Email == "" {
		return nil, "", model.ErrUnauthorized
	}

	// 入力の検証と整形はロックの外で済ませる
	patch, err := s.prepare(changes)
	if err != nil {
		return nil, "", err
	}

	updated, err := s.users.ModifyByEmail(ctx, principal.Email, func(u *model.User) error {
		patch.apply(u)
		if u.Avatar == "" {
			u.Avatar = auth.DefaultAvatarURL(s.cfg.AvatarBaseURL, u.Username)
		}
		return nil
	})
	switch {
	case errors.Is(err, model.ErrDuplicateUsername):
		return nil, "", model.ErrUsernameTaken
	case err != nil:
		return nil, "", err
	}

	token, err := s.tokens.Issue(updated)
	if err != nil {
		return nil, "", fmt.Errorf("failed to reissue token: %w", err)
	}

	s.logger.Info("profile updated",
		slog.String("user_id", updated.ID),
		slog.Bool("username_changed", patch.username != nil),
		slog.Bool("avatar_changed", patch.avatar != nil),
		slog.Bool("bio_changed", patch.bio != nil),
	)

	return updated, token, nil
}

// profilePatch は検証済みの変更内容。
type profilePatch struct {
	username *string
	avatar   *string
	bio      *string
}

func (p profilePatch) apply(u *model.User) {
	if p.username != nil {
		u.Username = *p.username
	}
	if p.avatar != nil {
		u.Avatar = *p.avatar
	}
	if p.bio != nil {
		u.Bio = *p.bio
	}
}

func (s *Service) prepare(changes model.ProfileChanges) (profilePatch, error) {
	var p profilePatch

	// 空白のみのユーザー名は未指定として扱う
	if changes.Username != nil {
		if name := strings.TrimSpace(*changes.Username); name != "" {
			if n := utf8.RuneCountInString(name); n < minUsernameLength || n > maxUsernameLength {
				return p, model.NewValidationError(fmt.Sprintf("username must be %d-%d characters", minUsernameLength, maxUsernameLength))
			}
			p.username = &name
		}
	}

	if changes.Avatar != nil {
		avatar := strings.TrimSpace(*changes.Avatar)
		if avatar != "" {
			if err := s.urls.ValidateURL(avatar); err != nil {
				return p, err
			}
		}
		p.avatar = &avatar
	}

	if changes.Bio != nil {
		bio, err := s.bios.Sanitize(*changes.Bio)
		if err != nil {
			return p, err
		}
		p.bio = &bio
	}

	return p, nil
}
