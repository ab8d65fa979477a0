// Package auth は登録・ログイン・セッショントークン・認可ゲートを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/blogguer/internal/metrics"
	"github.com/hitoshi/blogguer/internal/model"
	"github.com/hitoshi/blogguer/internal/repository"
	"github.com/hitoshi/blogguer/internal/security"
)

const minUsernameLength = 3

// maxEmailLength は users.email カラムの長さに合わせた上限。
const maxEmailLength = 320

// CredentialVerifier はパスワードのハッシュ化と照合を行う。
type CredentialVerifier interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, storedHash string) bool
}

// TokenIssuer はユーザーのスナップショットからトークンを発行する。
type TokenIssuer interface {
	Issue(user *model.User) (string, error)
}

// FederatedIdentityResolver は外部IdPのトークンをユーザーに解決する。
type FederatedIdentityResolver interface {
	Resolve(ctx context.Context, idToken, requestedRole string) (*model.User, error)
}

// RegisterInput は登録リクエストの入力。
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword *string
	Role            string
}

// AuthResult は認証成功時の結果。
type AuthResult struct {
	Token string
	User  *model.User
}

// Availability はユーザー名とメールアドレスの空き状況。参考情報であり予約ではない。
type Availability struct {
	UsernameAvailable *bool
	EmailAvailable    *bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AvatarBaseURL string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	creds     CredentialVerifier
	tokens    TokenIssuer
	federated FederatedIdentityResolver
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	creds CredentialVerifier,
	tokens TokenIssuer,
	federated FederatedIdentityResolver,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:     users,
		creds:     creds,
		tokens:    tokens,
		federated: federated,
		metrics:   mc,
		logger:    logger,
		config:    config,
	}
}

// Register はローカル認証のユーザーを作成し、トークンを発行する。
// 一意性はストアの制約で判定するため、事前の存在確認は行わない。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if err := validateRegistration(username, email, in); err != nil {
		s.metrics.RecordRegistration(errorCode(err))
		return nil, err
	}

	hash, err := s.creds.Hash(in.Password)
	if errors.Is(err, security.ErrPasswordTooLong) {
		return nil, model.NewValidationError("password must be at most 72 bytes")
	}
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         model.ParseRole(in.Role),
		Avatar:       DefaultAvatarURL(s.config.AvatarBaseURL, username),
		Enabled:      true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		s.metrics.RecordRegistration(errorCode(err))
		return nil, err
	}

	s.metrics.RecordRegistration(metrics.OutcomeSuccess)
	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)

	return s.issue(user)
}

// Login はメールアドレスとパスワードで認証する。
//
// 未登録・ローカル認証情報なし・パスワード不一致はすべて model.ErrInvalidCredentials を返し、
// 理由はログにのみ記録する。無効化されたアカウントはパスワードが正しい場合に限り
// model.ErrAccountDisabled を返す。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, model.ErrIdentityNotFound) {
		return nil, s.loginFailed("unknown email", model.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}

	if !user.HasLocalCredential() {
		return nil, s.loginFailed("no local credential", model.ErrInvalidCredentials, slog.String("user_id", user.ID))
	}
	if !s.creds.Verify(password, user.PasswordHash) {
		return nil, s.loginFailed("password mismatch", model.ErrInvalidCredentials, slog.String("user_id", user.ID))
	}
	if !user.Enabled {
		return nil, s.loginFailed("account disabled", model.ErrAccountDisabled, slog.String("user_id", user.ID))
	}

	s.metrics.RecordLogin(metrics.MethodPassword, metrics.OutcomeSuccess)
	return s.issue(user)
}

// LoginFederated は外部IdPのトークンで認証する。初回は自動でユーザーを作成する。
func (s *Service) LoginFederated(ctx context.Context, idToken, role string) (*AuthResult, error) {
	user, err := s.federated.Resolve(ctx, idToken, role)
	if err != nil {
		s.metrics.RecordLogin(metrics.MethodFederated, metrics.OutcomeFailure)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.logger.Warn("federated login failed",
				slog.String("error_code", apiErr.Code),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	if !user.Enabled {
		s.metrics.RecordLogin(metrics.MethodFederated, metrics.OutcomeFailure)
		s.logger.Warn("federated login failed",
			slog.String("error_code", model.ErrCodeAccountDisabled),
			slog.String("user_id", user.ID),
		)
		return nil, model.ErrAccountDisabled
	}

	s.metrics.RecordLogin(metrics.MethodFederated, metrics.OutcomeSuccess)
	return s.issue(user)
}

// CurrentIdentity は Principal に対応するユーザーを返す。
// トークンのSubjectが解決できない場合は Unauthorized として扱う。
func (s *Service) CurrentIdentity(ctx context.Context, principal *model.Principal) (*model.User, error) {
	if principal == nil {
		return nil, model.ErrUnauthorized
	}

	user, err := s.users.FindByEmail(ctx, principal.Email)
	if errors.Is(err, model.ErrIdentityNotFound) {
		return nil, model.NewUnauthorizedError(err)
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

// CheckAvailability はユーザー名とメールアドレスが未使用かどうかを返す。
// 空の引数は判定しない（nilを返す）。
func (s *Service) CheckAvailability(ctx context.Context, username, email string) (*Availability, error) {
	result := &Availability{}

	if username = strings.TrimSpace(username); username != "" {
		exists, err := s.users.ExistsByUsername(ctx, username)
		if err != nil {
			return nil, err
		}
		available := !exists
		result.UsernameAvailable = &available
	}

	if email = strings.TrimSpace(email); email != "" {
		exists, err := s.users.ExistsByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		available := !exists
		result.EmailAvailable = &available
	}

	return result, nil
}

func (s *Service) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *Service) loginFailed(reason string, err *model.APIError, attrs ...slog.Attr) error {
	s.metrics.RecordLogin(metrics.MethodPassword, metrics.OutcomeFailure)

	args := []any{
		slog.String("reason", reason),
		slog.String("error_code", err.Code),
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	s.logger.Warn("login failed", args...)

	return err
}

func validateRegistration(username, email string, in RegisterInput) error {
	switch n := utf8.RuneCountInString(username); {
	case n == 0:
		return model.NewValidationError("username is required")
	case n < minUsernameLength || n > maxUsernameLength:
		return model.NewValidationError(fmt.Sprintf("username must be %d-%d characters", minUsernameLength, maxUsernameLength))
	}

	if email == "" {
		return model.NewValidationError("email is required")
	}
	if utf8.RuneCountInString(email) > maxEmailLength {
		return model.NewValidationError(fmt.Sprintf("email must be at most %d characters", maxEmailLength))
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.NewValidationError("email is not a valid address")
	}

	if in.Password == "" {
		return model.NewValidationError("password is required")
	}
	if in.ConfirmPassword != nil && *in.ConfirmPassword != in.Password {
		return model.NewValidationError("passwords do not match")
	}

	return nil
}
