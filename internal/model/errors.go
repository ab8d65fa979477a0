package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, token, validation, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrTokenExpired) のように番兵値と比較できる。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause は原因を付与したコピーを返す。番兵値自体は変更しない。
func (e *APIError) WithCause(err error) *APIError {
	c := *e
	c.Err = err
	return &c
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateEmail        = "DUPLICATE_EMAIL"
	ErrCodeDuplicateUsername     = "DUPLICATE_USERNAME"
	ErrCodeUsernameTaken         = "USERNAME_TAKEN"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeAccountDisabled       = "ACCOUNT_DISABLED"
	ErrCodeTokenMissing          = "TOKEN_MISSING"
	ErrCodeTokenMalformed        = "TOKEN_MALFORMED"
	ErrCodeTokenInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	ErrCodeTokenExpired          = "TOKEN_EXPIRED"
	ErrCodeFederatedTokenInvalid = "FEDERATED_TOKEN_INVALID"
	ErrCodeIdentityNotFound      = "IDENTITY_NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
)

// 番兵エラー。errors.Is での判定に使う。
var (
	ErrDuplicateEmail = &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
	ErrDuplicateUsername = &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  "このユーザー名は既に使用されています。",
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
	ErrUsernameTaken = &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使用されています。",
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
	ErrInvalidCredentials = &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
	ErrAccountDisabled = &APIError{
		Code:     ErrCodeAccountDisabled,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
	}
	ErrTokenMissing = &APIError{
		Code:     ErrCodeTokenMissing,
		Message:  "認証トークンがありません。",
		Category: "token",
		Action:   "ログインしてください。",
	}
	ErrTokenMalformed = &APIError{
		Code:     ErrCodeTokenMalformed,
		Message:  "認証トークンの形式が不正です。",
		Category: "token",
		Action:   "ログインし直してください。",
	}
	ErrTokenInvalidSignature = &APIError{
		Code:     ErrCodeTokenInvalidSignature,
		Message:  "認証トークンの署名が不正です。",
		Category: "token",
		Action:   "ログインし直してください。",
	}
	ErrTokenExpired = &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "認証トークンの有効期限が切れています。",
		Category: "token",
		Action:   "ログインし直してください。",
	}
	ErrFederatedTokenInvalid = &APIError{
		Code:     ErrCodeFederatedTokenInvalid,
		Message:  "外部認証トークンを検証できませんでした。",
		Category: "auth",
		Action:   "もう一度Googleでログインしてください。",
	}
	ErrIdentityNotFound = &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
	ErrUnauthorized = &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
	ErrRateLimitExceeded = &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
)

// NewUnauthorizedError は原因を保持したUnauthorizedエラーを生成する。
// errors.Is(err, ErrUnauthorized) と errors.Is(err, cause) の両方が成立する。
func NewUnauthorizedError(cause error) *APIError {
	return ErrUnauthorized.WithCause(cause)
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "https:// で始まる公開URLを入力してください。",
	}
}
