package repository

import (
	"errors"
	"testing"

	"github.com/lib/pq"

	"github.com/hitoshi/blogguer/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("空文字はNULLとして扱われるべき")
	}
	ns := nullString("$2a$10$hash")
	if !ns.Valid || ns.String != "$2a$10$hash" {
		t.Errorf("nullString = %+v, want valid value", ns)
	}
}

func TestTranslateWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "email制約違反はDuplicateEmail",
			err:  &pq.Error{Code: "23505", Constraint: constraintEmail},
			want: model.ErrDuplicateEmail,
		},
		{
			name: "username制約違反はDuplicateUsername",
			err:  &pq.Error{Code: "23505", Constraint: constraintUsername},
			want: model.ErrDuplicateUsername,
		},
		{
			name: "プロバイダ紐付けの重複はDuplicateEmail",
			err:  &pq.Error{Code: "23505", Constraint: constraintProviderIdentity},
			want: model.ErrDuplicateEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateWriteError("insert user", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("translateWriteError() = %v, want %v", got, tt.want)
			}
			// 原因のpqエラーも辿れること
			var pqErr *pq.Error
			if !errors.As(got, &pqErr) {
				t.Error("原因の *pq.Error が保持されていません")
			}
		})
	}
}

func TestTranslateWriteError_OtherErrorsAreWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	got := translateWriteError("insert user", cause)

	if !errors.Is(got, cause) {
		t.Errorf("原因がラップされていません: %v", got)
	}
	var apiErr *model.APIError
	if errors.As(got, &apiErr) {
		t.Errorf("インフラエラーがドメインエラーに変換されています: %v", apiErr)
	}
}
