// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/blogguer/internal/model"
)

// UserRepository はアイデンティティの永続化インターフェース。
//
// メールアドレス・ユーザー名・(provider, provider_id) の一意性はストア自身が
// 原子的に保証する。Exists系メソッドは参考情報であり、一意性の根拠にしてはならない。
type UserRepository interface {
	// Create はユーザーを1件作成する。
	// 一意性違反は model.ErrDuplicateEmail / model.ErrDuplicateUsername で返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合は model.ErrIdentityNotFound を返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（完全一致）でユーザーを取得する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProvider は外部IdPの主体IDでユーザーを取得する。
	FindByProvider(ctx context.Context, provider, providerID string) (*model.User, error)

	// Update は変更可能なカラムを更新し、UpdatedAt を進める。
	Update(ctx context.Context, user *model.User) error

	// ModifyByEmail は行ロックを取得した上で fn を適用し、同一トランザクションで保存する。
	// fn がエラーを返した場合は何も保存しない。
	ModifyByEmail(ctx context.Context, email string, fn func(*model.User) error) (*model.User, error)

	// ExistsByEmail はメールアドレスが使用済みかどうかを返す。
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// ExistsByUsername はユーザー名が使用済みかどうかを返す。
	ExistsByUsername(ctx context.Context, username string) (bool, error)
}
