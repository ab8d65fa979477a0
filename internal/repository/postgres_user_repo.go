package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/blogguer/internal/database"
	"github.com/hitoshi/blogguer/internal/model"
)

// 一意制約名。マイグレーションの定義と一致させること。
const (
	constraintEmail            = "users_email_key"
	constraintUsername         = "users_username_key"
	constraintProviderIdentity = "users_provider_identity_key"
)

const userColumns = `id, email, username, password_hash, role, provider, provider_id,
	avatar, bio, enabled, created_at, updated_at`

// dbtx は *sql.DB と *sql.Tx の共通部分。
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。一意性は制約で判定し、事前チェックは行わない。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, role, provider, provider_id, avatar, bio, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		user.ID, user.Email, user.Username, nullString(user.PasswordHash), string(user.Role),
		nullString(user.Provider), nullString(user.ProviderID), user.Avatar, user.Bio, user.Enabled,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return translateWriteError("insert user", err)
	}

	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return findOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return findOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByProvider は外部IdPの主体IDでユーザーを取得する。
func (r *PostgresUserRepo) FindByProvider(ctx context.Context, provider, providerID string) (*model.User, error) {
	return findOne(ctx, r.db,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`,
		provider, providerID,
	)
}

// Update はユーザーを更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	return updateUser(ctx, r.db, user)
}

// ModifyByEmail は SELECT ... FOR UPDATE で行をロックし、fn を適用して保存する。
func (r *PostgresUserRepo) ModifyByEmail(ctx context.Context, email string, fn func(*model.User) error) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := findOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE email = $1 FOR UPDATE`, email)
	if err != nil {
		return nil, err
	}

	if err := fn(user); err != nil {
		return nil, err
	}

	if err := updateUser(ctx, tx, user); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translateWriteError("commit user update", err)
	}

	return user, nil
}

// ExistsByEmail はメールアドレスが使用済みかどうかを返す。
func (r *PostgresUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email)
}

// ExistsByUsername はユーザー名が使用済みかどうかを返す。
func (r *PostgresUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
}

func (r *PostgresUserRepo) exists(ctx context.Context, query, arg string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return exists, nil
}

func findOne(ctx context.Context, q dbtx, query string, args ...any) (*model.User, error) {
	var (
		user                               model.User
		role                               string
		passwordHash, provider, providerID sql.NullString
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.Username, &passwordHash, &role, &provider, &providerID,
		&user.Avatar, &user.Bio, &user.Enabled, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.Role = model.ParseRole(role)
	user.Provider = provider.String
	user.ProviderID = providerID.String

	return &user, nil
}

// updateUser は変更可能なカラムを保存する。email と id は変更しない。
func updateUser(ctx context.Context, q dbtx, user *model.User) error {
	err := q.QueryRowContext(ctx,
		`UPDATE users
		 SET username = $2, password_hash = $3, role = $4, provider = $5, provider_id = $6,
		     avatar = $7, bio = $8, enabled = $9, updated_at = clock_timestamp()
		 WHERE id = $1
		 RETURNING updated_at`,
		user.ID, user.Username, nullString(user.PasswordHash), string(user.Role),
		nullString(user.Provider), nullString(user.ProviderID), user.Avatar, user.Bio, user.Enabled,
	).Scan(&user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrIdentityNotFound
	}
	if err != nil {
		return translateWriteError("update user", err)
	}

	return nil
}

// translateWriteError は一意制約違反をドメインエラーに変換する。
func translateWriteError(op string, err error) error {
	constraint, ok := database.UniqueViolation(err)
	if !ok {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	switch constraint {
	case constraintUsername:
		return model.ErrDuplicateUsername.WithCause(err)
	case constraintEmail, constraintProviderIdentity:
		return model.ErrDuplicateEmail.WithCause(err)
	default:
		return fmt.Errorf("failed to %s: unexpected unique violation on %q: %w", op, constraint, err)
	}
}

// nullString は空文字をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
