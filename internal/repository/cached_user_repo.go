package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/blogguer/internal/model"
)

const (
	cacheKeyByID    = "blogguer:user:id:"
	cacheKeyByEmail = "blogguer:user:email:"
)

// storeIfNotNewer は既存エントリの version が引数より新しい場合に上書きしない。
// KEYS: 保存先キー, ARGV[1]: JSON, ARGV[2]: version, ARGV[3]: TTL(ミリ秒)
var storeIfNotNewer = redis.NewScript(`
local stored = 0
for _, key in ipairs(KEYS) do
  local current = redis.call('GET', key)
  local newer = false
  if current then
    local ok, decoded = pcall(cjson.decode, current)
    if ok and type(decoded) == 'table' and tonumber(decoded.version or 0) > tonumber(ARGV[2]) then
      newer = true
    end
  end
  if not newer then
    redis.call('SET', key, ARGV[1], 'PX', ARGV[3])
    stored = stored + 1
  end
end
return stored
`)

// cachedUser はキャッシュに保存する形式。パスワードハッシュも含むため
// キャッシュはアプリケーション専用のRedisに置くこと。
type cachedUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash,omitempty"`
	Role         model.Role `json:"role"`
	Provider     string     `json:"provider,omitempty"`
	ProviderID   string     `json:"provider_id,omitempty"`
	Avatar       string     `json:"avatar"`
	Bio          string     `json:"bio"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	// Version は UpdatedAt のマイクロ秒。Luaの数値(倍精度)で比較できる範囲に収める。
	Version      int64      `json:"version"`
}

// CachedUserRepo はRedisによる読み取りキャッシュ付きのUserRepository。
// 書き込みは常に下位のリポジトリへ委譲し、成功後にコミット済みの値でキャッシュを置き換える。
// キャッシュへの保存は updated_at が既存エントリより古くない場合に限る。
// Redisの障害時は下位リポジトリのみで動作を継続する。
type CachedUserRepo struct {
	next   UserRepository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedUserRepo はCachedUserRepoを生成する。
func NewCachedUserRepo(next UserRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedUserRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedUserRepo{next: next, client: client, ttl: ttl, logger: logger}
}

// Create はユーザーを作成する。新規作成時はキャッシュに何も存在しないため無効化しない。
func (r *CachedUserRepo) Create(ctx context.Context, user *model.User) error {
	return r.next.Create(ctx, user)
}

// FindByID はキャッシュを参照し、なければ下位リポジトリから取得して保存する。
func (r *CachedUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.readThrough(ctx, cacheKeyByID+id, func() (*model.User, error) {
		return r.next.FindByID(ctx, id)
	})
}

// FindByEmail はキャッシュを参照し、なければ下位リポジトリから取得して保存する。
func (r *CachedUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.readThrough(ctx, cacheKeyByEmail+email, func() (*model.User, error) {
		return r.next.FindByEmail(ctx, email)
	})
}

// FindByProvider はキャッシュを経由しない。フェデレーションログイン時のみ使われる。
func (r *CachedUserRepo) FindByProvider(ctx context.Context, provider, providerID string) (*model.User, error) {
	return r.next.FindByProvider(ctx, provider, providerID)
}

// Update は下位リポジトリで更新した後、キャッシュを更新後の値に置き換える。
func (r *CachedUserRepo) Update(ctx context.Context, user *model.User) error {
	if err := r.next.Update(ctx, user); err != nil {
		return err
	}
	r.refresh(ctx, user)
	return nil
}

// ModifyByEmail は下位リポジトリで更新した後、キャッシュを更新後の値に置き換える。
func (r *CachedUserRepo) ModifyByEmail(ctx context.Context, email string, fn func(*model.User) error) (*model.User, error) {
	user, err := r.next.ModifyByEmail(ctx, email, fn)
	if err != nil {
		return nil, err
	}
	r.refresh(ctx, user)
	return user, nil
}

// ExistsByEmail は常に下位リポジトリを参照する。
func (r *CachedUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.next.ExistsByEmail(ctx, email)
}

// ExistsByUsername は常に下位リポジトリを参照する。
func (r *CachedUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.next.ExistsByUsername(ctx, username)
}

func (r *CachedUserRepo) readThrough(ctx context.Context, key string, load func() (*model.User, error)) (*model.User, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cu cachedUser
		if jsonErr := json.Unmarshal(raw, &cu); jsonErr == nil {
			return cu.toModel(), nil
		}
		r.logger.Warn("identity cache entry is corrupt", slog.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn("identity cache read failed", slog.String("error", err.Error()))
	}

	user, err := load()
	if err != nil {
		return nil, err
	}

	_ = r.store(ctx, user)
	return user, nil
}

// store は既存エントリより古くない場合のみ user をキャッシュに保存する。
// 読み込み中に別のリクエストが更新をコミットしていれば、古い行は捨てられる。
func (r *CachedUserRepo) store(ctx context.Context, user *model.User) error {
	cu := fromModel(user)
	data, err := json.Marshal(cu)
	if err != nil {
		return err
	}

	keys := []string{cacheKeyByID + user.ID, cacheKeyByEmail + user.Email}
	if err := storeIfNotNewer.Run(ctx, r.client, keys, data, cu.Version, r.ttl.Milliseconds()).Err(); err != nil {
		r.logger.Warn("identity cache write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// refresh は書き込み後にキャッシュを置き換え、失敗した場合はキーを削除する。
func (r *CachedUserRepo) refresh(ctx context.Context, user *model.User) {
	if err := r.store(ctx, user); err != nil {
		r.invalidate(ctx, user)
	}
}

func (r *CachedUserRepo) invalidate(ctx context.Context, user *model.User) {
	if err := r.client.Del(ctx, cacheKeyByID+user.ID, cacheKeyByEmail+user.Email).Err(); err != nil {
		r.logger.Warn("identity cache invalidation failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

func fromModel(u *model.User) cachedUser {
	return cachedUser{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Provider:     u.Provider,
		ProviderID:   u.ProviderID,
		Avatar:       u.Avatar,
		Bio:          u.Bio,
		Enabled:      u.Enabled,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		Version:      u.UpdatedAt.UnixMicro(),
	}
}

func (c cachedUser) toModel() *model.User {
	return &model.User{
		ID:           c.ID,
		Username:     c.Username,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		Role:         model.ParseRole(string(c.Role)),
		Provider:     c.Provider,
		ProviderID:   c.ProviderID,
		Avatar:       c.Avatar,
		Bio:          c.Bio,
		Enabled:      c.Enabled,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// compile-time interface check
var _ UserRepository = (*CachedUserRepo)(nil)
