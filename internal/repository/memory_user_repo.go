package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/blogguer/internal/model"
)

// InMemoryUserRepo はプロセス内メモリに保持するUserRepository。
// 一意性の判定と挿入を同一ロック内で行うため、並行作成でも重複は生じない。
// 単一プロセスの開発環境とテストで使用する。
type InMemoryUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	byEmail map[string]string
	byName  map[string]string
	byExt   map[string]string
	now     func() time.Time
}

// NewInMemoryUserRepo はInMemoryUserRepoを生成する。
func NewInMemoryUserRepo() *InMemoryUserRepo {
	return &InMemoryUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
		byExt:   make(map[string]string),
		now:     time.Now,
	}
}

func providerKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

// Create はユーザーを作成する。
func (r *InMemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[user.Email]; ok {
		return model.ErrDuplicateEmail
	}
	if _, ok := r.byName[user.Username]; ok {
		return model.ErrDuplicateUsername
	}
	if user.IsFederated() {
		if _, ok := r.byExt[providerKey(user.Provider, user.ProviderID)]; ok {
			return model.ErrDuplicateEmail
		}
	}

	now := r.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.byID[user.ID] = &stored
	r.byEmail[user.Email] = user.ID
	r.byName[user.Username] = user.ID
	if user.IsFederated() {
		r.byExt[providerKey(user.Provider, user.ProviderID)] = user.ID
	}

	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *InMemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(id)
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (r *InMemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(r.byEmail[email])
}

// FindByProvider は外部IdPの主体IDでユーザーを取得する。
func (r *InMemoryUserRepo) FindByProvider(_ context.Context, provider, providerID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(r.byExt[providerKey(provider, providerID)])
}

// Update はユーザーを更新する。
func (r *InMemoryUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(user)
}

// ModifyByEmail はロックを保持したまま fn を適用して保存する。
func (r *InMemoryUserRepo) ModifyByEmail(_ context.Context, email string, fn func(*model.User) error) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, err := r.copyOf(r.byEmail[email])
	if err != nil {
		return nil, err
	}
	if err := fn(user); err != nil {
		return nil, err
	}
	if err := r.updateLocked(user); err != nil {
		return nil, err
	}

	return user, nil
}

// ExistsByEmail はメールアドレスが使用済みかどうかを返す。
func (r *InMemoryUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byEmail[email]
	return ok, nil
}

// ExistsByUsername はユーザー名が使用済みかどうかを返す。
func (r *InMemoryUserRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byName[username]
	return ok, nil
}

// Len は保持しているユーザー数を返す。
func (r *InMemoryUserRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *InMemoryUserRepo) copyOf(id string) (*model.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, model.ErrIdentityNotFound
	}
	c := *u
	return &c, nil
}

func (r *InMemoryUserRepo) updateLocked(user *model.User) error {
	current, ok := r.byID[user.ID]
	if !ok {
		return model.ErrIdentityNotFound
	}

	if user.Username != current.Username {
		if owner, taken := r.byName[user.Username]; taken && owner != user.ID {
			return model.ErrDuplicateUsername
		}
		delete(r.byName, current.Username)
		r.byName[user.Username] = user.ID
	}

	// email は不変
	user.Email = current.Email
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = r.now()

	stored := *user
	r.byID[user.ID] = &stored
	return nil
}

// compile-time interface check
var _ UserRepository = (*InMemoryUserRepo)(nil)
