package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/blogguer/internal/model"
	"github.com/hitoshi/blogguer/internal/repository"
)

const testAvatarBase = "https://ui-avatars.com/api/"

func googleClaims(sub, email string) *FederatedClaims {
	return &FederatedClaims{
		Provider: model.ProviderGoogle,
		Subject:  sub,
		Email:    email,
		Name:     "G User",
		Picture:  "https://lh3.googleusercontent.com/a/photo.jpg",
	}
}

func staticVerifier(claims *FederatedClaims) *mockFederatedVerifier {
	return &mockFederatedVerifier{
		introspectFn: func(_ context.Context, _ string) (*FederatedClaims, error) {
			c := *claims
			return &c, nil
		},
	}
}

func TestFederatedResolver_Resolve_CreatesNewUser(t *testing.T) {
	repo := repository.NewInMemoryUserRepo()
	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	user, err := r.Resolve(context.Background(), "id-token", "blogger")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if user.Email != "g@x.com" {
		t.Errorf("Email = %q, want %q", user.Email, "g@x.com")
	}
	if user.Username != "g" {
		t.Errorf("Username = %q, want %q", user.Username, "g")
	}
	if user.Role != model.RoleBlogger {
		t.Errorf("Role = %q, want %q", user.Role, model.RoleBlogger)
	}
	if user.Provider != model.ProviderGoogle || user.ProviderID != "sub-1" {
		t.Errorf("Provider = (%q, %q), want (google, sub-1)", user.Provider, user.ProviderID)
	}
	if user.HasLocalCredential() {
		t.Error("フェデレーションユーザーにパスワードが設定されています")
	}
	if user.Avatar != "https://lh3.googleusercontent.com/a/photo.jpg" {
		t.Errorf("Avatar = %q, want IdP picture", user.Avatar)
	}
	if !user.Enabled {
		t.Error("Enabled = false, want true")
	}
	if repo.Len() != 1 {
		t.Errorf("user count = %d, want 1", repo.Len())
	}
}

func TestFederatedResolver_Resolve_Idempotent(t *testing.T) {
	repo := repository.NewInMemoryUserRepo()
	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	first, err := r.Resolve(context.Background(), "id-token", "")
	if err != nil {
		t.Fatalf("first Resolve returned error: %v", err)
	}
	// 2回目は要求ロールを無視して既存ユーザーを返す
	second, err := r.Resolve(context.Background(), "id-token", "BLOGGER")
	if err != nil {
		t.Fatalf("second Resolve returned error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("ID = %q, want %q", second.ID, first.ID)
	}
	if second.Role != model.RoleReader {
		t.Errorf("Role = %q, want %q", second.Role, model.RoleReader)
	}
	if repo.Len() != 1 {
		t.Errorf("user count = %d, want 1", repo.Len())
	}
}

func TestFederatedResolver_Resolve_MatchesExistingLocalUserByEmail(t *testing.T) {
	repo := repository.NewInMemoryUserRepo()
	local := &model.User{
		ID:           "local-1",
		Username:     "alice",
		Email:        "g@x.com",
		PasswordHash: "$2a$10$hash",
		Role:         model.RoleBlogger,
		Enabled:      true,
	}
	if err := repo.Create(context.Background(), local); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	user, err := r.Resolve(context.Background(), "id-token", "READER")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.ID != "local-1" {
		t.Errorf("ID = %q, want %q", user.ID, "local-1")
	}
	// 既存ユーザーへのリンクは行わない
	if user.IsFederated() {
		t.Error("既存ユーザーがフェデレーションに紐付けられました")
	}
	if repo.Len() != 1 {
		t.Errorf("user count = %d, want 1", repo.Len())
	}
}

func TestFederatedResolver_Resolve_InvalidPictureFallsBackToDefaultAvatar(t *testing.T) {
	repo := repository.NewInMemoryUserRepo()
	urls := &mockURLValidator{
		validateFn: func(string) error { return model.NewInvalidURLError("private address") },
	}
	claims := googleClaims("sub-1", "g@x.com")
	claims.Picture = "http://169.254.169.254/latest"

	r := NewFederatedResolver(staticVerifier(claims), repo, urls, testAvatarBase, nil)

	user, err := r.Resolve(context.Background(), "id-token", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if want := DefaultAvatarURL(testAvatarBase, "g"); user.Avatar != want {
		t.Errorf("Avatar = %q, want %q", user.Avatar, want)
	}
}

func TestFederatedResolver_Resolve_UsernameCollision(t *testing.T) {
	repo := repository.NewInMemoryUserRepo()
	_ = repo.Create(context.Background(), &model.User{
		ID:           "other",
		Username:     "g",
		Email:        "someone@else.com",
		PasswordHash: "$2a$10$hash",
		Role:         model.RoleReader,
		Enabled:      true,
	})

	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	user, err := r.Resolve(context.Background(), "id-token", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !strings.HasPrefix(user.Username, "g-") || len(user.Username) != len("g-")+4 {
		t.Errorf("Username = %q, want g-xxxx", user.Username)
	}
	if repo.Len() != 2 {
		t.Errorf("user count = %d, want 2", repo.Len())
	}
}

func TestFederatedResolver_Resolve_UsernameAttemptsExhausted(t *testing.T) {
	attempts := 0
	repo := &mockUserRepo{
		createFn: func(_ context.Context, _ *model.User) error {
			attempts++
			return model.ErrDuplicateUsername
		},
	}

	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	_, err := r.Resolve(context.Background(), "id-token", "")
	if !errors.Is(err, model.ErrDuplicateUsername) {
		t.Errorf("error = %v, want ErrDuplicateUsername", err)
	}
	if attempts != maxUsernameAttempts {
		t.Errorf("Create called %d times, want %d", attempts, maxUsernameAttempts)
	}
}

func TestFederatedResolver_Resolve_LostCreateRace(t *testing.T) {
	winner := &model.User{ID: "winner", Email: "g@x.com", Username: "g", Role: model.RoleReader, Enabled: true}
	emailLookups := 0
	repo := &mockUserRepo{
		findByEmailFn: func(_ context.Context, _ string) (*model.User, error) {
			emailLookups++
			if emailLookups == 1 {
				return nil, model.ErrIdentityNotFound
			}
			return winner, nil
		},
		createFn: func(_ context.Context, _ *model.User) error {
			return model.ErrDuplicateEmail
		},
	}

	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	user, err := r.Resolve(context.Background(), "id-token", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.ID != "winner" {
		t.Errorf("ID = %q, want %q", user.ID, "winner")
	}
}

func TestFederatedResolver_Resolve_VerifierFailure(t *testing.T) {
	created := false
	repo := &mockUserRepo{
		createFn: func(_ context.Context, _ *model.User) error {
			created = true
			return nil
		},
	}
	verifier := &mockFederatedVerifier{
		introspectFn: func(_ context.Context, _ string) (*FederatedClaims, error) {
			return nil, model.ErrFederatedTokenInvalid.WithCause(errors.New("audience mismatch"))
		},
	}

	r := NewFederatedResolver(verifier, repo, &mockURLValidator{}, testAvatarBase, nil)

	_, err := r.Resolve(context.Background(), "bad-token", "")
	if !errors.Is(err, model.ErrFederatedTokenInvalid) {
		t.Errorf("error = %v, want ErrFederatedTokenInvalid", err)
	}
	if created {
		t.Error("検証失敗時にユーザーが作成されました")
	}
}

func TestFederatedResolver_Resolve_StoreFailure(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &mockUserRepo{
		findByProviderFn: func(_ context.Context, _, _ string) (*model.User, error) {
			return nil, storeErr
		},
	}

	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	_, err := r.Resolve(context.Background(), "id-token", "")
	if !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want %v", err, storeErr)
	}
}

func TestFederatedResolver_Resolve_ConcurrentFirstLogin(t *testing.T) {
	repo := repository.NewInMemoryUserRepo()
	r := NewFederatedResolver(staticVerifier(googleClaims("sub-1", "g@x.com")), repo, &mockURLValidator{}, testAvatarBase, nil)

	const n = 20
	ids := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := r.Resolve(context.Background(), "id-token", "")
			errs[i] = err
			if user != nil {
				ids[i] = user.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Resolve[%d] returned error: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("Resolve[%d] ID = %q, want %q", i, ids[i], ids[0])
		}
	}
	if repo.Len() != 1 {
		t.Errorf("user count = %d, want 1", repo.Len())
	}
}

func TestUsernameFromEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"g@x.com", "g"},
		{"john.doe@example.com", "john.doe"},
		{"@x.com", "user"},
		{strings.Repeat("a", 60) + "@x.com", strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := usernameFromEmail(tt.email); got != tt.want {
				t.Errorf("usernameFromEmail(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}

func TestFallbackUsername(t *testing.T) {
	got := fallbackUsername("John Doe")
	if !strings.HasPrefix(got, "john-doe-") {
		t.Errorf("fallbackUsername = %q, want prefix %q", got, "john-doe-")
	}

	long := fallbackUsername(strings.Repeat("b", 60))
	if len([]rune(long)) > maxUsernameLength {
		t.Errorf("fallbackUsername length = %d, want <= %d", len([]rune(long)), maxUsernameLength)
	}
}
