package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"review-portal/backend/config"
	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/pkg/jwt"
)

// ── Mock TokenBlacklist ──

type mockBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
	err     error
}

func newMockBlacklist() *mockBlacklist {
	return &mockBlacklist{revoked: make(map[string]time.Duration)}
}

func (m *mockBlacklist) BlacklistToken(_ context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.revoked[jti] = ttl
	return nil
}

func (m *mockBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

// ── 测试辅助 ──

func newTestAuthConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth = config.AuthConfig{
		JWTSecret:       "test-secret-for-auth-service",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
	cfg.OAuth.AdminEmails = []string{"Boss@Example.com"}
	cfg.Selection.MaxModules = map[string]int{model.RoleReviewer: 2, model.RoleStudent: 1}
	return cfg
}

func setupTestAuthService(t *testing.T) (AuthService, *testEnv, *jwt.Manager, *mockBlacklist) {
	env := newTestEnv(t)
	cfg := newTestAuthConfig()
	jwtMgr := jwt.NewManager(&cfg.Auth)
	bl := newMockBlacklist()
	return NewAuthService(cfg, env.repo, jwtMgr, bl, zap.NewNop()), env, jwtMgr, bl
}

// ── LoginWithOAuth ──

func TestAuthService_LoginWithOAuth_CreatesReviewer(t *testing.T) {
	svc, env, jwtMgr, _ := setupTestAuthService(t)

	resp, err := svc.LoginWithOAuth(context.Background(), &dto.OAuthProfile{
		GoogleID: "g-100",
		Email:    " New.User@Example.com ",
		Name:     "New User",
	})
	if err != nil {
		t.Fatalf("登录失败: %v", err)
	}
	if resp.User.Role != model.RoleReviewer {
		t.Errorf("首次登录默认角色应为 reviewer，实际 %s", resp.User.Role)
	}
	if resp.User.Email != "new.user@example.com" {
		t.Errorf("邮箱应规范化为小写，实际 %q", resp.User.Email)
	}
	if resp.ExpiresIn != 900 {
		t.Errorf("期望 ExpiresIn=900，实际 %d", resp.ExpiresIn)
	}

	claims, err := jwtMgr.ParseToken(resp.AccessToken)
	if err != nil || claims.TokenType != jwt.TokenTypeAccess || claims.UserID != resp.User.ID {
		t.Fatalf("AccessToken 无效: %v %+v", err, claims)
	}

	u := env.reload(t, resp.User.ID)
	if u.LastLoginAt == nil || !u.ReminderEnabled {
		t.Errorf("新用户字段不符: %+v", u)
	}
}

func TestAuthService_LoginWithOAuth_AdminEmail(t *testing.T) {
	svc, _, _, _ := setupTestAuthService(t)

	resp, err := svc.LoginWithOAuth(context.Background(), &dto.OAuthProfile{GoogleID: "g-admin", Email: "boss@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.User.Role != model.RoleAdmin {
		t.Errorf("名单内邮箱应授予 admin，实际 %s", resp.User.Role)
	}
}

func TestAuthService_LoginWithOAuth_ExistingUserKeepsRole(t *testing.T) {
	svc, env, _, _ := setupTestAuthService(t)
	ctx := context.Background()

	first, err := svc.LoginWithOAuth(ctx, &dto.OAuthProfile{GoogleID: "g-1", Email: "a@example.com", Name: "Old"})
	if err != nil {
		t.Fatal(err)
	}
	env.db.Model(&model.User{}).Where("user_id = ?", first.User.ID).Update("role", model.RoleStudent)

	second, err := svc.LoginWithOAuth(ctx, &dto.OAuthProfile{GoogleID: "g-1", Email: "a@example.com", Name: "New"})
	if err != nil {
		t.Fatal(err)
	}
	if second.User.ID != first.User.ID {
		t.Fatal("同一 google_id 不应新建用户")
	}
	if second.User.Role != model.RoleStudent || second.User.Name != "New" {
		t.Errorf("期望保留角色并更新姓名，实际 %+v", second.User)
	}
}

func TestAuthService_LoginWithOAuth_IncompleteProfile(t *testing.T) {
	svc, _, _, _ := setupTestAuthService(t)

	for _, p := range []*dto.OAuthProfile{nil, {GoogleID: "g"}, {Email: "x@example.com"}} {
		if _, err := svc.LoginWithOAuth(context.Background(), p); !errors.Is(err, ErrInvalidOAuthProfile) {
			t.Errorf("期望 ErrInvalidOAuthProfile，实际: %v", err)
		}
	}
}

// ── Refresh ──

func TestAuthService_Refresh_RotatesToken(t *testing.T) {
	svc, _, jwtMgr, bl := setupTestAuthService(t)
	ctx := context.Background()

	login, err := svc.LoginWithOAuth(ctx, &dto.OAuthProfile{GoogleID: "g-1", Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("刷新失败: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("刷新后应签发新的 RefreshToken")
	}

	old, _ := jwtMgr.ParseToken(login.RefreshToken)
	if _, ok := bl.revoked[old.ID]; !ok {
		t.Error("旧 RefreshToken 应加入黑名单")
	}

	// 旧 token 不可再次使用
	if _, err := svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("期望 ErrInvalidRefreshToken，实际: %v", err)
	}
}

func TestAuthService_Refresh_RejectsAccessToken(t *testing.T) {
	svc, _, _, _ := setupTestAuthService(t)
	ctx := context.Background()

	login, err := svc.LoginWithOAuth(ctx, &dto.OAuthProfile{GoogleID: "g-1", Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refresh(ctx, login.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("期望 ErrInvalidRefreshToken，实际: %v", err)
	}
	if _, err := svc.Refresh(ctx, "garbage"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("期望 ErrInvalidRefreshToken，实际: %v", err)
	}
}

func TestAuthService_Refresh_DeletedUser(t *testing.T) {
	svc, env, _, _ := setupTestAuthService(t)
	ctx := context.Background()

	login, err := svc.LoginWithOAuth(ctx, &dto.OAuthProfile{GoogleID: "g-1", Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	env.db.Where("user_id = ?", login.User.ID).Delete(&model.User{})

	if _, err := svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("期望 ErrInvalidRefreshToken，实际: %v", err)
	}
}

// ── Logout ──

func TestAuthService_Logout_RevokesBothTokens(t *testing.T) {
	svc, _, jwtMgr, bl := setupTestAuthService(t)
	ctx := context.Background()

	login, err := svc.LoginWithOAuth(ctx, &dto.OAuthProfile{GoogleID: "g-1", Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	access, _ := jwtMgr.ParseToken(login.AccessToken)
	refresh, _ := jwtMgr.ParseToken(login.RefreshToken)

	if err := svc.Logout(ctx, access.ID, access.ExpiresAt.Time, login.RefreshToken); err != nil {
		t.Fatalf("登出失败: %v", err)
	}
	if _, ok := bl.revoked[access.ID]; !ok {
		t.Error("AccessToken 应加入黑名单")
	}
	if _, ok := bl.revoked[refresh.ID]; !ok {
		t.Error("RefreshToken 应加入黑名单")
	}
}

func TestAuthService_Logout_WithoutBlacklist(t *testing.T) {
	env := newTestEnv(t)
	cfg := newTestAuthConfig()
	svc := NewAuthService(cfg, env.repo, jwt.NewManager(&cfg.Auth), nil, zap.NewNop())

	if err := svc.Logout(context.Background(), "jti", time.Now().Add(time.Minute), ""); err != nil {
		t.Fatalf("未配置黑名单时登出应成功: %v", err)
	}
}

// ── Me ──

func TestAuthService_Me_IncludesLedger(t *testing.T) {
	svc, env, _, _ := setupTestAuthService(t)
	ctx := context.Background()

	u := env.user(t, model.RoleReviewer)
	a := env.module(t, model.VisibilityActive)
	b := env.module(t, model.VisibilityActive)
	sel := newTestSelectionService(env, "unrestricted")
	for _, m := range []*model.Module{a, b} {
		if _, err := sel.Select(ctx, u.UserID, m.ModuleID); err != nil {
			t.Fatal(err)
		}
	}

	me, err := svc.Me(ctx, u.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(me.Selections) != 2 {
		t.Fatalf("期望 2 条选课，实际 %d", len(me.Selections))
	}
	if me.ActiveSelection == nil || me.ActiveSelection.ModuleID != b.ModuleID {
		t.Errorf("激活模块应为最近选择的模块，实际 %+v", me.ActiveSelection)
	}
	if me.MaxModules != 2 {
		t.Errorf("评审上限应为 2，实际 %d", me.MaxModules)
	}
	if !me.AcceptedTerms || me.AcceptedTermsAt == "" {
		t.Error("测试用户已确认条款")
	}

	if _, err := svc.Me(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("期望 ErrUserNotFound，实际: %v", err)
	}
}
