package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
)

func setupTestUserService(t *testing.T) (UserService, *testEnv) {
	env := newTestEnv(t)
	return NewUserService(env.repo, zap.NewNop()), env
}

func TestUserService_AssignRole(t *testing.T) {
	svc, env := setupTestUserService(t)
	ctx := context.Background()

	admin := env.user(t, model.RoleAdmin)
	target := env.user(t, model.RoleReviewer)

	if err := svc.AssignRole(ctx, target.UserID, &dto.AssignRoleRequest{Role: model.RoleStudent}, admin.UserID); err != nil {
		t.Fatalf("修改角色失败: %v", err)
	}
	if got := env.reload(t, target.UserID).Role; got != model.RoleStudent {
		t.Errorf("期望 student，实际 %s", got)
	}
}

func TestUserService_AssignRole_Self(t *testing.T) {
	svc, env := setupTestUserService(t)
	admin := env.user(t, model.RoleAdmin)

	err := svc.AssignRole(context.Background(), admin.UserID, &dto.AssignRoleRequest{Role: model.RoleReviewer}, admin.UserID)
	if !errors.Is(err, ErrCannotChangeOwnRole) {
		t.Fatalf("期望 ErrCannotChangeOwnRole，实际: %v", err)
	}
	if got := env.reload(t, admin.UserID).Role; got != model.RoleAdmin {
		t.Errorf("角色不应改变，实际 %s", got)
	}
}

func TestUserService_AssignRole_KeepsExistingSelections(t *testing.T) {
	svc, env := setupTestUserService(t)
	ctx := context.Background()

	admin := env.user(t, model.RoleAdmin)
	reviewer := env.user(t, model.RoleReviewer)
	sel := newTestSelectionService(env, "unrestricted")
	for i := 0; i < 2; i++ {
		m := env.module(t, model.VisibilityActive)
		if _, err := sel.Select(ctx, reviewer.UserID, m.ModuleID); err != nil {
			t.Fatal(err)
		}
	}

	// 降为 student 后仍持有 2 个模块，直到自行释放
	if err := svc.AssignRole(ctx, reviewer.UserID, &dto.AssignRoleRequest{Role: model.RoleStudent}, admin.UserID); err != nil {
		t.Fatal(err)
	}
	if held := env.held(t, reviewer.UserID); len(held) != 2 {
		t.Errorf("角色变更不应回收已有选课，实际 %d 条", len(held))
	}
}

func TestUserService_AssignRole_NotFound(t *testing.T) {
	svc, env := setupTestUserService(t)
	admin := env.user(t, model.RoleAdmin)

	err := svc.AssignRole(context.Background(), "missing", &dto.AssignRoleRequest{Role: model.RoleStudent}, admin.UserID)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("期望 ErrUserNotFound，实际: %v", err)
	}
}

func TestUserService_AcceptTerms(t *testing.T) {
	svc, env := setupTestUserService(t)
	ctx := context.Background()

	u := env.user(t, model.RoleReviewer)
	env.db.Model(&model.User{}).Where("user_id = ?", u.UserID).Update("accepted_terms_at", nil)

	ok, err := svc.HasAcceptedTerms(ctx, u.UserID)
	if err != nil || ok {
		t.Fatalf("期望未确认，实际 ok=%v err=%v", ok, err)
	}

	if err := svc.AcceptTerms(ctx, u.UserID); err != nil {
		t.Fatal(err)
	}
	first := env.reload(t, u.UserID).AcceptedTermsAt
	if first == nil {
		t.Fatal("确认时间未记录")
	}

	// 重复确认不覆盖首次时间
	if err := svc.AcceptTerms(ctx, u.UserID); err != nil {
		t.Fatal(err)
	}
	if again := env.reload(t, u.UserID).AcceptedTermsAt; again == nil || !again.Equal(*first) {
		t.Errorf("重复确认不应修改时间: %v → %v", first, again)
	}

	if ok, _ := svc.HasAcceptedTerms(ctx, u.UserID); !ok {
		t.Error("期望已确认")
	}
}

func TestUserService_ReminderSettings(t *testing.T) {
	svc, env := setupTestUserService(t)
	ctx := context.Background()
	u := env.user(t, model.RoleReviewer)

	off := false
	resp, err := svc.UpdateReminderSettings(ctx, u.UserID, &dto.ReminderSettingsRequest{Enabled: &off})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Enabled {
		t.Error("期望关闭提醒")
	}

	got, err := svc.GetReminderSettings(ctx, u.UserID)
	if err != nil || got.Enabled {
		t.Fatalf("读取设置不符: %+v %v", got, err)
	}
}

func TestUserService_List_FiltersByRole(t *testing.T) {
	svc, env := setupTestUserService(t)
	env.user(t, model.RoleReviewer)
	env.user(t, model.RoleReviewer)
	env.user(t, model.RoleStudent)

	req := &dto.UserListRequest{Role: model.RoleReviewer}
	list, total, err := svc.List(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(list) != 2 {
		t.Errorf("期望 2 个评审，实际 total=%d len=%d", total, len(list))
	}
}
