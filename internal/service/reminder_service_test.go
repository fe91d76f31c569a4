package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
)

var reminderNow = time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC)

func setupTestReminderService(t *testing.T) (*reminderService, *testEnv) {
	env := newTestEnv(t)
	svc := NewReminderService(env.repo, env.notifier, zap.NewNop()).(*reminderService)
	svc.now = func() time.Time { return reminderNow }
	return svc, env
}

func itemsByKind(items []dto.PendingItem) map[string]string {
	out := make(map[string]string, len(items))
	for _, it := range items {
		out[it.Kind] = it.Status
	}
	return out
}

func TestReminderService_PendingWork(t *testing.T) {
	svc, env := setupTestReminderService(t)
	ctx := context.Background()
	sel := newTestSelectionService(env, "unrestricted")

	m := env.module(t, model.VisibilityActive, func(m *model.Module) { m.DriveModifiedTime = strPtr("v1") })
	busy := env.user(t, model.RoleStudent)
	idle := env.user(t, model.RoleReviewer)
	env.user(t, model.RoleStudent) // 未选课
	env.user(t, model.RoleAdmin)
	for _, u := range []*model.User{busy, idle} {
		if _, err := sel.Select(ctx, u.UserID, m.ModuleID); err != nil {
			t.Fatal(err)
		}
	}

	// busy：课堂已评分，作业已提交待评分，资料有新版本
	inClass := env.submission(t, busy.UserID, m.ModuleID, model.SubmissionInClass)
	points := 90.0
	if err := env.repo.Grade.Save(ctx, &model.Grade{SubmissionID: inClass.SubmissionID, TotalPoints: &points, Status: model.GradeStatusCompleted}); err != nil {
		t.Fatal(err)
	}
	env.submission(t, busy.UserID, m.ModuleID, model.SubmissionHomework)
	env.db.Model(&model.Module{}).Where("module_id = ?", m.ModuleID).Update("drive_modified_time", "v2")
	env.db.Model(&model.UserModuleSelection{}).Where("user_id = ?", idle.UserID).Update("last_notified_version", "v2")

	pending, err := svc.PendingWork(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("期望 2 个用户有待办，实际 %d", len(pending))
	}

	byUser := map[string]dto.PendingWorkResponse{}
	for _, p := range pending {
		byUser[p.UserID] = p
	}

	got := itemsByKind(byUser[busy.UserID].Items)
	want := map[string]string{
		model.SubmissionHomework: dto.PendingAwaitingGrade,
		dto.PendingKindPDFUpdate: dto.PendingNewVersion,
	}
	if len(got) != len(want) {
		t.Fatalf("busy 待办不符: %+v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("busy %s 期望 %s，实际 %s", k, v, got[k])
		}
	}

	got = itemsByKind(byUser[idle.UserID].Items)
	if got[model.SubmissionInClass] != dto.PendingNotSubmitted || got[model.SubmissionHomework] != dto.PendingNotSubmitted {
		t.Errorf("idle 应有两项未提交，实际 %+v", got)
	}
	if _, ok := got[dto.PendingKindPDFUpdate]; ok {
		t.Error("已同步最新资料的用户不应有资料更新待办")
	}
}

func TestReminderService_SendWeekly(t *testing.T) {
	svc, env := setupTestReminderService(t)
	ctx := context.Background()
	sel := newTestSelectionService(env, "unrestricted")
	m := env.module(t, model.VisibilityActive)

	due := env.user(t, model.RoleReviewer)
	optedOut := env.user(t, model.RoleReviewer)
	recent := env.user(t, model.RoleStudent)
	stale := env.user(t, model.RoleStudent)
	for _, u := range []*model.User{due, optedOut, recent, stale} {
		if _, err := sel.Select(ctx, u.UserID, m.ModuleID); err != nil {
			t.Fatal(err)
		}
	}
	env.db.Model(&model.User{}).Where("user_id = ?", optedOut.UserID).Update("reminder_enabled", false)
	env.db.Model(&model.User{}).Where("user_id = ?", recent.UserID).Update("last_reminder_sent", reminderNow.Add(-2*24*time.Hour))
	env.db.Model(&model.User{}).Where("user_id = ?", stale.UserID).Update("last_reminder_sent", reminderNow.Add(-7*24*time.Hour))

	resp, err := svc.SendWeekly(ctx)
	if err != nil {
		t.Fatalf("发送提醒失败: %v", err)
	}
	if resp.Sent != 2 || resp.Skipped != 2 {
		t.Errorf("期望发送 2 跳过 2，实际 %+v", resp)
	}

	sent := map[string]bool{}
	for _, ev := range env.notifier.reminders {
		sent[ev.UserEmail] = true
	}
	if !sent[due.Email] || !sent[stale.Email] || len(sent) != 2 {
		t.Errorf("提醒收件人不符: %v", sent)
	}
	if len(env.notifier.summaries) != 1 || env.notifier.summaries[0].Count != 2 {
		t.Errorf("期望 1 次汇总通知，实际 %+v", env.notifier.summaries)
	}
	if u := env.reload(t, due.UserID); u.LastReminderSent == nil || !u.LastReminderSent.Equal(reminderNow) {
		t.Errorf("应记录提醒时间，实际 %v", u.LastReminderSent)
	}

	// 冷却期内再次运行不重复发送
	again, err := svc.SendWeekly(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Sent != 0 {
		t.Errorf("冷却期内不应再次发送，实际 %d", again.Sent)
	}
}

func TestReminderService_SendWeekly_NotifierFailure(t *testing.T) {
	svc, env := setupTestReminderService(t)
	ctx := context.Background()
	u := env.user(t, model.RoleStudent)
	m := env.module(t, model.VisibilityActive)
	if _, err := newTestSelectionService(env, "unrestricted").Select(ctx, u.UserID, m.ModuleID); err != nil {
		t.Fatal(err)
	}
	env.notifier.err = errors.New("smtp down")

	resp, err := svc.SendWeekly(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Sent != 0 || resp.Skipped != 1 {
		t.Errorf("发送失败应计入跳过，实际 %+v", resp)
	}
	if env.reload(t, u.UserID).LastReminderSent != nil {
		t.Error("发送失败不应记录提醒时间")
	}
}

func TestReminderService_SendWeekly_StampFailureKeepsGoing(t *testing.T) {
	svc, env := setupTestReminderService(t)
	ctx := context.Background()
	sel := newTestSelectionService(env, "unrestricted")
	m := env.module(t, model.VisibilityActive)
	users := []*model.User{env.user(t, model.RoleReviewer), env.user(t, model.RoleStudent)}
	for _, u := range users {
		if _, err := sel.Select(ctx, u.UserID, m.ModuleID); err != nil {
			t.Fatal(err)
		}
	}

	// 只让写 last_reminder_sent 的更新失败
	err := env.db.Callback().Update().Before("gorm:update").Register("test:fail_reminder_stamp", func(db *gorm.DB) {
		if cols, ok := db.Statement.Dest.(map[string]interface{}); ok {
			if _, hit := cols["last_reminder_sent"]; hit {
				_ = db.AddError(errors.New("disk full"))
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := svc.SendWeekly(ctx)
	if err != nil {
		t.Fatalf("记录时间失败不应中断整轮发送: %v", err)
	}
	if resp.Sent != 2 || len(env.notifier.reminders) != 2 {
		t.Errorf("期望两名用户都收到提醒，实际 sent=%d reminders=%d", resp.Sent, len(env.notifier.reminders))
	}
	if len(env.notifier.summaries) != 1 || env.notifier.summaries[0].Count != 2 {
		t.Errorf("汇总通知仍应发出: %+v", env.notifier.summaries)
	}
	for _, u := range users {
		if env.reload(t, u.UserID).LastReminderSent != nil {
			t.Error("写入失败时不应有提醒时间")
		}
	}
}
