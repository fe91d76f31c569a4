package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"review-portal/backend/internal/model"
	"review-portal/backend/internal/policy"
)

// jsonCache 以 JSON 存储的内存缓存，用于验证统计缓存命中
type jsonCache struct {
	mu    sync.Mutex
	items map[string][]byte
	sets  int
}

func (c *jsonCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *jsonCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.items == nil {
		c.items = make(map[string][]byte)
	}
	c.items[key] = raw
	c.sets++
	return nil
}

func (c *jsonCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func setupTestDashboardService(t *testing.T, cache Cache) (*dashboardService, *testEnv) {
	env := newTestEnv(t)
	svc := NewDashboardService(env.repo, policy.DefaultLimits(), cache, zap.NewNop()).(*dashboardService)
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc, env
}

func TestDashboardService_Reviewer(t *testing.T) {
	svc, env := setupTestDashboardService(t, nil)
	ctx := context.Background()

	u := env.user(t, model.RoleReviewer)
	first := env.module(t, model.VisibilityActive)
	second := env.module(t, model.VisibilityPilotReview)
	sel := newTestSelectionService(env, "unrestricted")
	for _, m := range []*model.Module{first, second} {
		if _, err := sel.Select(ctx, u.UserID, m.ModuleID); err != nil {
			t.Fatal(err)
		}
	}
	env.submission(t, u.UserID, first.ModuleID, model.SubmissionInClass)

	resp, err := svc.Reviewer(ctx, u.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.MaxModules != 2 || len(resp.Selections) != 2 {
		t.Fatalf("工作台概要不符: max=%d selections=%d", resp.MaxModules, len(resp.Selections))
	}
	for _, s := range resp.Selections {
		switch s.ModuleID {
		case first.ModuleID:
			if s.IsActive || s.InClassStatus != model.SubmissionStatusSubmitted || s.HomeworkStatus != model.SubmissionStatusNotStarted {
				t.Errorf("first 状态不符: %+v", s)
			}
		case second.ModuleID:
			if !s.IsActive {
				t.Error("最近选择的模块应为激活")
			}
		}
	}

	if _, err := svc.Reviewer(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("期望 ErrUserNotFound，实际: %v", err)
	}
}

func TestDashboardService_Student_UnlockAndProgress(t *testing.T) {
	svc, env := setupTestDashboardService(t, nil)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	course := &model.Course{Name: "Go", Code: "GO1", StartDate: &start, IsActive: true}
	if err := env.db.Create(course).Error; err != nil {
		t.Fatal(err)
	}
	empty := &model.Course{Name: "Empty", Code: "EMPTY", IsActive: true}
	if err := env.db.Create(empty).Error; err != nil {
		t.Fatal(err)
	}

	week1 := env.module(t, model.VisibilityActive, func(m *model.Module) { m.CourseID = &course.CourseID; m.WeekNumber = 1 })
	env.module(t, model.VisibilityActive, func(m *model.Module) { m.CourseID = &course.CourseID; m.WeekNumber = 3 })
	env.module(t, model.VisibilityDraft, func(m *model.Module) { m.CourseID = &course.CourseID; m.WeekNumber = 2 })

	u := env.user(t, model.RoleStudent)
	hw := env.submission(t, u.UserID, week1.ModuleID, model.SubmissionHomework)
	points := 80.0
	if err := env.repo.Grade.Save(ctx, &model.Grade{SubmissionID: hw.SubmissionID, TotalPoints: &points, Status: model.GradeStatusCompleted}); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.Student(ctx, u.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Courses) != 1 {
		t.Fatalf("无 active 模块的课程不应出现，实际 %d 门", len(resp.Courses))
	}
	item := resp.Courses[0]
	if item.Course.CurrentWeek != 2 || len(item.Modules) != 2 {
		t.Fatalf("课程概要不符: week=%d modules=%d", item.Course.CurrentWeek, len(item.Modules))
	}
	for _, m := range item.Modules {
		switch m.WeekNumber {
		case 1:
			if !m.Unlocked || m.Progress != 1 || m.Total != 2 || m.HomeworkStatus != model.SubmissionStatusGraded {
				t.Errorf("第 1 周状态不符: %+v", m)
			}
		case 3:
			if m.Unlocked {
				t.Error("第 3 周尚未解锁")
			}
		}
	}
}

func TestDashboardService_AdminStats_Cached(t *testing.T) {
	cache := &jsonCache{}
	svc, env := setupTestDashboardService(t, cache)
	ctx := context.Background()

	env.user(t, model.RoleAdmin)
	reviewer := env.user(t, model.RoleReviewer)
	student := env.user(t, model.RoleStudent)
	m := env.module(t, model.VisibilityActive)
	env.module(t, model.VisibilityDraft)
	sel := newTestSelectionService(env, "unrestricted")
	for _, u := range []*model.User{reviewer, student} {
		if _, err := sel.Select(ctx, u.UserID, m.ModuleID); err != nil {
			t.Fatal(err)
		}
	}
	env.submission(t, student.UserID, m.ModuleID, model.SubmissionHomework)

	stats, err := svc.AdminStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalUsers != 3 || stats.UsersByRole[model.RoleStudent] != 1 {
		t.Errorf("用户统计不符: %+v", stats.UsersByRole)
	}
	if stats.TotalModules != 2 || stats.ActiveModules != 1 || stats.TotalSubmissions != 1 {
		t.Errorf("模块/提交统计不符: %+v", stats)
	}
	for _, ms := range stats.Modules {
		if ms.ModuleID == m.ModuleID && (ms.ReviewerCount != 1 || ms.StudentCount != 1 || ms.SubmissionCount != 1) {
			t.Errorf("模块持有统计不符: %+v", ms)
		}
	}
	if len(stats.RecentSubmissions) != 1 || stats.RecentSubmissions[0].UserEmail != student.Email {
		t.Errorf("最近提交不符: %+v", stats.RecentSubmissions)
	}

	// 第二次读取命中缓存，新增数据不可见
	env.user(t, model.RoleStudent)
	cached, err := svc.AdminStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cached.TotalUsers != 3 || cache.sets != 1 {
		t.Errorf("期望命中缓存，实际 total=%d sets=%d", cached.TotalUsers, cache.sets)
	}

	// 缓存失效后重新统计
	_ = cache.Delete(ctx, cacheKeyAdminStats)
	fresh, err := svc.AdminStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.TotalUsers != 4 {
		t.Errorf("失效后应重新统计，实际 %d", fresh.TotalUsers)
	}
}
