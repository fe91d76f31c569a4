package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/config"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
	"review-portal/backend/pkg/database"
)

// ── 测试环境：内存 SQLite + 真实 Repository ──

type testEnv struct {
	db       *gorm.DB
	repo     *repository.Repository
	notifier *recordingNotifier
	seq      int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewDB(&config.DatabaseConfig{Driver: "sqlite", SQLitePath: ":memory:"}, "silent", zap.NewNop())
	if err != nil {
		t.Fatalf("打开 SQLite 失败: %v", err)
	}
	if err := database.Migrate(db, model.All(), zap.NewNop()); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &testEnv{db: db, repo: repository.NewRepository(db), notifier: &recordingNotifier{}}
}

func (e *testEnv) next() int {
	e.seq++
	return e.seq
}

func (e *testEnv) user(t *testing.T, role string) *model.User {
	t.Helper()
	n := e.next()
	accepted := time.Now()
	u := &model.User{
		GoogleID:        fmt.Sprintf("google-%d", n),
		Email:           fmt.Sprintf("user%d@example.com", n),
		Name:            fmt.Sprintf("User %d", n),
		Role:            role,
		AcceptedTermsAt: &accepted,
		ReminderEnabled: true,
	}
	if err := e.db.Create(u).Error; err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}
	return u
}

func (e *testEnv) module(t *testing.T, visibility string, opts ...func(*model.Module)) *model.Module {
	t.Helper()
	n := e.next()
	m := &model.Module{
		Name:        fmt.Sprintf("Module %d", n),
		WeekNumber:  n,
		Visibility:  visibility,
		DriveFileID: fmt.Sprintf("drive-%d", n),
		MaxPoints:   100,
	}
	m.Version = 1
	for _, opt := range opts {
		opt(m)
	}
	if err := e.db.Create(m).Error; err != nil {
		t.Fatalf("创建模块失败: %v", err)
	}
	return m
}

func (e *testEnv) submission(t *testing.T, userID, moduleID, typ string) *model.Submission {
	t.Helper()
	s := &model.Submission{
		UserID:         userID,
		ModuleID:       moduleID,
		SubmissionType: typ,
		GithubLink:     "https://github.com/acme/" + typ,
		SubmittedAt:    time.Now(),
	}
	if err := e.db.Create(s).Error; err != nil {
		t.Fatalf("创建提交失败: %v", err)
	}
	return s
}

func (e *testEnv) reload(t *testing.T, userID string) *model.User {
	t.Helper()
	var u model.User
	if err := e.db.First(&u, "user_id = ?", userID).Error; err != nil {
		t.Fatalf("查询用户失败: %v", err)
	}
	return &u
}

func (e *testEnv) held(t *testing.T, userID string) []model.UserModuleSelection {
	t.Helper()
	sels, err := e.repo.Selection.ListByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("查询台账失败: %v", err)
	}
	return sels
}

// assertLedger 校验台账一致性：持有记录时恰好一条激活，且与 users 冗余指针一致
func (e *testEnv) assertLedger(t *testing.T, userID, wantActive string) {
	t.Helper()
	sels := e.held(t, userID)
	user := e.reload(t, userID)

	active := ""
	count := 0
	for _, s := range sels {
		if s.IsActive {
			active = s.ModuleID
			count++
		}
	}
	if len(sels) > 0 && count != 1 {
		t.Fatalf("期望恰好一条激活记录，实际 %d 条", count)
	}
	if active != wantActive {
		t.Fatalf("期望激活模块 %q，实际 %q", wantActive, active)
	}

	pointer := ""
	if user.SelectedModuleID != nil {
		pointer = *user.SelectedModuleID
	}
	if pointer != wantActive {
		t.Fatalf("users.selected_module_id=%q 与激活记录 %q 不一致", pointer, wantActive)
	}
	if wantActive == "" && user.SelectedAt != nil {
		t.Fatal("无持有记录时 selected_at 应为空")
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// stepClock 每次调用前进一分钟
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Minute)
		return cur
	}
}

// ── recordingNotifier ──

type recordingNotifier struct {
	mu          sync.Mutex
	selected    []ModuleSelectedEvent
	submissions []SubmissionEvent
	pdf         []PDFUpdatedEvent
	reminders   []ReminderEvent
	summaries   []RemindersSentEvent
	err         error
}

func (n *recordingNotifier) ModuleSelected(_ context.Context, ev ModuleSelectedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selected = append(n.selected, ev)
	return n.err
}

func (n *recordingNotifier) SubmissionReceived(_ context.Context, ev SubmissionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submissions = append(n.submissions, ev)
	return n.err
}

func (n *recordingNotifier) PDFUpdated(_ context.Context, ev PDFUpdatedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pdf = append(n.pdf, ev)
	return n.err
}

func (n *recordingNotifier) Reminder(_ context.Context, ev ReminderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, ev)
	return n.err
}

func (n *recordingNotifier) RemindersSent(_ context.Context, ev RemindersSentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, ev)
	return n.err
}

// ── memCache ──

type memCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *memCache) GetJSON(context.Context, string, interface{}) (bool, error) { return false, nil }

func (c *memCache) SetJSON(context.Context, string, interface{}, time.Duration) error { return nil }

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, keys...)
	return nil
}
