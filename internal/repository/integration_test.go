//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	pkgerrors "review-portal/backend/pkg/errors"

	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/database"
)

// ═══════════════════════════════════════════════════════════
// Test Setup
// ═══════════════════════════════════════════════════════════

var testDB *gorm.DB

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5433 user=portal password=portal_password dbname=review_portal_test sslmode=disable TimeZone=UTC"
	}

	var err error
	testDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法连接测试数据库: %v\n", err)
		os.Exit(1)
	}

	// 执行 SQL 迁移（含部分唯一索引等 AutoMigrate 无法表达的约束）
	if err := database.Migrate(testDB, model.All(), zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "迁移失败: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Exit(code)
}

// setupTestData 创建一个用户和一个模块，返回清理函数
func setupTestData(t *testing.T) (user *model.User, module *model.Module, cleanup func()) {
	t.Helper()
	ctx := context.Background()
	n := time.Now().UnixNano()

	user = &model.User{
		GoogleID:        fmt.Sprintf("g-%d", n),
		Email:           fmt.Sprintf("user-%d@example.com", n),
		Name:            "测试用户",
		Role:            model.RoleReviewer,
		ReminderEnabled: true,
	}
	if err := testDB.WithContext(ctx).Create(user).Error; err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}

	module = newModule(t, fmt.Sprintf("Module %d", n))

	cleanup = func() {
		testDB.Where("user_id = ?", user.UserID).Delete(&model.UserModuleSelection{})
		testDB.Unscoped().Where("user_id = ?", user.UserID).Delete(&model.User{})
		testDB.Where("module_id = ?", module.ModuleID).Delete(&model.Module{})
	}
	return
}

func newModule(t *testing.T, name string) *model.Module {
	t.Helper()
	m := &model.Module{
		Name:        name,
		WeekNumber:  1,
		Visibility:  model.VisibilityActive,
		DriveFileID: "drive-" + name,
		MaxPoints:   100,
	}
	m.Version = 1
	if err := testDB.Create(m).Error; err != nil {
		t.Fatalf("创建模块失败: %v", err)
	}
	return m
}

// ═══════════════════════════════════════════════════════════
// Test: Transaction
// ═══════════════════════════════════════════════════════════

func TestTransaction_Rollback(t *testing.T) {
	user, module, cleanup := setupTestData(t)
	defer cleanup()

	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := repo.RunInTx(ctx, func(tx *repository.Repository) error {
		if err := tx.Selection.Create(ctx, &model.UserModuleSelection{
			UserID:     user.UserID,
			ModuleID:   module.ModuleID,
			SelectedAt: time.Now(),
			IsActive:   true,
		}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("期望返回 fn 的错误，实际: %v", err)
	}

	// 验证数据未持久化
	if _, err := repo.Selection.GetByUserAndModule(ctx, user.UserID, module.ModuleID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("期望回滚后查不到选课记录，实际: %v", err)
	}
}

func TestTransaction_Commit(t *testing.T) {
	user, module, cleanup := setupTestData(t)
	defer cleanup()

	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx 失败: %v", err)
	}
	txRepo := repo.WithTx(tx)

	now := time.Now()
	sel := &model.UserModuleSelection{UserID: user.UserID, ModuleID: module.ModuleID, SelectedAt: now, IsActive: true}
	if err := txRepo.Selection.Create(ctx, sel); err != nil {
		tx.Rollback()
		t.Fatalf("事务内创建选课失败: %v", err)
	}
	if err := txRepo.User.SetSelectionPointer(ctx, user.UserID, &module.ModuleID, &now); err != nil {
		tx.Rollback()
		t.Fatalf("事务内更新指针失败: %v", err)
	}

	// 提交事务
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("Commit 失败: %v", err)
	}

	found, err := repo.Selection.GetByUserAndModule(ctx, user.UserID, module.ModuleID)
	if err != nil {
		t.Fatalf("提交后查询选课失败: %v", err)
	}
	if found.SelectionID != sel.SelectionID || !found.IsActive {
		t.Errorf("选课记录不符: %+v", found)
	}
	u, _ := repo.User.GetByID(ctx, user.UserID)
	if u.SelectedModuleID == nil || *u.SelectedModuleID != module.ModuleID {
		t.Errorf("users.selected_module_id 未同步: %v", u.SelectedModuleID)
	}
}

// ═══════════════════════════════════════════════════════════
// Test: Optimistic Lock
// ═══════════════════════════════════════════════════════════

func TestOptimisticLock_Module_ConflictDetected(t *testing.T) {
	_, module, cleanup := setupTestData(t)
	defer cleanup()

	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	// 模拟并发：获取两份副本
	copy1, _ := repo.Module.GetByID(ctx, module.ModuleID)
	copy2, _ := repo.Module.GetByID(ctx, module.ModuleID)

	copy1.Name = "first writer"
	if err := repo.Module.UpdateWithVersion(ctx, copy1); err != nil {
		t.Fatalf("第一次更新应成功: %v", err)
	}

	// 第二次更新应失败（version 已过期）
	copy2.Name = "second writer"
	err := repo.Module.UpdateWithVersion(ctx, copy2)
	if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Fatalf("期望 ErrOptimisticLock，得到: %v", err)
	}
	if copy2.Version != 1 {
		t.Errorf("冲突后副本版本号应回退为 1，实际 %d", copy2.Version)
	}
}

func TestOptimisticLock_VersionIncrement(t *testing.T) {
	_, module, cleanup := setupTestData(t)
	defer cleanup()

	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		m, _ := repo.Module.GetByID(ctx, module.ModuleID)
		m.ShortDescription = fmt.Sprintf("rev %d", i)
		if err := repo.Module.UpdateWithVersion(ctx, m); err != nil {
			t.Fatalf("第 %d 次更新失败: %v", i, err)
		}
	}

	final, _ := repo.Module.GetByID(ctx, module.ModuleID)
	if final.Version != 4 {
		t.Errorf("期望 version=4，实际 %d", final.Version)
	}
	if final.ShortDescription != "rev 3" {
		t.Errorf("期望最后一次写入生效，实际 %q", final.ShortDescription)
	}
}

// ═══════════════════════════════════════════════════════════
// Test: Ledger Constraints
// ═══════════════════════════════════════════════════════════

func TestUniqueActiveSelectionPerUser(t *testing.T) {
	user, first, cleanup := setupTestData(t)
	defer cleanup()
	second := newModule(t, fmt.Sprintf("Second %d", time.Now().UnixNano()))
	defer testDB.Where("module_id = ?", second.ModuleID).Delete(&model.Module{})

	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	if err := repo.Selection.Create(ctx, &model.UserModuleSelection{
		UserID: user.UserID, ModuleID: first.ModuleID, SelectedAt: time.Now(), IsActive: true,
	}); err != nil {
		t.Fatalf("创建第一条激活记录失败: %v", err)
	}

	// 同一用户第二条激活记录违反部分唯一索引
	err := repo.Selection.Create(ctx, &model.UserModuleSelection{
		UserID: user.UserID, ModuleID: second.ModuleID, SelectedAt: time.Now(), IsActive: true,
	})
	if err == nil {
		t.Fatal("期望违反 uq_user_active_selection，但创建成功了")
	}

	// 非激活记录不受限制
	if err := repo.Selection.Create(ctx, &model.UserModuleSelection{
		UserID: user.UserID, ModuleID: second.ModuleID, SelectedAt: time.Now(),
	}); err != nil {
		t.Fatalf("创建非激活记录失败: %v", err)
	}

	// 重复持有同一模块违反 (user_id, module_id) 唯一约束
	if err := repo.Selection.Create(ctx, &model.UserModuleSelection{
		UserID: user.UserID, ModuleID: first.ModuleID, SelectedAt: time.Now(),
	}); err == nil {
		t.Fatal("期望违反 uq_user_module_selection，但创建成功了")
	}
}

func TestSelection_HolderCountsByRole(t *testing.T) {
	user, module, cleanup := setupTestData(t)
	defer cleanup()

	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	if err := repo.Selection.Create(ctx, &model.UserModuleSelection{
		UserID: user.UserID, ModuleID: module.ModuleID, SelectedAt: time.Now(), IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}

	n, err := repo.Selection.CountHoldersByRole(ctx, module.ModuleID, model.RoleReviewer)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("期望 1 名评审持有，实际 %d", n)
	}
	if n, _ := repo.Selection.CountHoldersByRole(ctx, module.ModuleID, model.RoleStudent); n != 0 {
		t.Errorf("期望 0 名学生持有，实际 %d", n)
	}

	rows, err := repo.Selection.HolderCounts(ctx, []string{module.ModuleID})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Role != model.RoleReviewer || rows[0].Count != 1 {
		t.Errorf("批量统计不符: %+v", rows)
	}
}

func TestModule_DeleteClearsPointer(t *testing.T) {
	user, module, cleanup := setupTestData(t)
	defer cleanup()

	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	now := time.Now()
	if err := repo.User.SetSelectionPointer(ctx, user.UserID, &module.ModuleID, &now); err != nil {
		t.Fatal(err)
	}
	if err := repo.User.ClearSelectionPointerByModule(ctx, module.ModuleID); err != nil {
		t.Fatal(err)
	}
	if err := repo.Module.Delete(ctx, module.ModuleID); err != nil {
		t.Fatal(err)
	}

	u, _ := repo.User.GetByID(ctx, user.UserID)
	if u.SelectedModuleID != nil || u.SelectedAt != nil {
		t.Errorf("模块删除后指针应清空: %v %v", u.SelectedModuleID, u.SelectedAt)
	}
	if _, err := repo.Module.GetByID(ctx, module.ModuleID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("期望模块已删除，实际: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════
// Test: Capacity Race
// ═══════════════════════════════════════════════════════════

// 多名评审并发抢占同一模块的最后名额，行锁保证持有人数不超过上限
func TestSelect_ConcurrentCapacityRace(t *testing.T) {
	ctx := context.Background()
	n := time.Now().UnixNano()
	limit := 2
	module := newModule(t, fmt.Sprintf("Race %d", n))
	testDB.Model(module).Update("max_reviewers", limit)

	const contenders = 8
	users := make([]*model.User, contenders)
	for i := range users {
		users[i] = &model.User{
			GoogleID:        fmt.Sprintf("race-%d-%d", n, i),
			Email:           fmt.Sprintf("race-%d-%d@example.com", n, i),
			Name:            "并发评审",
			Role:            model.RoleReviewer,
			ReminderEnabled: true,
		}
		if err := testDB.Create(users[i]).Error; err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		testDB.Where("module_id = ?", module.ModuleID).Delete(&model.UserModuleSelection{})
		for _, u := range users {
			testDB.Unscoped().Where("user_id = ?", u.UserID).Delete(&model.User{})
		}
		testDB.Where("module_id = ?", module.ModuleID).Delete(&model.Module{})
	}()

	svc := service.NewSelectionService(repository.NewRepository(testDB), service.SelectionConfig{
		ReleasePolicy: "unrestricted",
	}, nil, nil, zap.NewNop())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		full int
	)
	start := make(chan struct{})
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			<-start
			_, err := svc.Select(ctx, userID, module.ModuleID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, service.ErrModuleFull):
				full++
			default:
				t.Errorf("意外错误: %v", err)
			}
		}(u.UserID)
	}
	close(start)
	wg.Wait()

	if ok != limit || full != contenders-limit {
		t.Errorf("期望成功 %d 拒绝 %d，实际成功 %d 拒绝 %d", limit, contenders-limit, ok, full)
	}
	held, err := repository.NewRepository(testDB).Selection.CountHoldersByRole(ctx, module.ModuleID, model.RoleReviewer)
	if err != nil {
		t.Fatal(err)
	}
	if held != int64(limit) {
		t.Errorf("模块持有人数应为 %d，实际 %d", limit, held)
	}
}
