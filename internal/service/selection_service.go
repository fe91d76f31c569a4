package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/policy"
	"review-portal/backend/internal/repository"
)

// ── 选课台账业务错误 ──

var (
	ErrModuleNotFound        = errors.New("module not found")
	ErrModuleAccessDenied    = errors.New("access denied")
	ErrAlreadySelected       = errors.New("you have already selected this module")
	ErrSelectionLimitReached = errors.New("module selection limit reached")
	ErrModuleFull            = errors.New("this module has reached maximum capacity")
	ErrModuleNotSelected     = errors.New("module not selected")
	ErrReleaseBlocked        = errors.New("module cannot be released yet")
	ErrSwapSameModule        = errors.New("release and select modules must differ")
)

// LimitReachedError 持有数已达角色上限，携带上限值
type LimitReachedError struct {
	Limit int
}

func (e *LimitReachedError) Error() string { return policy.LimitMessage(e.Limit) }

// Is 使 errors.Is(err, ErrSelectionLimitReached) 成立
func (e *LimitReachedError) Is(target error) bool { return target == ErrSelectionLimitReached }

// ModuleFullError 模块对该角色已满
type ModuleFullError struct {
	Role string
}

func (e *ModuleFullError) Error() string {
	return fmt.Sprintf("This module has reached maximum %s capacity.", e.Role)
}

// Is 使 errors.Is(err, ErrModuleFull) 成立
func (e *ModuleFullError) Is(target error) bool { return target == ErrModuleFull }

// ReleaseBlockedError 释放前置条件不满足，Reason 为面向用户的提示
type ReleaseBlockedError struct {
	Reason string
}

func (e *ReleaseBlockedError) Error() string { return e.Reason }

// Is 使 errors.Is(err, ErrReleaseBlocked) 成立
func (e *ReleaseBlockedError) Is(target error) bool { return target == ErrReleaseBlocked }

// SelectionService 选课台账业务接口
type SelectionService interface {
	Select(ctx context.Context, userID, moduleID string) (*dto.SelectionResponse, error)
	Switch(ctx context.Context, userID, moduleID string) (*dto.SelectionResponse, error)
	Release(ctx context.Context, userID, moduleID string) error
	Swap(ctx context.Context, userID, releaseModuleID, selectModuleID string) (*dto.SelectionResponse, error)
	ListMine(ctx context.Context, userID string) ([]dto.SelectionResponse, error)
}

// SelectionConfig 台账规则配置
type SelectionConfig struct {
	Limits        policy.Limits
	ReleasePolicy string
}

type selectionService struct {
	repo     *repository.Repository
	cfg      SelectionConfig
	notifier Notifier
	cache    Cache
	logger   *zap.Logger
	now      func() time.Time
}

// NewSelectionService 创建 SelectionService 实例；cache 可为 nil
func NewSelectionService(repo *repository.Repository, cfg SelectionConfig, notifier Notifier, cache Cache, logger *zap.Logger) SelectionService {
	if cfg.Limits == nil {
		cfg.Limits = policy.DefaultLimits()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &selectionService{
		repo:     repo,
		cfg:      cfg,
		notifier: notifier,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// ────────────────────── Select ──────────────────────

func (s *selectionService) Select(ctx context.Context, userID, moduleID string) (*dto.SelectionResponse, error) {
	var (
		user   *model.User
		module *model.Module
		sel    *model.UserModuleSelection
	)

	err := s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		var err error
		user, module, err = s.lockUserAndModule(ctx, tx, userID, moduleID)
		if err != nil {
			return err
		}
		if err := s.checkSelectable(ctx, tx, user, module); err != nil {
			return err
		}

		held, err := tx.Selection.CountByUser(ctx, user.UserID)
		if err != nil {
			return err
		}
		if limit := s.cfg.Limits.MaxFor(user.Role); held >= int64(limit) {
			return &LimitReachedError{Limit: limit}
		}

		sel, err = s.insertActive(ctx, tx, user, module)
		return err
	})
	if err != nil {
		return nil, s.logLedgerError("选课", userID, moduleID, err)
	}

	s.afterSelect(ctx, user, module, sel)
	return toSelectionResponse(sel, module), nil
}

// ────────────────────── Switch ──────────────────────

func (s *selectionService) Switch(ctx context.Context, userID, moduleID string) (*dto.SelectionResponse, error) {
	var (
		sel    *model.UserModuleSelection
		module *model.Module
	)

	err := s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		if _, err := tx.User.GetByIDForUpdate(ctx, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var err error
		sel, err = tx.Selection.GetByUserAndModule(ctx, userID, moduleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrModuleNotSelected
			}
			return err
		}
		module, err = tx.Module.GetByID(ctx, moduleID)
		if err != nil {
			return err
		}

		if err := tx.Selection.DeactivateAll(ctx, userID); err != nil {
			return err
		}
		if err := tx.Selection.Activate(ctx, sel.SelectionID); err != nil {
			return err
		}
		sel.IsActive = true
		return tx.User.SetSelectionPointer(ctx, userID, &sel.ModuleID, &sel.SelectedAt)
	})
	if err != nil {
		return nil, s.logLedgerError("切换模块", userID, moduleID, err)
	}

	return toSelectionResponse(sel, module), nil
}

// ────────────────────── Release ──────────────────────

func (s *selectionService) Release(ctx context.Context, userID, moduleID string) error {
	err := s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		if _, err := tx.User.GetByIDForUpdate(ctx, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := s.releaseHeld(ctx, tx, userID, moduleID); err != nil {
			return err
		}
		return restoreActiveSelection(ctx, tx, userID)
	})
	if err != nil {
		return s.logLedgerError("释放模块", userID, moduleID, err)
	}

	s.invalidateStats(ctx)
	s.logger.Info("模块已释放", zap.String("user_id", userID), zap.String("module_id", moduleID))
	return nil
}

// ────────────────────── Swap ──────────────────────

// Swap 原子地释放 releaseModuleID 并选择 selectModuleID；不做持有数上限检查
func (s *selectionService) Swap(ctx context.Context, userID, releaseModuleID, selectModuleID string) (*dto.SelectionResponse, error) {
	if releaseModuleID == selectModuleID {
		return nil, ErrSwapSameModule
	}

	var (
		user   *model.User
		module *model.Module
		sel    *model.UserModuleSelection
	)

	err := s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		var err error
		user, module, err = s.lockUserAndModule(ctx, tx, userID, selectModuleID)
		if err != nil {
			return err
		}
		// 容量按换课前的状态检查：用户此时尚未持有目标模块
		if err := s.checkSelectable(ctx, tx, user, module); err != nil {
			return err
		}
		if err := s.releaseHeld(ctx, tx, userID, releaseModuleID); err != nil {
			return err
		}

		sel, err = s.insertActive(ctx, tx, user, module)
		return err
	})
	if err != nil {
		return nil, s.logLedgerError("换课", userID, selectModuleID, err)
	}

	s.afterSelect(ctx, user, module, sel)
	return toSelectionResponse(sel, module), nil
}

// ────────────────────── ListMine ──────────────────────

func (s *selectionService) ListMine(ctx context.Context, userID string) ([]dto.SelectionResponse, error) {
	sels, err := s.repo.Selection.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询选课记录失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	result := make([]dto.SelectionResponse, 0, len(sels))
	for i := range sels {
		result = append(result, *toSelectionResponse(&sels[i], sels[i].Module))
	}
	return result, nil
}

// ── 内部辅助方法 ──

// lockUserAndModule 固定按 用户 → 模块 的顺序加行锁
func (s *selectionService) lockUserAndModule(ctx context.Context, tx *repository.Repository, userID, moduleID string) (*model.User, *model.Module, error) {
	user, err := tx.User.GetByIDForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}
	module, err := tx.Module.GetByIDForUpdate(ctx, moduleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrModuleNotFound
		}
		return nil, nil, err
	}
	return user, module, nil
}

// checkSelectable 可见性、重复选择与容量检查
func (s *selectionService) checkSelectable(ctx context.Context, tx *repository.Repository, user *model.User, module *model.Module) error {
	if !policy.CanView(user.Role, module.Visibility) {
		return ErrModuleAccessDenied
	}

	if _, err := tx.Selection.GetByUserAndModule(ctx, user.UserID, module.ModuleID); err == nil {
		return ErrAlreadySelected
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	limit := policy.CapacityFor(user.Role, module)
	if limit == nil {
		return nil
	}
	current, err := tx.Selection.CountHoldersByRole(ctx, module.ModuleID, user.Role)
	if err != nil {
		return err
	}
	if !policy.HasCapacity(limit, current) {
		return &ModuleFullError{Role: user.Role}
	}
	return nil
}

// insertActive 停用其余记录，插入新的激活记录并同步冗余指针
func (s *selectionService) insertActive(ctx context.Context, tx *repository.Repository, user *model.User, module *model.Module) (*model.UserModuleSelection, error) {
	if err := tx.Selection.DeactivateAll(ctx, user.UserID); err != nil {
		return nil, err
	}

	now := s.now()
	sel := &model.UserModuleSelection{
		UserID:              user.UserID,
		ModuleID:            module.ModuleID,
		SelectedAt:          now,
		LastNotifiedVersion: module.DriveModifiedTime,
		IsActive:            true,
	}
	if err := tx.Selection.Create(ctx, sel); err != nil {
		return nil, err
	}
	if err := tx.User.SetSelectionPointer(ctx, user.UserID, &module.ModuleID, &now); err != nil {
		return nil, err
	}
	return sel, nil
}

// releaseHeld 校验释放前置条件后删除持有记录
func (s *selectionService) releaseHeld(ctx context.Context, tx *repository.Repository, userID, moduleID string) error {
	sel, err := tx.Selection.GetByUserAndModule(ctx, userID, moduleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrModuleNotSelected
		}
		return err
	}

	var facts policy.ReleaseFacts
	switch s.cfg.ReleasePolicy {
	case policy.ReleaseUnrestricted:
	case policy.ReleaseNoSubmissions:
		if facts.HasSubmission, err = tx.Submission.Exists(ctx, userID, moduleID, ""); err != nil {
			return err
		}
	default:
		if facts.HasHomework, err = tx.Submission.Exists(ctx, userID, moduleID, model.SubmissionHomework); err != nil {
			return err
		}
	}
	if ok, reason := policy.ReleaseCheck(s.cfg.ReleasePolicy, facts); !ok {
		return &ReleaseBlockedError{Reason: reason}
	}

	return tx.Selection.Delete(ctx, sel.SelectionID)
}

// restoreActiveSelection 恢复“恰好一条激活”：
// 仍有激活记录则保留，否则激活 selected_at 最早的一条；无剩余记录时清空冗余指针
func restoreActiveSelection(ctx context.Context, tx *repository.Repository, userID string) error {
	remaining, err := tx.Selection.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return tx.User.SetSelectionPointer(ctx, userID, nil, nil)
	}

	for i := range remaining {
		if remaining[i].IsActive {
			return tx.User.SetSelectionPointer(ctx, userID, &remaining[i].ModuleID, &remaining[i].SelectedAt)
		}
	}
	first := &remaining[0]
	if err := tx.Selection.Activate(ctx, first.SelectionID); err != nil {
		return err
	}
	return tx.User.SetSelectionPointer(ctx, userID, &first.ModuleID, &first.SelectedAt)
}

// afterSelect 事务提交后的通知与缓存失效，失败不影响结果
func (s *selectionService) afterSelect(ctx context.Context, user *model.User, module *model.Module, sel *model.UserModuleSelection) {
	s.invalidateStats(ctx)
	s.logger.Info("模块已选择",
		zap.String("user_id", user.UserID),
		zap.String("module_id", module.ModuleID),
		zap.String("role", user.Role),
	)

	ev := ModuleSelectedEvent{
		UserID:     user.UserID,
		UserName:   user.DisplayName(),
		UserEmail:  user.Email,
		Role:       user.Role,
		ModuleID:   module.ModuleID,
		ModuleName: module.Name,
		SelectedAt: sel.SelectedAt,
	}
	if err := s.notifier.ModuleSelected(ctx, ev); err != nil {
		s.logger.Warn("选课通知发送失败", zap.String("module_id", module.ModuleID), zap.Error(err))
	}
}

func (s *selectionService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKeyAdminStats); err != nil {
		s.logger.Warn("清除统计缓存失败", zap.Error(err))
	}
}

// logLedgerError 业务拒绝原样返回，基础设施错误记录日志
func (s *selectionService) logLedgerError(op, userID, moduleID string, err error) error {
	if isLedgerDenial(err) {
		return err
	}
	s.logger.Error(op+"失败",
		zap.String("user_id", userID),
		zap.String("module_id", moduleID),
		zap.Error(err),
	)
	return err
}

func isLedgerDenial(err error) bool {
	for _, target := range []error{
		ErrUserNotFound,
		ErrModuleNotFound,
		ErrModuleAccessDenied,
		ErrAlreadySelected,
		ErrSelectionLimitReached,
		ErrModuleFull,
		ErrModuleNotSelected,
		ErrReleaseBlocked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func toSelectionResponse(sel *model.UserModuleSelection, module *model.Module) *dto.SelectionResponse {
	resp := &dto.SelectionResponse{
		SelectionID: sel.SelectionID,
		ModuleID:    sel.ModuleID,
		SelectedAt:  sel.SelectedAt.Format(dto.TimeLayout),
		IsActive:    sel.IsActive,
	}
	if module != nil {
		resp.ModuleName = module.Name
		resp.WeekNumber = module.WeekNumber
		resp.Visibility = module.Visibility
		resp.PDFUpdated = sel.PDFUpdated(module)
	}
	return resp
}
