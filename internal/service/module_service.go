package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/policy"
	"review-portal/backend/internal/repository"
	"review-portal/backend/pkg/drive"
	pkgerrors "review-portal/backend/pkg/errors"
)

// ── 模块目录业务错误 ──

var (
	ErrModuleNotHeld     = errors.New("you must select this module first")
	ErrDriveUnavailable  = errors.New("module materials are temporarily unavailable")
	ErrModuleFileMissing = errors.New("module material file not found")
)

// defaultMaxReviewers 创建模块未指定评审容量时的默认值
const defaultMaxReviewers = 10

// DriveSource 模块资料来源（由 pkg/drive.Client 实现）
type DriveSource interface {
	Metadata(ctx context.Context, fileID string) (*drive.FileMeta, error)
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// PDFStream 模块资料文件流，调用方负责关闭 Body
type PDFStream struct {
	FileName string
	Size     int64
	Body     io.ReadCloser
}

// ModuleService 模块目录业务接口
type ModuleService interface {
	List(ctx context.Context, userID, role string, req *dto.ModuleListRequest) ([]dto.ModuleSummary, error)
	Get(ctx context.Context, userID, role, id string) (*dto.ModuleDetail, error)
	Create(ctx context.Context, req *dto.CreateModuleRequest, callerID string) (*dto.ModuleDetail, error)
	Update(ctx context.Context, id string, req *dto.UpdateModuleRequest, callerID string) (*dto.ModuleDetail, error)
	SetVisibility(ctx context.Context, id, visibility, callerID string) error
	// Delete 物理删除模块及其台账、提交、成绩与通知记录
	Delete(ctx context.Context, id, callerID string) error
	// OpenPDF 仅持有人或管理员可读；download=true 时同步持有人的版本游标
	OpenPDF(ctx context.Context, userID, role, id string, download bool) (*PDFStream, error)
	CheckUpdate(ctx context.Context, id string) (*dto.CheckUpdateResponse, error)
	CheckAllUpdates(ctx context.Context) (*dto.CheckAllUpdatesResponse, error)
}

type moduleService struct {
	repo     *repository.Repository
	drive    DriveSource
	notifier Notifier
	cache    Cache
	logger   *zap.Logger
}

// NewModuleService 创建 ModuleService 实例；drive 为 nil 时资料相关接口返回 ErrDriveUnavailable
func NewModuleService(repo *repository.Repository, driveSrc DriveSource, notifier Notifier, cache Cache, logger *zap.Logger) ModuleService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &moduleService{
		repo:     repo,
		drive:    driveSrc,
		notifier: notifier,
		cache:    cache,
		logger:   logger,
	}
}

// ────────────────────── List ──────────────────────

func (s *moduleService) List(ctx context.Context, userID, role string, req *dto.ModuleListRequest) ([]dto.ModuleSummary, error) {
	modules, err := s.repo.Module.List(ctx, repository.ModuleFilter{
		Visibilities: policy.VisibleStates(role),
		CourseID:     req.CourseID,
	})
	if err != nil {
		s.logger.Error("列出模块失败", zap.Error(err))
		return nil, err
	}

	ids := make([]string, 0, len(modules))
	for i := range modules {
		ids = append(ids, modules[i].ModuleID)
	}
	counts, err := s.holderCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	held, err := s.heldByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]dto.ModuleSummary, 0, len(modules))
	for i := range modules {
		result = append(result, buildSummary(&modules[i], role, counts[modules[i].ModuleID], held[modules[i].ModuleID]))
	}
	return result, nil
}

// ────────────────────── Get ──────────────────────

func (s *moduleService) Get(ctx context.Context, userID, role, id string) (*dto.ModuleDetail, error) {
	module, err := s.getModule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(role, module.Visibility) {
		return nil, ErrModuleAccessDenied
	}

	counts, err := s.holderCounts(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	held, err := s.heldByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return buildDetail(module, role, counts[id], held[id]), nil
}

// ────────────────────── Create ──────────────────────

func (s *moduleService) Create(ctx context.Context, req *dto.CreateModuleRequest, callerID string) (*dto.ModuleDetail, error) {
	if err := s.checkCourse(ctx, req.CourseID); err != nil {
		return nil, err
	}

	module := &model.Module{
		CourseID:             req.CourseID,
		Name:                 req.Name,
		WeekNumber:           req.WeekNumber,
		Visibility:           req.Visibility,
		ShortDescription:     req.ShortDescription,
		DetailedDescription:  req.DetailedDescription,
		LearningObjectives:   datatypes.JSONSlice[string](req.LearningObjectives),
		Prerequisites:        datatypes.JSONSlice[string](req.Prerequisites),
		ExpectedOutcomes:     req.ExpectedOutcomes,
		EstimatedTimeMinutes: req.EstimatedTimeMinutes,
		DriveFileID:          req.DriveFileID,
		GithubClassroomURL:   req.GithubClassroomURL,
		TemplateRepoURL:      req.TemplateRepoURL,
		Instructions:         req.Instructions,
		HomeworkInstructions: req.HomeworkInstructions,
		AssignmentOverview:   req.AssignmentOverview,
		GradingCriteria:      req.GradingCriteria,
		MaxPoints:            100,
		MaxReviewers:         req.MaxReviewers,
		MaxStudents:          req.MaxStudents,
	}
	if module.Visibility == "" {
		module.Visibility = model.VisibilityDraft
	}
	if req.MaxPoints != nil {
		module.MaxPoints = *req.MaxPoints
	}
	if module.MaxReviewers == nil {
		n := defaultMaxReviewers
		module.MaxReviewers = &n
	}
	module.CreatedBy = &callerID
	module.UpdatedBy = &callerID

	if err := s.repo.Module.Create(ctx, module); err != nil {
		s.logger.Error("创建模块失败", zap.Error(err))
		return nil, err
	}
	s.invalidateStats(ctx)

	return buildDetail(module, model.RoleAdmin, nil, nil), nil
}

// ────────────────────── Update ──────────────────────

func (s *moduleService) Update(ctx context.Context, id string, req *dto.UpdateModuleRequest, callerID string) (*dto.ModuleDetail, error) {
	module, err := s.getModule(ctx, id)
	if err != nil {
		return nil, err
	}
	if module.Version != req.Version {
		return nil, pkgerrors.ErrOptimisticLock
	}
	if req.CourseID != nil {
		if err := s.checkCourse(ctx, req.CourseID); err != nil {
			return nil, err
		}
		module.CourseID = req.CourseID
	}

	applyModuleUpdate(module, req)
	module.UpdatedBy = &callerID
	module.Course = nil

	if err := s.repo.Module.UpdateWithVersion(ctx, module); err != nil {
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			s.logger.Error("更新模块失败", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	return buildDetail(module, model.RoleAdmin, nil, nil), nil
}

// ────────────────────── SetVisibility ──────────────────────

func (s *moduleService) SetVisibility(ctx context.Context, id, visibility, callerID string) error {
	if err := s.repo.Module.UpdateVisibility(ctx, id, visibility, callerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrModuleNotFound
		}
		s.logger.Error("修改模块可见性失败", zap.String("id", id), zap.Error(err))
		return err
	}

	s.invalidateStats(ctx)
	s.logger.Info("模块可见性已修改",
		zap.String("module_id", id),
		zap.String("visibility", visibility),
		zap.String("operator", callerID),
	)
	return nil
}

// ────────────────────── Delete ──────────────────────

func (s *moduleService) Delete(ctx context.Context, id, callerID string) error {
	if _, err := s.getModule(ctx, id); err != nil {
		return err
	}

	err := s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		if err := tx.Grade.DeleteByModule(ctx, id); err != nil {
			return err
		}
		if err := tx.Submission.DeleteByModule(ctx, id); err != nil {
			return err
		}
		if err := tx.Notification.DeleteByModule(ctx, id); err != nil {
			return err
		}

		// 持有该模块的用户需要重新确定激活记录
		holders, err := tx.Selection.ListByModule(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Selection.DeleteByModule(ctx, id); err != nil {
			return err
		}
		if err := tx.User.ClearSelectionPointerByModule(ctx, id); err != nil {
			return err
		}
		for i := range holders {
			if err := restoreActiveSelection(ctx, tx, holders[i].UserID); err != nil {
				return err
			}
		}

		return tx.Module.Delete(ctx, id)
	})
	if err != nil {
		s.logger.Error("删除模块失败", zap.String("id", id), zap.Error(err))
		return err
	}

	s.invalidateStats(ctx)
	s.logger.Warn("模块已删除", zap.String("module_id", id), zap.String("operator", callerID))
	return nil
}

// ────────────────────── OpenPDF ──────────────────────

func (s *moduleService) OpenPDF(ctx context.Context, userID, role, id string, download bool) (*PDFStream, error) {
	module, err := s.getModule(ctx, id)
	if err != nil {
		return nil, err
	}

	var sel *model.UserModuleSelection
	if role != model.RoleAdmin {
		sel, err = s.repo.Selection.GetByUserAndModule(ctx, userID, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrModuleNotHeld
			}
			s.logger.Error("查询选课记录失败", zap.Error(err))
			return nil, err
		}
	}

	if s.drive == nil {
		return nil, ErrDriveUnavailable
	}
	meta, err := s.drive.Metadata(ctx, module.DriveFileID)
	if err != nil {
		return nil, s.driveError(module, err)
	}
	body, err := s.drive.Open(ctx, module.DriveFileID)
	if err != nil {
		return nil, s.driveError(module, err)
	}

	if download && sel != nil && module.DriveModifiedTime != nil {
		if err := s.repo.Selection.StampVersion(ctx, sel.SelectionID, *module.DriveModifiedTime); err != nil {
			s.logger.Warn("更新资料版本游标失败", zap.String("selection_id", sel.SelectionID), zap.Error(err))
		}
	}

	name := meta.Name
	if name == "" {
		name = module.Name + ".pdf"
	}
	return &PDFStream{FileName: name, Size: meta.Size, Body: body}, nil
}

// ────────────────────── CheckUpdate ──────────────────────

func (s *moduleService) CheckUpdate(ctx context.Context, id string) (*dto.CheckUpdateResponse, error) {
	module, err := s.getModule(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.checkModule(ctx, module)
}

// CheckAllUpdates 并发检查所有未归档模块，单个模块失败不影响其他模块
func (s *moduleService) CheckAllUpdates(ctx context.Context) (*dto.CheckAllUpdatesResponse, error) {
	modules, err := s.repo.Module.List(ctx, repository.ModuleFilter{
		Visibilities: []string{model.VisibilityDraft, model.VisibilityPilotReview, model.VisibilityActive},
	})
	if err != nil {
		s.logger.Error("列出模块失败", zap.Error(err))
		return nil, err
	}

	resp := &dto.CheckAllUpdatesResponse{
		Results: make(map[string]dto.CheckUpdateResponse, len(modules)),
		Errors:  make(map[string]string),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range modules {
		module := &modules[i]
		g.Go(func() error {
			result, err := s.checkModule(gctx, module)
			mu.Lock()
			defer mu.Unlock()
			resp.Checked++
			if err != nil {
				resp.Errors[module.ModuleID] = err.Error()
				return nil
			}
			resp.Results[module.ModuleID] = *result
			if result.Updated {
				resp.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	return resp, nil
}

// ── 内部辅助方法 ──

// checkModule 比较 Drive modifiedTime 与模块游标；变化时更新游标并通知尚未同步的持有人
func (s *moduleService) checkModule(ctx context.Context, module *model.Module) (*dto.CheckUpdateResponse, error) {
	if s.drive == nil {
		return nil, ErrDriveUnavailable
	}
	meta, err := s.drive.Metadata(ctx, module.DriveFileID)
	if err != nil {
		return nil, s.driveError(module, err)
	}

	resp := &dto.CheckUpdateResponse{CurrentCursor: meta.ModifiedTime}
	if module.DriveModifiedTime != nil {
		resp.PreviousCursor = *module.DriveModifiedTime
		if *module.DriveModifiedTime == meta.ModifiedTime {
			return resp, nil
		}
	}
	resp.Updated = true

	var recipients []string
	err = s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		if err := tx.Module.UpdateDriveCursor(ctx, module.ModuleID, meta.ModifiedTime); err != nil {
			return err
		}
		holders, err := tx.Selection.ListByModule(ctx, module.ModuleID)
		if err != nil {
			return err
		}
		for i := range holders {
			h := &holders[i]
			if h.LastNotifiedVersion != nil && *h.LastNotifiedVersion == meta.ModifiedTime {
				continue
			}
			if err := tx.Selection.StampVersion(ctx, h.SelectionID, meta.ModifiedTime); err != nil {
				return err
			}
			if h.User != nil {
				recipients = append(recipients, h.User.Email)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("更新模块资料游标失败", zap.String("module_id", module.ModuleID), zap.Error(err))
		return nil, err
	}
	resp.NotifiedHolders = len(recipients)

	ev := PDFUpdatedEvent{
		ModuleID:   module.ModuleID,
		ModuleName: module.Name,
		Cursor:     meta.ModifiedTime,
		Recipients: recipients,
	}
	if err := s.notifier.PDFUpdated(ctx, ev); err != nil {
		s.logger.Warn("资料更新通知发送失败", zap.String("module_id", module.ModuleID), zap.Error(err))
	}

	s.logger.Info("模块资料已更新",
		zap.String("module_id", module.ModuleID),
		zap.String("cursor", meta.ModifiedTime),
		zap.Int("notified", len(recipients)),
	)
	return resp, nil
}

func (s *moduleService) getModule(ctx context.Context, id string) (*model.Module, error) {
	module, err := s.repo.Module.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModuleNotFound
		}
		s.logger.Error("查询模块失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return module, nil
}

func (s *moduleService) checkCourse(ctx context.Context, courseID *string) error {
	if courseID == nil {
		return nil
	}
	if _, err := s.repo.Course.GetByID(ctx, *courseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCourseNotFound
		}
		return err
	}
	return nil
}

// holderCounts moduleID → role → 持有人数
func (s *moduleService) holderCounts(ctx context.Context, ids []string) (map[string]map[string]int64, error) {
	result := make(map[string]map[string]int64, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.repo.Selection.HolderCounts(ctx, ids)
	if err != nil {
		s.logger.Error("统计模块持有人数失败", zap.Error(err))
		return nil, err
	}
	for _, row := range rows {
		if result[row.ModuleID] == nil {
			result[row.ModuleID] = make(map[string]int64)
		}
		result[row.ModuleID][row.Role] = row.Count
	}
	return result, nil
}

// heldByUser moduleID → 该用户的持有记录
func (s *moduleService) heldByUser(ctx context.Context, userID string) (map[string]*model.UserModuleSelection, error) {
	sels, err := s.repo.Selection.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询选课记录失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	result := make(map[string]*model.UserModuleSelection, len(sels))
	for i := range sels {
		result[sels[i].ModuleID] = &sels[i]
	}
	return result, nil
}

func (s *moduleService) driveError(module *model.Module, err error) error {
	if errors.Is(err, drive.ErrFileNotFound) {
		return ErrModuleFileMissing
	}
	s.logger.Error("读取 Drive 资料失败",
		zap.String("module_id", module.ModuleID),
		zap.String("drive_file_id", module.DriveFileID),
		zap.Error(err),
	)
	return ErrDriveUnavailable
}

func (s *moduleService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKeyAdminStats); err != nil {
		s.logger.Warn("清除统计缓存失败", zap.Error(err))
	}
}

func applyModuleUpdate(m *model.Module, req *dto.UpdateModuleRequest) {
	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.WeekNumber != nil {
		m.WeekNumber = *req.WeekNumber
	}
	if req.ShortDescription != nil {
		m.ShortDescription = *req.ShortDescription
	}
	if req.DetailedDescription != nil {
		m.DetailedDescription = *req.DetailedDescription
	}
	if req.LearningObjectives != nil {
		m.LearningObjectives = datatypes.JSONSlice[string](*req.LearningObjectives)
	}
	if req.Prerequisites != nil {
		m.Prerequisites = datatypes.JSONSlice[string](*req.Prerequisites)
	}
	if req.ExpectedOutcomes != nil {
		m.ExpectedOutcomes = *req.ExpectedOutcomes
	}
	if req.EstimatedTimeMinutes != nil {
		m.EstimatedTimeMinutes = req.EstimatedTimeMinutes
	}
	if req.DriveFileID != nil && *req.DriveFileID != m.DriveFileID {
		// 更换文件后旧游标失效，下一次检查会重新建立
		m.DriveFileID = *req.DriveFileID
		m.DriveModifiedTime = nil
	}
	if req.GithubClassroomURL != nil {
		m.GithubClassroomURL = *req.GithubClassroomURL
	}
	if req.TemplateRepoURL != nil {
		m.TemplateRepoURL = *req.TemplateRepoURL
	}
	if req.Instructions != nil {
		m.Instructions = *req.Instructions
	}
	if req.HomeworkInstructions != nil {
		m.HomeworkInstructions = *req.HomeworkInstructions
	}
	if req.AssignmentOverview != nil {
		m.AssignmentOverview = *req.AssignmentOverview
	}
	if req.GradingCriteria != nil {
		m.GradingCriteria = *req.GradingCriteria
	}
	if req.MaxPoints != nil {
		m.MaxPoints = *req.MaxPoints
	}
	if req.MaxReviewers != nil {
		m.MaxReviewers = req.MaxReviewers
	}
	if req.ClearMaxReviewers {
		m.MaxReviewers = nil
	}
	if req.MaxStudents != nil {
		m.MaxStudents = req.MaxStudents
	}
	if req.ClearMaxStudents {
		m.MaxStudents = nil
	}
}

func buildSummary(m *model.Module, role string, counts map[string]int64, sel *model.UserModuleSelection) dto.ModuleSummary {
	summary := dto.ModuleSummary{
		ID:               m.ModuleID,
		Name:             m.Name,
		WeekNumber:       m.WeekNumber,
		Visibility:       m.Visibility,
		ShortDescription: m.ShortDescription,
		ReviewerCount:    counts[model.RoleReviewer],
		StudentCount:     counts[model.RoleStudent],
		MaxReviewers:     m.MaxReviewers,
		MaxStudents:      m.MaxStudents,
		IsSelected:       sel != nil,
		IsActive:         sel != nil && sel.IsActive,
	}
	if m.CourseID != nil {
		summary.CourseID = *m.CourseID
	}
	if m.Course != nil {
		summary.CourseName = m.Course.Name
	}
	summary.AtCapacity = !policy.HasCapacity(policy.CapacityFor(role, m), counts[role])
	return summary
}

func buildDetail(m *model.Module, role string, counts map[string]int64, sel *model.UserModuleSelection) *dto.ModuleDetail {
	detail := &dto.ModuleDetail{
		ModuleSummary:        buildSummary(m, role, counts, sel),
		DetailedDescription:  m.DetailedDescription,
		LearningObjectives:   []string(m.LearningObjectives),
		Prerequisites:        []string(m.Prerequisites),
		ExpectedOutcomes:     m.ExpectedOutcomes,
		EstimatedTimeMinutes: m.EstimatedTimeMinutes,
		GithubClassroomURL:   m.GithubClassroomURL,
		TemplateRepoURL:      m.TemplateRepoURL,
		Instructions:         m.Instructions,
		HomeworkInstructions: m.HomeworkInstructions,
		AssignmentOverview:   m.AssignmentOverview,
		GradingCriteria:      m.GradingCriteria,
		MaxPoints:            m.MaxPoints,
		Version:              m.Version,
	}
	if role == model.RoleAdmin {
		detail.DriveFileID = m.DriveFileID
	}
	if m.DriveModifiedTime != nil {
		detail.DriveModifiedTime = *m.DriveModifiedTime
	}
	if sel != nil {
		detail.PDFUpdated = sel.PDFUpdated(m)
	}
	return detail
}

// moduleUnlocked 模块所属课程当前周次是否已到达；无课程视为解锁
func moduleUnlocked(m *model.Module, now time.Time) bool {
	if m.Course == nil {
		return true
	}
	return m.WeekNumber <= m.Course.CurrentWeek(now)
}
