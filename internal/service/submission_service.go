package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
)

// ── 提交模块业务错误 ──

var (
	ErrInvalidSubmissionType = errors.New("Invalid submission type")
	ErrNoActiveModule        = errors.New("No module selected")
	ErrGithubLinkRequired    = errors.New("GitHub link is required")
	ErrInvalidGithubLink     = errors.New("Please provide a valid GitHub URL")
	ErrModuleUnavailable     = errors.New("Module not available")
	ErrModuleLocked          = errors.New("This module is not unlocked yet")
	ErrSubmissionNotFound    = errors.New("Submission not found")
	ErrSubmissionForbidden   = errors.New("Access denied")
	ErrInvalidFeedback       = errors.New("invalid feedback")
)

// FeedbackError 反馈表单校验失败，Message 为逐项提示
type FeedbackError struct {
	Message string
}

func (e *FeedbackError) Error() string { return e.Message }

// Is 使 errors.Is(err, ErrInvalidFeedback) 成立
func (e *FeedbackError) Is(target error) bool { return target == ErrInvalidFeedback }

var githubRepoPattern = regexp.MustCompile(`^https://github\.com/[\w-]+/[\w.-]+/?$`)

// SubmissionService 提交业务接口
type SubmissionService interface {
	// SubmitFeedback 评审针对当前激活模块提交反馈，重复提交覆盖
	SubmitFeedback(ctx context.Context, userID, submissionType string, req *dto.FeedbackRequest) (*dto.SubmissionResponse, error)
	// SubmitAssignment 学生提交作业仓库，模块需为 active 且已解锁
	SubmitAssignment(ctx context.Context, userID, moduleID, submissionType string, req *dto.AssignmentRequest) (*dto.SubmissionResponse, error)
	ListMine(ctx context.Context, userID string) ([]dto.SubmissionResponse, error)
	AdminList(ctx context.Context, req *dto.AdminSubmissionListRequest) ([]dto.SubmissionResponse, int64, error)
}

type submissionService struct {
	repo     *repository.Repository
	notifier Notifier
	cache    Cache
	logger   *zap.Logger
	now      func() time.Time
}

// NewSubmissionService 创建 SubmissionService 实例
func NewSubmissionService(repo *repository.Repository, notifier Notifier, cache Cache, logger *zap.Logger) SubmissionService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &submissionService{
		repo:     repo,
		notifier: notifier,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// ────────────────────── SubmitFeedback ──────────────────────

func (s *submissionService) SubmitFeedback(ctx context.Context, userID, submissionType string, req *dto.FeedbackRequest) (*dto.SubmissionResponse, error) {
	if !validSubmissionType(submissionType) {
		return nil, ErrInvalidSubmissionType
	}
	responses, err := validateFeedback(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(responses)
	if err != nil {
		return nil, err
	}

	var (
		user   *model.User
		module *model.Module
		sub    *model.Submission
	)
	err = s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		u, err := tx.User.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return s.mapUserErr(err)
		}
		user = u

		module, err = s.activeModule(ctx, tx, userID)
		if err != nil {
			return err
		}

		sub, err = s.upsert(ctx, tx, userID, module.ModuleID, submissionType, func(row *model.Submission) {
			minutes := *req.TimeSpentMinutes
			row.GithubLink = model.FeedbackPlaceholderLink
			row.Comments = strings.TrimSpace(req.Comments)
			row.TimeSpentMinutes = &minutes
			row.FeedbackResponses = datatypes.JSON(payload)
		})
		return err
	})
	if err != nil {
		return nil, s.logSubmitError("feedback", userID, err)
	}

	s.afterSubmit(ctx, user, module, sub)
	return toSubmissionResponse(sub, module), nil
}

// ────────────────────── SubmitAssignment ──────────────────────

func (s *submissionService) SubmitAssignment(ctx context.Context, userID, moduleID, submissionType string, req *dto.AssignmentRequest) (*dto.SubmissionResponse, error) {
	if !validSubmissionType(submissionType) {
		return nil, ErrInvalidSubmissionType
	}
	link, err := normalizeGithubLink(req.GithubLink)
	if err != nil {
		return nil, err
	}

	var (
		user   *model.User
		module *model.Module
		sub    *model.Submission
	)
	err = s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		u, err := tx.User.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return s.mapUserErr(err)
		}
		user = u

		module, err = tx.Module.GetByID(ctx, moduleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrModuleNotFound
			}
			return err
		}
		if module.Visibility != model.VisibilityActive {
			return ErrModuleUnavailable
		}
		if !moduleUnlocked(module, s.now()) {
			return ErrModuleLocked
		}

		sub, err = s.upsert(ctx, tx, userID, module.ModuleID, submissionType, func(row *model.Submission) {
			row.GithubLink = link
			row.Comments = strings.TrimSpace(req.Comments)
		})
		return err
	})
	if err != nil {
		return nil, s.logSubmitError("assignment", userID, err)
	}

	s.afterSubmit(ctx, user, module, sub)
	return toSubmissionResponse(sub, module), nil
}

// ────────────────────── ListMine ──────────────────────

func (s *submissionService) ListMine(ctx context.Context, userID string) ([]dto.SubmissionResponse, error) {
	subs, err := s.repo.Submission.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询提交记录失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	result := make([]dto.SubmissionResponse, 0, len(subs))
	for i := range subs {
		result = append(result, *toSubmissionResponse(&subs[i], subs[i].Module))
	}
	return result, nil
}

// ────────────────────── AdminList ──────────────────────

func (s *submissionService) AdminList(ctx context.Context, req *dto.AdminSubmissionListRequest) ([]dto.SubmissionResponse, int64, error) {
	subs, total, err := s.repo.Submission.List(ctx, repository.SubmissionFilter{
		ModuleID:       req.ModuleID,
		SubmissionType: req.SubmissionType,
		GradeStatus:    req.GradeStatus,
		Offset:         req.GetOffset(),
		Limit:          req.GetPageSize(),
	})
	if err != nil {
		s.logger.Error("查询提交列表失败", zap.Error(err))
		return nil, 0, err
	}
	result := make([]dto.SubmissionResponse, 0, len(subs))
	for i := range subs {
		item := toSubmissionResponse(&subs[i], subs[i].Module)
		if subs[i].User != nil {
			item.UserID = subs[i].User.UserID
			item.UserName = subs[i].User.DisplayName()
			item.UserEmail = subs[i].User.Email
		}
		result = append(result, *item)
	}
	return result, total, nil
}

// ── 内部辅助方法 ──

// activeModule 当前激活选课对应的模块
func (s *submissionService) activeModule(ctx context.Context, tx *repository.Repository, userID string) (*model.Module, error) {
	sels, err := tx.Selection.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range sels {
		if !sels[i].IsActive {
			continue
		}
		if sels[i].Module == nil {
			return nil, ErrModuleNotFound
		}
		return sels[i].Module, nil
	}
	return nil, ErrNoActiveModule
}

// upsert 按 (user, module, type) 新建或覆盖提交
func (s *submissionService) upsert(ctx context.Context, tx *repository.Repository, userID, moduleID, submissionType string, fill func(*model.Submission)) (*model.Submission, error) {
	now := s.now()
	sub, err := tx.Submission.GetByTriple(ctx, userID, moduleID, submissionType)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = &model.Submission{
			UserID:         userID,
			ModuleID:       moduleID,
			SubmissionType: submissionType,
			SubmittedAt:    now,
		}
		fill(sub)
		if err := tx.Submission.Create(ctx, sub); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		fill(sub)
		sub.SubmittedAt = now
		if err := tx.Submission.Update(ctx, sub); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

func (s *submissionService) afterSubmit(ctx context.Context, user *model.User, module *model.Module, sub *model.Submission) {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKeyAdminStats); err != nil {
			s.logger.Warn("清除统计缓存失败", zap.Error(err))
		}
	}

	s.logger.Info("收到提交",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("user_id", user.UserID),
		zap.String("module_id", module.ModuleID),
		zap.String("type", sub.SubmissionType),
	)

	ev := SubmissionEvent{
		SubmissionID:     sub.SubmissionID,
		UserName:         user.DisplayName(),
		UserEmail:        user.Email,
		ModuleID:         module.ModuleID,
		ModuleName:       module.Name,
		SubmissionType:   sub.SubmissionType,
		GithubLink:       sub.GithubLink,
		Comments:         sub.Comments,
		TimeSpentMinutes: sub.TimeSpentMinutes,
	}
	if len(sub.FeedbackResponses) > 0 {
		_ = json.Unmarshal(sub.FeedbackResponses, &ev.FeedbackResponses)
	}
	if err := s.notifier.SubmissionReceived(ctx, ev); err != nil {
		s.logger.Warn("提交通知发送失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
	}
}

func (s *submissionService) mapUserErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (s *submissionService) logSubmitError(op, userID string, err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrModuleNotFound),
		errors.Is(err, ErrNoActiveModule),
		errors.Is(err, ErrModuleUnavailable),
		errors.Is(err, ErrModuleLocked):
		return err
	}
	s.logger.Error("保存提交失败", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	return err
}

func validSubmissionType(t string) bool {
	return t == model.SubmissionInClass || t == model.SubmissionHomework
}

// normalizeGithubLink 校验仓库地址并去掉末尾斜杠
func normalizeGithubLink(raw string) (string, error) {
	link := strings.TrimSpace(raw)
	if link == "" {
		return "", ErrGithubLinkRequired
	}
	if !githubRepoPattern.MatchString(link) {
		return "", ErrInvalidGithubLink
	}
	return strings.TrimRight(link, "/"), nil
}

// validateFeedback 逐项检查评分是否填写且在 1-10 之间
func validateFeedback(req *dto.FeedbackRequest) (map[string]int, error) {
	ratings := []struct {
		key     string
		label   string
		missing string
		value   *int
	}{
		{"q_objectives", "objectives", "Please rate the learning objectives clarity", req.QObjectives},
		{"q_content", "content", "Please rate the PDF materials quality", req.QContent},
		{"q_starter_code", "starter code", "Please rate the starter code quality", req.QStarterCode},
		{"q_difficulty", "difficulty", "Please rate the difficulty level", req.QDifficulty},
		{"q_overall", "overall", "Please provide an overall rating", req.QOverall},
	}

	for _, r := range ratings {
		if r.value == nil {
			return nil, &FeedbackError{Message: r.missing}
		}
	}
	if req.TimeSpentMinutes == nil {
		return nil, &FeedbackError{Message: "Please enter the time spent"}
	}

	responses := make(map[string]int, len(ratings))
	for _, r := range ratings {
		if *r.value < 1 || *r.value > 10 {
			return nil, &FeedbackError{Message: fmt.Sprintf("Rating for %s must be between 1 and 10", r.label)}
		}
		responses[r.key] = *r.value
	}
	if *req.TimeSpentMinutes <= 0 {
		return nil, &FeedbackError{Message: "Time spent must be a positive number of minutes"}
	}
	return responses, nil
}

func toSubmissionResponse(sub *model.Submission, module *model.Module) *dto.SubmissionResponse {
	resp := &dto.SubmissionResponse{
		ID:               sub.SubmissionID,
		ModuleID:         sub.ModuleID,
		SubmissionType:   sub.SubmissionType,
		GithubLink:       sub.GithubLink,
		Comments:         sub.Comments,
		TimeSpentMinutes: sub.TimeSpentMinutes,
		SubmittedAt:      sub.SubmittedAt.Format(dto.TimeLayout),
		Status:           model.StatusOf(sub),
	}
	if module != nil {
		resp.ModuleName = module.Name
	}
	if len(sub.FeedbackResponses) > 0 {
		var responses map[string]int
		if err := json.Unmarshal(sub.FeedbackResponses, &responses); err == nil {
			resp.FeedbackResponses = responses
		}
	}
	if sub.Grade != nil {
		resp.Grade = toGradeResponse(sub.Grade)
	}
	return resp
}
