package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/policy"
	"review-portal/backend/internal/repository"
)

const (
	adminStatsTTL     = 60 * time.Second
	recentSubmissions = 10
)

// DashboardService 工作台与统计业务接口
type DashboardService interface {
	Reviewer(ctx context.Context, userID string) (*dto.ReviewerDashboardResponse, error)
	Student(ctx context.Context, userID string) (*dto.StudentDashboardResponse, error)
	// AdminStats 结果缓存 60 秒，台账与模块写入时失效
	AdminStats(ctx context.Context) (*dto.AdminStatsResponse, error)
}

type dashboardService struct {
	repo   *repository.Repository
	limits policy.Limits
	cache  Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewDashboardService 创建 DashboardService 实例
func NewDashboardService(repo *repository.Repository, limits policy.Limits, cache Cache, logger *zap.Logger) DashboardService {
	return &dashboardService{repo: repo, limits: limits, cache: cache, logger: logger, now: time.Now}
}

// ────────────────────── Reviewer ──────────────────────

func (s *dashboardService) Reviewer(ctx context.Context, userID string) (*dto.ReviewerDashboardResponse, error) {
	user, err := s.repo.User.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	sels, err := s.repo.Selection.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询选课记录失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	moduleIDs := make([]string, 0, len(sels))
	for i := range sels {
		moduleIDs = append(moduleIDs, sels[i].ModuleID)
	}
	subs, err := s.repo.Submission.ListByUserAndModules(ctx, userID, moduleIDs)
	if err != nil {
		s.logger.Error("查询提交记录失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	byKey := indexSubmissions(subs)

	resp := &dto.ReviewerDashboardResponse{
		User:       *toUserResponse(user),
		MaxModules: s.limits.MaxFor(user.Role),
		Selections: make([]dto.DashboardSelection, 0, len(sels)),
	}
	for i := range sels {
		resp.Selections = append(resp.Selections, dto.DashboardSelection{
			SelectionResponse: *toSelectionResponse(&sels[i], sels[i].Module),
			InClassStatus:     model.StatusOf(byKey[submissionKey(sels[i].ModuleID, model.SubmissionInClass)]),
			HomeworkStatus:    model.StatusOf(byKey[submissionKey(sels[i].ModuleID, model.SubmissionHomework)]),
		})
	}
	return resp, nil
}

// ────────────────────── Student ──────────────────────

func (s *dashboardService) Student(ctx context.Context, userID string) (*dto.StudentDashboardResponse, error) {
	courses, err := s.repo.Course.List(ctx, true)
	if err != nil {
		s.logger.Error("查询课程失败", zap.Error(err))
		return nil, err
	}
	subs, err := s.repo.Submission.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询提交记录失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	byKey := indexSubmissions(subs)
	now := s.now()

	resp := &dto.StudentDashboardResponse{Courses: []dto.StudentCourseItem{}}
	for i := range courses {
		course := &courses[i]
		modules, err := s.repo.Module.List(ctx, repository.ModuleFilter{
			Visibilities: []string{model.VisibilityActive},
			CourseID:     course.CourseID,
		})
		if err != nil {
			s.logger.Error("查询课程模块失败", zap.String("course_id", course.CourseID), zap.Error(err))
			return nil, err
		}
		if len(modules) == 0 {
			continue
		}

		currentWeek := course.CurrentWeek(now)
		item := dto.StudentCourseItem{
			Course:  *toCourseResponse(course, now),
			Modules: make([]dto.StudentModuleItem, 0, len(modules)),
		}
		for j := range modules {
			m := &modules[j]
			inClass := model.StatusOf(byKey[submissionKey(m.ModuleID, model.SubmissionInClass)])
			homework := model.StatusOf(byKey[submissionKey(m.ModuleID, model.SubmissionHomework)])
			progress := 0
			for _, st := range []string{inClass, homework} {
				if st == model.SubmissionStatusGraded {
					progress++
				}
			}
			item.Modules = append(item.Modules, dto.StudentModuleItem{
				ModuleID:         m.ModuleID,
				Name:             m.Name,
				WeekNumber:       m.WeekNumber,
				ShortDescription: m.ShortDescription,
				Unlocked:         m.WeekNumber <= currentWeek,
				InClassStatus:    inClass,
				HomeworkStatus:   homework,
				Progress:         progress,
				Total:            2,
			})
		}
		resp.Courses = append(resp.Courses, item)
	}
	return resp, nil
}

// ────────────────────── AdminStats ──────────────────────

func (s *dashboardService) AdminStats(ctx context.Context) (*dto.AdminStatsResponse, error) {
	if s.cache != nil {
		var cached dto.AdminStatsResponse
		hit, err := s.cache.GetJSON(ctx, cacheKeyAdminStats, &cached)
		if err != nil {
			s.logger.Warn("读取统计缓存失败", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	var (
		byRole      map[string]int64
		byVis       map[string]int64
		totalSubs   int64
		graded      int64
		modules     []model.Module
		holderRows  []repository.HolderCount
		subsByMod   map[string]int64
		recentItems []model.Submission
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		byRole, err = s.repo.User.CountByRole(gctx)
		return
	})
	g.Go(func() (err error) {
		byVis, err = s.repo.Module.CountByVisibility(gctx)
		return
	})
	g.Go(func() (err error) {
		totalSubs, err = s.repo.Submission.Count(gctx)
		return
	})
	g.Go(func() (err error) {
		graded, err = s.repo.Grade.CountByStatus(gctx, model.GradeStatusCompleted)
		return
	})
	g.Go(func() (err error) {
		modules, err = s.repo.Module.List(gctx, repository.ModuleFilter{})
		return
	})
	g.Go(func() (err error) {
		holderRows, err = s.repo.Selection.HolderCounts(gctx, nil)
		return
	})
	g.Go(func() (err error) {
		subsByMod, err = s.repo.Submission.CountByModule(gctx)
		return
	})
	g.Go(func() (err error) {
		recentItems, err = s.repo.Submission.ListRecent(gctx, recentSubmissions)
		return
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("统计数据查询失败", zap.Error(err))
		return nil, err
	}

	holders := make(map[string]map[string]int64)
	for _, row := range holderRows {
		if holders[row.ModuleID] == nil {
			holders[row.ModuleID] = make(map[string]int64)
		}
		holders[row.ModuleID][row.Role] = row.Count
	}

	resp := &dto.AdminStatsResponse{
		UsersByRole:       byRole,
		ActiveModules:     byVis[model.VisibilityActive],
		TotalSubmissions:  totalSubs,
		GradedSubmissions: graded,
		Modules:           make([]dto.ModuleHolderStats, 0, len(modules)),
		RecentSubmissions: make([]dto.SubmissionResponse, 0, len(recentItems)),
		GeneratedAt:       s.now().Format(dto.TimeLayout),
	}
	for _, n := range byRole {
		resp.TotalUsers += n
	}
	for _, n := range byVis {
		resp.TotalModules += n
	}
	for i := range modules {
		m := &modules[i]
		resp.Modules = append(resp.Modules, dto.ModuleHolderStats{
			ModuleID:        m.ModuleID,
			Name:            m.Name,
			Visibility:      m.Visibility,
			ReviewerCount:   holders[m.ModuleID][model.RoleReviewer],
			StudentCount:    holders[m.ModuleID][model.RoleStudent],
			MaxReviewers:    m.MaxReviewers,
			MaxStudents:     m.MaxStudents,
			SubmissionCount: subsByMod[m.ModuleID],
		})
	}
	for i := range recentItems {
		item := toSubmissionResponse(&recentItems[i], recentItems[i].Module)
		if u := recentItems[i].User; u != nil {
			item.UserID = u.UserID
			item.UserName = u.DisplayName()
			item.UserEmail = u.Email
		}
		resp.RecentSubmissions = append(resp.RecentSubmissions, *item)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKeyAdminStats, resp, adminStatsTTL); err != nil {
			s.logger.Warn("写入统计缓存失败", zap.Error(err))
		}
	}
	return resp, nil
}
