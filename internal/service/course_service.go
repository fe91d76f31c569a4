package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
)

// ── 课程模块业务错误 ──

var (
	ErrCourseNotFound    = errors.New("course not found")
	ErrCourseCodeExists  = errors.New("a course with this code already exists")
	ErrCourseDateInvalid = errors.New("start_date must be formatted as YYYY-MM-DD")
)

// CourseService 课程业务接口
type CourseService interface {
	Create(ctx context.Context, req *dto.CreateCourseRequest, callerID string) (*dto.CourseResponse, error)
	GetByID(ctx context.Context, id string) (*dto.CourseResponse, error)
	// List activeOnly=true 时只返回启用中的课程
	List(ctx context.Context, activeOnly bool) ([]dto.CourseResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateCourseRequest, callerID string) (*dto.CourseResponse, error)
	Delete(ctx context.Context, id string) error
}

type courseService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewCourseService 创建 CourseService 实例
func NewCourseService(repo *repository.Repository, logger *zap.Logger) CourseService {
	return &courseService{repo: repo, logger: logger, now: time.Now}
}

// ────────────────────── Create ──────────────────────

func (s *courseService) Create(ctx context.Context, req *dto.CreateCourseRequest, callerID string) (*dto.CourseResponse, error) {
	code := strings.TrimSpace(req.Code)
	if err := s.ensureCodeFree(ctx, code, ""); err != nil {
		return nil, err
	}

	startDate, err := parseOptionalDate(req.StartDate)
	if err != nil {
		return nil, err
	}

	course := &model.Course{
		Name:            req.Name,
		Code:            code,
		Description:     req.Description,
		InstructorName:  req.InstructorName,
		InstructorEmail: req.InstructorEmail,
		Term:            req.Term,
		StartDate:       startDate,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	course.CreatedBy = &callerID
	course.UpdatedBy = &callerID

	if err := s.repo.Course.Create(ctx, course); err != nil {
		s.logger.Error("创建课程失败", zap.Error(err))
		return nil, err
	}

	return toCourseResponse(course, s.now()), nil
}

// ────────────────────── GetByID ──────────────────────

func (s *courseService) GetByID(ctx context.Context, id string) (*dto.CourseResponse, error) {
	course, err := s.getCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	return toCourseResponse(course, s.now()), nil
}

// ────────────────────── List ──────────────────────

func (s *courseService) List(ctx context.Context, activeOnly bool) ([]dto.CourseResponse, error) {
	courses, err := s.repo.Course.List(ctx, activeOnly)
	if err != nil {
		s.logger.Error("列出课程失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.CourseResponse, 0, len(courses))
	for i := range courses {
		result = append(result, *toCourseResponse(&courses[i], s.now()))
	}
	return result, nil
}

// ────────────────────── Update ──────────────────────

func (s *courseService) Update(ctx context.Context, id string, req *dto.UpdateCourseRequest, callerID string) (*dto.CourseResponse, error) {
	course, err := s.getCourse(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Code != nil {
		code := strings.TrimSpace(*req.Code)
		if err := s.ensureCodeFree(ctx, code, id); err != nil {
			return nil, err
		}
		course.Code = code
	}
	if req.Name != nil {
		course.Name = *req.Name
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.InstructorName != nil {
		course.InstructorName = *req.InstructorName
	}
	if req.InstructorEmail != nil {
		course.InstructorEmail = *req.InstructorEmail
	}
	if req.Term != nil {
		course.Term = *req.Term
	}
	if req.StartDate != nil {
		startDate, err := parseOptionalDate(*req.StartDate)
		if err != nil {
			return nil, err
		}
		course.StartDate = startDate
	}
	if req.IsActive != nil {
		course.IsActive = *req.IsActive
	}
	course.UpdatedBy = &callerID

	if err := s.repo.Course.Update(ctx, course); err != nil {
		s.logger.Error("更新课程失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	return toCourseResponse(course, s.now()), nil
}

// ────────────────────── Delete ──────────────────────

func (s *courseService) Delete(ctx context.Context, id string) error {
	if _, err := s.getCourse(ctx, id); err != nil {
		return err
	}

	err := s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		return tx.Course.Delete(ctx, id)
	})
	if err != nil {
		s.logger.Error("删除课程失败", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}

// ── 内部辅助方法 ──

func (s *courseService) getCourse(ctx context.Context, id string) (*model.Course, error) {
	course, err := s.repo.Course.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return course, nil
}

// ensureCodeFree 课程代码唯一；exceptID 为正在更新的课程
func (s *courseService) ensureCodeFree(ctx context.Context, code, exceptID string) error {
	existing, err := s.repo.Course.GetByCode(ctx, code)
	if err == nil && existing.CourseID != exceptID {
		return ErrCourseCodeExists
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询课程代码失败", zap.String("code", code), zap.Error(err))
		return err
	}
	return nil
}

func toCourseResponse(course *model.Course, now time.Time) *dto.CourseResponse {
	resp := &dto.CourseResponse{
		ID:              course.CourseID,
		Name:            course.Name,
		Code:            course.Code,
		Description:     course.Description,
		InstructorName:  course.InstructorName,
		InstructorEmail: course.InstructorEmail,
		Term:            course.Term,
		IsActive:        course.IsActive,
		CurrentWeek:     course.CurrentWeek(now),
		CreatedAt:       course.CreatedAt.Format(dto.TimeLayout),
		UpdatedAt:       course.UpdatedAt.Format(dto.TimeLayout),
	}
	if course.StartDate != nil {
		resp.StartDate = course.StartDate.Format(dto.DateLayout)
	}
	return resp
}

// parseOptionalDate 空字符串返回 nil
func parseOptionalDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dto.DateLayout, value)
	if err != nil {
		return nil, ErrCourseDateInvalid
	}
	return &t, nil
}
