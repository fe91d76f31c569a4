package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
)

// ── 课程日历 ──────────────────────────────────────────────
//
// 每个 active 模块生成一个全天事件，日期为
// start_date + (week_number-1)*7 天，即模块解锁当天。
// 未设置开课日期的课程无法推算日期，返回 ErrCourseNoStartDate。
// ─────────────────────────────────────────────────────────────

var ErrCourseNoStartDate = errors.New("This course has no start date")

const calendarProductID = "-//Course Review Portal//Module Calendar//EN"

// CalendarService 课程日历业务接口
type CalendarService interface {
	// CourseCalendar 生成课程的 iCalendar 内容与建议文件名
	CourseCalendar(ctx context.Context, courseID string) (string, string, error)
}

type calendarService struct {
	repo    *repository.Repository
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewCalendarService 创建 CalendarService 实例；baseURL 用于事件链接
func NewCalendarService(repo *repository.Repository, baseURL string, logger *zap.Logger) CalendarService {
	return &calendarService{
		repo:    repo,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

func (s *calendarService) CourseCalendar(ctx context.Context, courseID string) (string, string, error) {
	course, err := s.repo.Course.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.String("course_id", courseID), zap.Error(err))
		return "", "", err
	}
	if course.StartDate == nil {
		return "", "", ErrCourseNoStartDate
	}

	modules, err := s.repo.Module.List(ctx, repository.ModuleFilter{
		Visibilities: []string{model.VisibilityActive},
		CourseID:     course.CourseID,
	})
	if err != nil {
		s.logger.Error("查询课程模块失败", zap.String("course_id", courseID), zap.Error(err))
		return "", "", err
	}

	cal := BuildCourseCalendar(course, modules, s.baseURL, s.now())
	filename := fmt.Sprintf("%s.ics", strings.ToLower(strings.ReplaceAll(course.Code, " ", "-")))
	return cal.Serialize(), filename, nil
}

// BuildCourseCalendar 组装日历；调用方保证 course.StartDate 非空
func BuildCourseCalendar(course *model.Course, modules []model.Module, baseURL string, stamp time.Time) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(calendarProductID)
	cal.SetXWRCalName(fmt.Sprintf("%s %s", course.Code, course.Name))
	cal.SetXWRTimezone("UTC")

	start := course.StartDate.UTC()
	for i := range modules {
		m := &modules[i]
		day := ModuleUnlockDate(start, m.WeekNumber)

		event := cal.AddEvent(fmt.Sprintf("module-%s@review-portal", m.ModuleID))
		event.SetDtStampTime(stamp.UTC())
		event.SetAllDayStartAt(day)
		event.SetAllDayEndAt(day.AddDate(0, 0, 1))
		event.SetSummary(fmt.Sprintf("Week %d: %s", m.WeekNumber, m.Name))
		if m.ShortDescription != "" {
			event.SetDescription(m.ShortDescription)
		}
		if baseURL != "" {
			event.SetURL(fmt.Sprintf("%s/modules/%s", baseURL, m.ModuleID))
		}
	}
	return cal
}

// ModuleUnlockDate 第 week 周的第一天
func ModuleUnlockDate(start time.Time, week int) time.Time {
	if week < 1 {
		week = 1
	}
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, (week-1)*7)
}
