package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
	"review-portal/backend/pkg/github"
)

// ── 成绩模块业务错误 ──

var (
	ErrGradeNotFound         = errors.New("No grade available for this submission yet")
	ErrNotGradable           = errors.New("This submission has no repository to grade")
	ErrGradeReportNotReady   = errors.New("No grade report is available yet")
	ErrRepoInaccessible      = errors.New("Repository not found or no access")
	ErrGradingUnavailable    = errors.New("Automated grading is not configured")
	ErrInvalidPoints         = errors.New("Points must be between 0 and the module maximum")
	ErrRegradeTriggerFailure = errors.New("Could not trigger the grading workflow")
)

// 默认重新评分后首次拉取报告的延迟
const defaultRefreshDelay = 3 * time.Minute

// GradedByGithub 自动评分来源标识
const GradedByGithub = "github-actions"

// GradeSource 评分报告来源（由 pkg/github.Client 实现）
type GradeSource interface {
	Status(ctx context.Context, repoURL string) (*github.WorkflowStatus, error)
	FetchReport(ctx context.Context, repoURL string) (*github.GradeReport, error)
	TriggerRegrade(ctx context.Context, repoURL string) error
}

// GradeQueue 成绩刷新任务队列（由 worker.Dispatcher 实现）
type GradeQueue interface {
	EnqueueGradeRefresh(ctx context.Context, submissionID string, delay time.Duration) error
}

// GradeService 成绩业务接口
type GradeService interface {
	Get(ctx context.Context, callerID, role, submissionID string) (*dto.GradeResponse, error)
	GithubStatus(ctx context.Context, callerID, role, submissionID string) (*dto.GithubStatusResponse, error)
	Refresh(ctx context.Context, callerID, role, submissionID string) (*dto.GradeResponse, error)
	// RefreshSubmission 后台任务入口，不做归属校验
	RefreshSubmission(ctx context.Context, submissionID string) (*dto.GradeResponse, error)
	Regrade(ctx context.Context, callerID, role, submissionID string) (*dto.GradeResponse, error)
	ManualGrade(ctx context.Context, submissionID string, req *dto.ManualGradeRequest, graderEmail string) (*dto.GradeResponse, error)
	GradeAll(ctx context.Context, moduleID string) (*dto.GradeAllResponse, error)
	ListMine(ctx context.Context, userID string) ([]dto.SubmissionResponse, error)
}

type gradeService struct {
	repo         *repository.Repository
	source       GradeSource
	queue        GradeQueue
	cache        Cache
	logger       *zap.Logger
	refreshDelay time.Duration
	now          func() time.Time
}

// NewGradeService 创建 GradeService 实例；source 为 nil 时自动评分相关接口返回 ErrGradingUnavailable
func NewGradeService(repo *repository.Repository, source GradeSource, queue GradeQueue, cache Cache, logger *zap.Logger) GradeService {
	return &gradeService{
		repo:         repo,
		source:       source,
		queue:        queue,
		cache:        cache,
		logger:       logger,
		refreshDelay: defaultRefreshDelay,
		now:          time.Now,
	}
}

// ────────────────────── Get ──────────────────────

func (s *gradeService) Get(ctx context.Context, callerID, role, submissionID string) (*dto.GradeResponse, error) {
	sub, err := s.getOwned(ctx, callerID, role, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Grade == nil {
		return nil, ErrGradeNotFound
	}
	return toGradeResponse(sub.Grade), nil
}

// ────────────────────── GithubStatus ──────────────────────

func (s *gradeService) GithubStatus(ctx context.Context, callerID, role, submissionID string) (*dto.GithubStatusResponse, error) {
	sub, err := s.getOwned(ctx, callerID, role, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkGradable(sub); err != nil {
		return nil, err
	}

	status, err := s.source.Status(ctx, sub.GithubLink)
	if err != nil {
		return nil, s.githubError(sub, err)
	}
	return &dto.GithubStatusResponse{
		Status:     status.Status,
		Conclusion: status.Conclusion,
		RunID:      status.RunID,
		RunURL:     status.URL,
		Message:    status.Message,
	}, nil
}

// ────────────────────── Refresh ──────────────────────

func (s *gradeService) Refresh(ctx context.Context, callerID, role, submissionID string) (*dto.GradeResponse, error) {
	sub, err := s.getOwned(ctx, callerID, role, submissionID)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, sub)
}

func (s *gradeService) RefreshSubmission(ctx context.Context, submissionID string) (*dto.GradeResponse, error) {
	sub, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, sub)
}

func (s *gradeService) refresh(ctx context.Context, sub *model.Submission) (*dto.GradeResponse, error) {
	if err := s.checkGradable(sub); err != nil {
		return nil, err
	}

	report, err := s.source.FetchReport(ctx, sub.GithubLink)
	if err != nil {
		return nil, s.githubError(sub, err)
	}

	grade := sub.Grade
	if grade == nil {
		grade = &model.Grade{SubmissionID: sub.SubmissionID}
	}
	applyReport(grade, report, s.now())

	if err := s.repo.Grade.Save(ctx, grade); err != nil {
		s.logger.Error("保存成绩失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
		return nil, err
	}
	s.invalidateStats(ctx)

	s.logger.Info("成绩已同步",
		zap.String("submission_id", sub.SubmissionID),
		zap.Int64("run_id", report.WorkflowRunID),
		zap.Float64("total", report.Total),
	)
	return toGradeResponse(grade), nil
}

// ────────────────────── Regrade ──────────────────────

func (s *gradeService) Regrade(ctx context.Context, callerID, role, submissionID string) (*dto.GradeResponse, error) {
	sub, err := s.getOwned(ctx, callerID, role, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkGradable(sub); err != nil {
		return nil, err
	}
	if s.queue == nil {
		return nil, ErrGradingUnavailable
	}

	if err := s.source.TriggerRegrade(ctx, sub.GithubLink); err != nil {
		if errors.Is(err, github.ErrRepoNotFound) || errors.Is(err, github.ErrNoAccess) {
			return nil, ErrRepoInaccessible
		}
		s.logger.Error("触发评分工作流失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
		return nil, ErrRegradeTriggerFailure
	}

	grade := sub.Grade
	if grade == nil {
		grade = &model.Grade{SubmissionID: sub.SubmissionID, MaxPoints: moduleMaxPoints(sub.Module)}
	}
	grade.Status = model.GradeStatusPending
	if err := s.repo.Grade.Save(ctx, grade); err != nil {
		s.logger.Error("保存成绩状态失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
		return nil, err
	}

	if err := s.queue.EnqueueGradeRefresh(ctx, sub.SubmissionID, s.refreshDelay); err != nil {
		s.logger.Warn("成绩刷新任务入队失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
	}
	s.invalidateStats(ctx)
	return toGradeResponse(grade), nil
}

// ────────────────────── ManualGrade ──────────────────────

func (s *gradeService) ManualGrade(ctx context.Context, submissionID string, req *dto.ManualGradeRequest, graderEmail string) (*dto.GradeResponse, error) {
	sub, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	maxPoints := moduleMaxPoints(sub.Module)
	points := *req.TotalPoints
	if points < 0 || points > float64(maxPoints) {
		return nil, ErrInvalidPoints
	}

	grade := sub.Grade
	if grade == nil {
		grade = &model.Grade{SubmissionID: sub.SubmissionID}
	}
	now := s.now()
	percentage := roundTo(points/float64(maxPoints)*100, 1)
	grade.TotalPoints = &points
	grade.MaxPoints = maxPoints
	grade.Percentage = &percentage
	grade.LetterGrade = model.LetterFor(percentage)
	grade.ManualFeedback = strings.TrimSpace(req.ManualFeedback)
	grade.Strengths = datatypes.JSONSlice[string](nonNil(req.Strengths))
	grade.Improvements = datatypes.JSONSlice[string](nonNil(req.Improvements))
	grade.Status = model.GradeStatusCompleted
	grade.GradedAt = &now
	grade.GradedBy = graderEmail

	if err := s.repo.Grade.Save(ctx, grade); err != nil {
		s.logger.Error("保存手动评分失败", zap.String("submission_id", submissionID), zap.Error(err))
		return nil, err
	}
	s.invalidateStats(ctx)

	s.logger.Info("手动评分完成",
		zap.String("submission_id", submissionID),
		zap.Float64("points", points),
		zap.String("grader", graderEmail),
	)
	return toGradeResponse(grade), nil
}

// ────────────────────── GradeAll ──────────────────────

func (s *gradeService) GradeAll(ctx context.Context, moduleID string) (*dto.GradeAllResponse, error) {
	if _, err := s.repo.Module.GetByID(ctx, moduleID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModuleNotFound
		}
		return nil, err
	}
	if s.source == nil || s.queue == nil {
		return nil, ErrGradingUnavailable
	}

	subs, err := s.repo.Submission.ListByModule(ctx, moduleID)
	if err != nil {
		s.logger.Error("查询模块提交失败", zap.String("module_id", moduleID), zap.Error(err))
		return nil, err
	}

	resp := &dto.GradeAllResponse{}
	for i := range subs {
		sub := &subs[i]
		if sub.GithubLink == model.FeedbackPlaceholderLink ||
			(sub.Grade != nil && sub.Grade.Status == model.GradeStatusCompleted) {
			resp.Skipped++
			continue
		}
		if err := s.queue.EnqueueGradeRefresh(ctx, sub.SubmissionID, 0); err != nil {
			s.logger.Warn("成绩刷新任务入队失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
			resp.Skipped++
			continue
		}
		resp.Queued++
	}

	s.logger.Info("批量评分已入队",
		zap.String("module_id", moduleID),
		zap.Int("queued", resp.Queued),
		zap.Int("skipped", resp.Skipped),
	)
	return resp, nil
}

// ────────────────────── ListMine ──────────────────────

func (s *gradeService) ListMine(ctx context.Context, userID string) ([]dto.SubmissionResponse, error) {
	subs, err := s.repo.Grade.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询成绩失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	result := make([]dto.SubmissionResponse, 0, len(subs))
	for i := range subs {
		result = append(result, *toSubmissionResponse(&subs[i], subs[i].Module))
	}
	return result, nil
}

// ── 内部辅助方法 ──

func (s *gradeService) getSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := s.repo.Submission.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		s.logger.Error("查询提交失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return sub, nil
}

// getOwned 提交本人或管理员可访问
func (s *gradeService) getOwned(ctx context.Context, callerID, role, id string) (*model.Submission, error) {
	sub, err := s.getSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != callerID && role != model.RoleAdmin {
		return nil, ErrSubmissionForbidden
	}
	return sub, nil
}

func (s *gradeService) checkGradable(sub *model.Submission) error {
	if s.source == nil {
		return ErrGradingUnavailable
	}
	if sub.GithubLink == "" || sub.GithubLink == model.FeedbackPlaceholderLink {
		return ErrNotGradable
	}
	return nil
}

func (s *gradeService) githubError(sub *model.Submission, err error) error {
	switch {
	case errors.Is(err, github.ErrInvalidRepoURL):
		return ErrInvalidGithubLink
	case errors.Is(err, github.ErrRepoNotFound), errors.Is(err, github.ErrNoAccess):
		return ErrRepoInaccessible
	case errors.Is(err, github.ErrNoCompletedRun), errors.Is(err, github.ErrNoArtifact):
		return ErrGradeReportNotReady
	}
	s.logger.Error("访问 GitHub 失败",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("repo", sub.GithubLink),
		zap.Error(err),
	)
	return err
}

func (s *gradeService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKeyAdminStats); err != nil {
		s.logger.Warn("清除统计缓存失败", zap.Error(err))
	}
}

// applyReport 用评分报告覆盖成绩记录
func applyReport(grade *model.Grade, report *github.GradeReport, now time.Time) {
	total := report.Total
	percentage := report.Percentage
	if percentage == 0 && report.MaxScore > 0 {
		percentage = roundTo(total/report.MaxScore*100, 1)
	}
	gradedAt := report.GradedAt(now)

	breakdown, _ := json.Marshal(map[string]interface{}{
		"assignment": report.Assignment,
		"sections":   report.Sections,
		"errors":     nonNil(report.Errors),
	})

	var feedback []string
	for _, sec := range report.Sections {
		for _, d := range sec.Details {
			feedback = append(feedback, sec.Name+": "+d)
		}
	}

	runID := report.WorkflowRunID
	grade.TotalPoints = &total
	grade.MaxPoints = int(math.Round(report.MaxScore))
	grade.Percentage = &percentage
	grade.LetterGrade = model.LetterFor(percentage)
	grade.ScoreBreakdown = datatypes.JSON(breakdown)
	grade.AutomatedFeedback = strings.Join(feedback, "\n")
	grade.Status = model.GradeStatusCompleted
	grade.GradedAt = &gradedAt
	grade.GradedBy = GradedByGithub
	grade.WorkflowRunID = &runID
	grade.WorkflowURL = report.WorkflowURL
}

func moduleMaxPoints(m *model.Module) int {
	if m == nil || m.MaxPoints <= 0 {
		return 100
	}
	return m.MaxPoints
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func toGradeResponse(g *model.Grade) *dto.GradeResponse {
	resp := &dto.GradeResponse{
		SubmissionID:      g.SubmissionID,
		TotalPoints:       g.TotalPoints,
		MaxPoints:         g.MaxPoints,
		Percentage:        g.Percentage,
		LetterGrade:       g.LetterGrade,
		AutomatedFeedback: g.AutomatedFeedback,
		ManualFeedback:    g.ManualFeedback,
		Strengths:         nonNil([]string(g.Strengths)),
		Improvements:      nonNil([]string(g.Improvements)),
		Status:            g.Status,
		GradedBy:          g.GradedBy,
		WorkflowRunID:     g.WorkflowRunID,
		WorkflowURL:       g.WorkflowURL,
	}
	if len(g.ScoreBreakdown) > 0 {
		resp.ScoreBreakdown = json.RawMessage(g.ScoreBreakdown)
	}
	if g.GradedAt != nil {
		resp.GradedAt = g.GradedAt.Format(dto.TimeLayout)
	}
	return resp
}
