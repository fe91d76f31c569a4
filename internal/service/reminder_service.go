package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
)

// reminderCooldown 同一用户两次提醒的最小间隔
const reminderCooldown = 6 * 24 * time.Hour

// ReminderService 每周提醒业务接口
type ReminderService interface {
	// PendingWork 汇总所有持有选课的评审与学生的待办
	PendingWork(ctx context.Context) ([]dto.PendingWorkResponse, error)
	// SendWeekly 向有待办且未在冷却期内的用户发送提醒
	SendWeekly(ctx context.Context) (*dto.ReminderRunResponse, error)
}

type reminderService struct {
	repo     *repository.Repository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewReminderService 创建 ReminderService 实例
func NewReminderService(repo *repository.Repository, notifier Notifier, logger *zap.Logger) ReminderService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &reminderService{repo: repo, notifier: notifier, logger: logger, now: time.Now}
}

type userPending struct {
	user  model.User
	items []dto.PendingItem
}

// ────────────────────── PendingWork ──────────────────────

func (s *reminderService) PendingWork(ctx context.Context) ([]dto.PendingWorkResponse, error) {
	pending, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]dto.PendingWorkResponse, 0, len(pending))
	for _, p := range pending {
		item := dto.PendingWorkResponse{
			UserID:          p.user.UserID,
			UserName:        p.user.DisplayName(),
			UserEmail:       p.user.Email,
			ReminderEnabled: p.user.ReminderEnabled,
			Items:           p.items,
		}
		if p.user.LastReminderSent != nil {
			item.LastReminderSent = p.user.LastReminderSent.Format(dto.TimeLayout)
		}
		result = append(result, item)
	}
	return result, nil
}

// ────────────────────── SendWeekly ──────────────────────

func (s *reminderService) SendWeekly(ctx context.Context) (*dto.ReminderRunResponse, error) {
	pending, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	resp := &dto.ReminderRunResponse{Recipients: []string{}}
	for _, p := range pending {
		if !p.user.ReminderEnabled {
			resp.Skipped++
			continue
		}
		if p.user.LastReminderSent != nil && p.user.LastReminderSent.After(now.Add(-reminderCooldown)) {
			resp.Skipped++
			continue
		}

		ev := ReminderEvent{
			UserID:    p.user.UserID,
			UserName:  p.user.DisplayName(),
			UserEmail: p.user.Email,
			Items:     p.items,
		}
		if err := s.notifier.Reminder(ctx, ev); err != nil {
			s.logger.Warn("提醒发送失败", zap.String("user_id", p.user.UserID), zap.Error(err))
			resp.Skipped++
			continue
		}
		// 邮件已发出，记录失败只影响下次冷却判断
		if err := s.repo.User.MarkReminderSent(ctx, p.user.UserID, now); err != nil {
			s.logger.Error("记录提醒时间失败", zap.String("user_id", p.user.UserID), zap.Error(err))
		}
		resp.Sent++
		resp.Recipients = append(resp.Recipients, p.user.Email)
	}

	if err := s.notifier.RemindersSent(ctx, RemindersSentEvent{Count: resp.Sent, Users: resp.Recipients}); err != nil {
		s.logger.Warn("提醒汇总通知发送失败", zap.Error(err))
	}

	s.logger.Info("每周提醒发送完成", zap.Int("sent", resp.Sent), zap.Int("skipped", resp.Skipped))
	return resp, nil
}

// ── 内部辅助方法 ──

// collect 遍历评审与学生，按每条持有记录计算待办
func (s *reminderService) collect(ctx context.Context) ([]userPending, error) {
	users, err := s.repo.User.ListByRoles(ctx, []string{model.RoleReviewer, model.RoleStudent})
	if err != nil {
		s.logger.Error("查询用户失败", zap.Error(err))
		return nil, err
	}

	var result []userPending
	for i := range users {
		sels, err := s.repo.Selection.ListByUser(ctx, users[i].UserID)
		if err != nil {
			s.logger.Error("查询选课记录失败", zap.String("user_id", users[i].UserID), zap.Error(err))
			return nil, err
		}
		if len(sels) == 0 {
			continue
		}

		moduleIDs := make([]string, 0, len(sels))
		for j := range sels {
			moduleIDs = append(moduleIDs, sels[j].ModuleID)
		}
		subs, err := s.repo.Submission.ListByUserAndModules(ctx, users[i].UserID, moduleIDs)
		if err != nil {
			s.logger.Error("查询提交记录失败", zap.String("user_id", users[i].UserID), zap.Error(err))
			return nil, err
		}

		if items := pendingItems(sels, subs); len(items) > 0 {
			result = append(result, userPending{user: users[i], items: items})
		}
	}
	return result, nil
}

// pendingItems 每条持有记录分别检查课堂反馈、作业与资料更新
func pendingItems(sels []model.UserModuleSelection, subs []model.Submission) []dto.PendingItem {
	byKey := indexSubmissions(subs)

	var items []dto.PendingItem
	for i := range sels {
		module := sels[i].Module
		if module == nil {
			continue
		}
		for _, kind := range []string{model.SubmissionInClass, model.SubmissionHomework} {
			sub := byKey[submissionKey(module.ModuleID, kind)]
			switch {
			case sub == nil:
				items = append(items, dto.PendingItem{
					ModuleID: module.ModuleID, ModuleName: module.Name, Kind: kind, Status: dto.PendingNotSubmitted,
				})
			case sub.Grade == nil || sub.Grade.Status != model.GradeStatusCompleted:
				items = append(items, dto.PendingItem{
					ModuleID: module.ModuleID, ModuleName: module.Name, Kind: kind, Status: dto.PendingAwaitingGrade,
				})
			}
		}
		if sels[i].PDFUpdated(module) {
			items = append(items, dto.PendingItem{
				ModuleID: module.ModuleID, ModuleName: module.Name, Kind: dto.PendingKindPDFUpdate, Status: dto.PendingNewVersion,
			})
		}
	}
	return items
}

func submissionKey(moduleID, kind string) string {
	return moduleID + "|" + kind
}

func indexSubmissions(subs []model.Submission) map[string]*model.Submission {
	byKey := make(map[string]*model.Submission, len(subs))
	for i := range subs {
		byKey[submissionKey(subs[i].ModuleID, subs[i].SubmissionType)] = &subs[i]
	}
	return byKey
}
