package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
)

// ── 用户模块业务错误 ──

var (
	ErrCannotChangeOwnRole = errors.New("you cannot change your own role")
	ErrTermsNotAccepted    = errors.New("please accept the terms before continuing")
)

// UserService 用户业务接口
type UserService interface {
	GetByID(ctx context.Context, id string) (*dto.UserResponse, error)
	List(ctx context.Context, req *dto.UserListRequest) ([]dto.UserResponse, int64, error)
	AssignRole(ctx context.Context, id string, req *dto.AssignRoleRequest, callerID string) error
	AcceptTerms(ctx context.Context, userID string) error
	// HasAcceptedTerms 条款中间件使用
	HasAcceptedTerms(ctx context.Context, userID string) (bool, error)
	GetReminderSettings(ctx context.Context, userID string) (*dto.ReminderSettingsResponse, error)
	UpdateReminderSettings(ctx context.Context, userID string, req *dto.ReminderSettingsRequest) (*dto.ReminderSettingsResponse, error)
}

type userService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(repo *repository.Repository, logger *zap.Logger) UserService {
	return &userService{repo: repo, logger: logger}
}

// ────────────────────── GetByID ──────────────────────

func (s *userService) GetByID(ctx context.Context, id string) (*dto.UserResponse, error) {
	user, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

// ────────────────────── List ──────────────────────

func (s *userService) List(ctx context.Context, req *dto.UserListRequest) ([]dto.UserResponse, int64, error) {
	users, total, err := s.repo.User.List(ctx, repository.UserFilter{
		Role:    req.Role,
		Keyword: req.Keyword,
		Offset:  req.GetOffset(),
		Limit:   req.GetPageSize(),
	})
	if err != nil {
		s.logger.Error("查询用户列表失败", zap.Error(err))
		return nil, 0, err
	}

	result := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		result = append(result, *toUserResponse(&users[i]))
	}
	return result, total, nil
}

// ────────────────────── AssignRole ──────────────────────

func (s *userService) AssignRole(ctx context.Context, id string, req *dto.AssignRoleRequest, callerID string) error {
	if id == callerID {
		return ErrCannotChangeOwnRole
	}
	if _, err := s.getUser(ctx, id); err != nil {
		return err
	}

	// 角色变更不回溯已有选课：容量与上限只在写入时检查
	if err := s.repo.User.UpdateRole(ctx, id, req.Role); err != nil {
		s.logger.Error("修改角色失败", zap.String("id", id), zap.Error(err))
		return err
	}

	s.logger.Info("用户角色已修改",
		zap.String("user_id", id),
		zap.String("role", req.Role),
		zap.String("operator", callerID),
	)
	return nil
}

// ────────────────────── AcceptTerms ──────────────────────

func (s *userService) AcceptTerms(ctx context.Context, userID string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.AcceptedTermsAt != nil {
		return nil
	}

	if err := s.repo.User.AcceptTerms(ctx, userID, time.Now()); err != nil {
		s.logger.Error("记录条款同意失败", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

func (s *userService) HasAcceptedTerms(ctx context.Context, userID string) (bool, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.AcceptedTermsAt != nil, nil
}

// ────────────────────── Reminder settings ──────────────────────

func (s *userService) GetReminderSettings(ctx context.Context, userID string) (*dto.ReminderSettingsResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toReminderSettings(user), nil
}

func (s *userService) UpdateReminderSettings(ctx context.Context, userID string, req *dto.ReminderSettingsRequest) (*dto.ReminderSettingsResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.User.SetReminderEnabled(ctx, userID, *req.Enabled); err != nil {
		s.logger.Error("更新提醒设置失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	user.ReminderEnabled = *req.Enabled
	return toReminderSettings(user), nil
}

// ── 内部辅助方法 ──

func (s *userService) getUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.repo.User.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("查询用户失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return user, nil
}

func toReminderSettings(user *model.User) *dto.ReminderSettingsResponse {
	resp := &dto.ReminderSettingsResponse{Enabled: user.ReminderEnabled}
	if user.LastReminderSent != nil {
		resp.LastReminderSent = user.LastReminderSent.Format(dto.TimeLayout)
	}
	return resp
}
