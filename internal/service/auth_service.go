package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/config"
	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/policy"
	"review-portal/backend/internal/repository"
	"review-portal/backend/pkg/jwt"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidOAuthProfile = errors.New("the identity provider returned an incomplete profile")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// TokenBlacklist Token 黑名单存储（由 pkg/redis.Client 实现）
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// AuthService 认证业务接口
type AuthService interface {
	// LoginWithOAuth 按 google_id 新建或更新用户并签发 Token 对
	LoginWithOAuth(ctx context.Context, profile *dto.OAuthProfile) (*dto.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*dto.TokenResponse, error)
	// Logout 将 access/refresh token 加入黑名单直至过期
	Logout(ctx context.Context, accessJTI string, accessExp time.Time, refreshToken string) error
	Me(ctx context.Context, userID string) (*dto.UserDetailResponse, error)
}

type authService struct {
	cfg       *config.Config
	repo      *repository.Repository
	jwtMgr    *jwt.Manager
	blacklist TokenBlacklist
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService 创建 AuthService 实例；blacklist 为 nil 时登出仅清除 Cookie
func NewAuthService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	blacklist TokenBlacklist,
	logger *zap.Logger,
) AuthService {
	return &authService{
		cfg:       cfg,
		repo:      repo,
		jwtMgr:    jwtMgr,
		blacklist: blacklist,
		logger:    logger,
		now:       time.Now,
	}
}

// ────────────────────── LoginWithOAuth ──────────────────────

func (s *authService) LoginWithOAuth(ctx context.Context, profile *dto.OAuthProfile) (*dto.TokenResponse, error) {
	if profile == nil || profile.GoogleID == "" || profile.Email == "" {
		return nil, ErrInvalidOAuthProfile
	}
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	now := s.now()

	user, err := s.repo.User.GetByGoogleID(ctx, profile.GoogleID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 首次登录：管理员邮箱直接授予 admin，其余默认 reviewer
		role := model.RoleReviewer
		if s.cfg.OAuth.IsAdminEmail(email) {
			role = model.RoleAdmin
		}
		user = &model.User{
			GoogleID:        profile.GoogleID,
			Email:           email,
			Name:            profile.Name,
			PictureURL:      profile.PictureURL,
			Role:            role,
			ReminderEnabled: true,
			LastLoginAt:     &now,
		}
		if err := s.repo.User.Create(ctx, user); err != nil {
			s.logger.Error("创建用户失败", zap.String("email", email), zap.Error(err))
			return nil, err
		}
		s.logger.Info("新用户注册", zap.String("user_id", user.UserID), zap.String("role", role))
	case err != nil:
		s.logger.Error("查询用户失败", zap.Error(err))
		return nil, err
	default:
		user.Email = email
		if profile.Name != "" {
			user.Name = profile.Name
		}
		if profile.PictureURL != "" {
			user.PictureURL = profile.PictureURL
		}
		user.LastLoginAt = &now
		if err := s.repo.User.Update(ctx, user); err != nil {
			s.logger.Error("更新登录信息失败", zap.String("user_id", user.UserID), zap.Error(err))
			return nil, err
		}
	}

	return s.issueTokens(user)
}

// ────────────────────── Refresh ──────────────────────

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*dto.TokenResponse, error) {
	claims, err := s.jwtMgr.ParseToken(refreshToken)
	if err != nil || claims.TokenType != jwt.TokenTypeRefresh {
		return nil, ErrInvalidRefreshToken
	}

	if s.blacklist != nil {
		revoked, err := s.blacklist.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			s.logger.Error("查询 Token 黑名单失败", zap.Error(err))
			return nil, err
		}
		if revoked {
			return nil, ErrInvalidRefreshToken
		}
	}

	user, err := s.repo.User.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		s.logger.Error("查询用户失败", zap.String("user_id", claims.UserID), zap.Error(err))
		return nil, err
	}

	// 轮换：旧 refresh token 立即作废
	if s.blacklist != nil {
		if err := s.blacklist.BlacklistToken(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			s.logger.Warn("旧 RefreshToken 加入黑名单失败", zap.Error(err))
		}
	}

	return s.issueTokens(user)
}

// ────────────────────── Logout ──────────────────────

func (s *authService) Logout(ctx context.Context, accessJTI string, accessExp time.Time, refreshToken string) error {
	if s.blacklist == nil {
		return nil
	}
	if accessJTI != "" {
		if err := s.blacklist.BlacklistToken(ctx, accessJTI, time.Until(accessExp)); err != nil {
			s.logger.Error("AccessToken 加入黑名单失败", zap.Error(err))
			return err
		}
	}
	if refreshToken != "" {
		if claims, err := s.jwtMgr.ParseToken(refreshToken); err == nil {
			if err := s.blacklist.BlacklistToken(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
				s.logger.Warn("RefreshToken 加入黑名单失败", zap.Error(err))
			}
		}
	}
	return nil
}

// ────────────────────── Me ──────────────────────

func (s *authService) Me(ctx context.Context, userID string) (*dto.UserDetailResponse, error) {
	user, err := s.repo.User.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("查询用户失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	sels, err := s.repo.Selection.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询选课记录失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	limits := policy.Limits(s.cfg.Selection.MaxModules)
	resp := &dto.UserDetailResponse{
		UserResponse: *toUserResponse(user),
		Selections:   make([]dto.SelectionResponse, 0, len(sels)),
		MaxModules:   limits.MaxFor(user.Role),
		CreatedAt:    user.CreatedAt.Format(dto.TimeLayout),
	}
	for i := range sels {
		item := toSelectionResponse(&sels[i], sels[i].Module)
		resp.Selections = append(resp.Selections, *item)
		if item.IsActive {
			resp.ActiveSelection = item
		}
	}
	if user.AcceptedTermsAt != nil {
		resp.AcceptedTermsAt = user.AcceptedTermsAt.Format(dto.TimeLayout)
	}
	if user.LastLoginAt != nil {
		resp.LastLoginAt = user.LastLoginAt.Format(dto.TimeLayout)
	}
	return resp, nil
}

// ── 内部辅助方法 ──

func (s *authService) issueTokens(user *model.User) (*dto.TokenResponse, error) {
	accessToken, err := s.jwtMgr.GenerateAccessToken(user.UserID, user.Role, user.Email)
	if err != nil {
		s.logger.Error("生成 AccessToken 失败", zap.Error(err))
		return nil, err
	}

	refreshToken, err := s.jwtMgr.GenerateRefreshToken(user.UserID, user.Role, user.Email)
	if err != nil {
		s.logger.Error("生成 RefreshToken 失败", zap.Error(err))
		return nil, err
	}

	return &dto.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.jwtMgr.AccessTokenTTL().Seconds()),
		User:         *toUserResponse(user),
	}, nil
}

func toUserResponse(user *model.User) *dto.UserResponse {
	return &dto.UserResponse{
		ID:               user.UserID,
		Name:             user.Name,
		Email:            user.Email,
		PictureURL:       user.PictureURL,
		Role:             user.Role,
		StudentNumber:    user.StudentNumber,
		Cohort:           user.Cohort,
		AcceptedTerms:    user.AcceptedTermsAt != nil,
		ReminderEnabled:  user.ReminderEnabled,
		SelectedModuleID: user.SelectedModuleID,
	}
}
