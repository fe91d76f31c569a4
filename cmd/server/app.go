package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"review-portal/backend/config"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
	"review-portal/backend/internal/service"
	"review-portal/backend/internal/worker"
	"review-portal/backend/pkg/database"
	"review-portal/backend/pkg/drive"
	"review-portal/backend/pkg/github"
	"review-portal/backend/pkg/jwt"
	applogger "review-portal/backend/pkg/logger"
	"review-portal/backend/pkg/mailer"
	"review-portal/backend/pkg/redis"
	"review-portal/backend/pkg/slack"
)

// app 各子命令共用的依赖
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	rdb        *redis.Client // 可能为 nil
	queue      *asynq.Client // 可能为 nil
	repo       *repository.Repository
	jwtMgr     *jwt.Manager
	svc        *service.Service
	deliver    *worker.Deliverer
	dispatcher *worker.Dispatcher
}

// bootstrap 加载配置、连接存储并组装服务层
func bootstrap(ctx context.Context) (*app, error) {
	// 1. 加载配置
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	// 3. 连接数据库
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, repo: repository.NewRepository(db), jwtMgr: jwt.NewManager(&cfg.Auth)}

	// 4. 连接 Redis（可选：连接失败时降级运行，不中断启动）
	if rdb, err := redis.NewClient(&cfg.Redis, logger); err != nil {
		logger.Warn("Redis 连接失败，黑名单、缓存与任务队列不可用", zap.Error(err))
	} else {
		a.rdb = rdb
		a.queue = worker.NewClient(&cfg.Redis)
	}

	// 5. 通知出口
	a.deliver = worker.NewDeliverer(
		mailer.New(&cfg.Mail, logger.Named("mailer")),
		slack.NewClient(cfg.Slack.WebhookURL),
		a.repo.Notification,
		cfg.Mail.AdminEmails,
		cfg.Server.FrontendURL,
		logger,
	)
	var queue worker.Enqueuer
	if a.queue != nil {
		queue = a.queue
	}
	a.dispatcher = worker.NewDispatcher(queue, a.deliver, logger)

	// 6. 依赖注入: Repository → Service
	a.svc = service.NewService(cfg, a.repo, a.jwtMgr, a.serviceDeps(ctx), logger)
	a.dispatcher.SetGradeRefresher(a.svc.Grade)

	return a, nil
}

// serviceDeps 未配置的外部依赖保持为 nil 接口
func (a *app) serviceDeps(ctx context.Context) service.Deps {
	deps := service.Deps{
		Notifier:   a.dispatcher,
		GradeQueue: a.dispatcher,
	}
	if a.rdb != nil {
		deps.Blacklist = a.rdb
		deps.Cache = a.rdb
	}

	driveClient, err := drive.NewClient(ctx, &a.cfg.Drive)
	switch {
	case err == nil:
		deps.Drive = driveClient
	case errors.Is(err, drive.ErrNotConfigured):
		a.logger.Warn("未配置 Google Drive 凭据，模块资料不可用")
	default:
		a.logger.Warn("Google Drive 初始化失败，模块资料不可用", zap.Error(err))
	}

	if a.cfg.GitHub.Token != "" {
		deps.GradeSource = github.NewClient(&a.cfg.GitHub)
	} else {
		a.logger.Warn("未配置 GitHub Token，自动评分不可用")
	}
	return deps
}

// migrate 执行数据库迁移
func (a *app) migrate() error {
	return database.Migrate(a.db, model.All(), a.logger)
}

// close 释放连接；进程内降级任务先行完成
func (a *app) close() {
	a.dispatcher.Wait()
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
