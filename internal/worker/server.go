package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"review-portal/backend/config"
	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/logger"
)

// ReminderSender 每周提醒（由 service.ReminderService 实现）
type ReminderSender interface {
	SendWeekly(ctx context.Context) (*dto.ReminderRunResponse, error)
}

// RedisOpt 由配置生成 asynq 的 Redis 连接参数
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// NewClient 创建任务入队客户端
func NewClient(cfg *config.RedisConfig) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}

// Server 后台任务服务：处理队列任务并按 cron 触发每周提醒
type Server struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

// NewServer 创建任务服务；grades / reminders 为任务处理所需的业务服务
func NewServer(cfg *config.Config, deliver *Deliverer, grades GradeRefresher, reminders ReminderSender, log *zap.Logger) (*Server, error) {
	loc, err := time.LoadLocation(cfg.Worker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("无效的时区 %q: %w", cfg.Worker.Timezone, err)
	}

	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	redisOpt := RedisOpt(&cfg.Redis)
	named := log.Named("worker")
	adapter := logger.NewAsynqAdapter(named)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueGrading: 6,
			QueueDefault: 4,
		},
		Logger: adapter,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			named.Warn("任务执行失败",
				zap.String("type", task.Type()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: loc,
		Logger:   adapter,
	})
	if cfg.Worker.ReminderCron != "" {
		if _, err := scheduler.Register(cfg.Worker.ReminderCron, newWeeklyReminderTask()); err != nil {
			return nil, fmt.Errorf("注册每周提醒失败: %w", err)
		}
	}

	h := &handlers{deliver: deliver, grades: grades, reminders: reminders, logger: named}
	return &Server{srv: srv, scheduler: scheduler, mux: h.mux(), logger: named}, nil
}

// Start 非阻塞启动（serve 内嵌模式）
func (s *Server) Start() error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("启动调度器失败: %w", err)
	}
	if err := s.srv.Start(s.mux); err != nil {
		s.scheduler.Shutdown()
		return fmt.Errorf("启动任务服务失败: %w", err)
	}
	s.logger.Info("后台任务服务已启动")
	return nil
}

// Run 阻塞运行直到收到退出信号（worker 命令）
func (s *Server) Run() error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("启动调度器失败: %w", err)
	}
	defer s.scheduler.Shutdown()
	return s.srv.Run(s.mux)
}

// Shutdown 停止调度器并等待进行中的任务
func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.srv.Shutdown()
	s.logger.Info("后台任务服务已停止")
}

// ────────────────────── 任务处理 ──────────────────────

type handlers struct {
	deliver   *Deliverer
	grades    GradeRefresher
	reminders ReminderSender
	logger    *zap.Logger
}

func (h *handlers) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeModuleSelected, handleEvent(h.deliver.ModuleSelected))
	mux.HandleFunc(TypeSubmission, handleEvent(h.deliver.SubmissionReceived))
	mux.HandleFunc(TypePDFUpdated, handleEvent(h.deliver.PDFUpdated))
	mux.HandleFunc(TypeReminder, handleEvent(h.deliver.Reminder))
	mux.HandleFunc(TypeRemindersSent, handleEvent(h.deliver.RemindersSent))
	mux.HandleFunc(TypeGradeRefresh, h.handleGradeRefresh)
	mux.HandleFunc(TypeWeeklyReminder, h.handleWeeklyReminder)
	return mux
}

// handleEvent 解析载荷后交给对应的发送方法；载荷损坏时不重试
func handleEvent[T any](fn func(context.Context, T) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var ev T
		if err := json.Unmarshal(t.Payload(), &ev); err != nil {
			return fmt.Errorf("解析任务载荷失败: %v: %w", err, asynq.SkipRetry)
		}
		return fn(ctx, ev)
	}
}

// handleGradeRefresh 报告未就绪时返回错误交给 asynq 退避重试，其余业务错误不重试
func (h *handlers) handleGradeRefresh(ctx context.Context, t *asynq.Task) error {
	var p GradeRefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.SubmissionID == "" {
		return fmt.Errorf("解析成绩刷新载荷失败: %w", asynq.SkipRetry)
	}

	grade, err := h.grades.RefreshSubmission(ctx, p.SubmissionID)
	switch {
	case err == nil:
		h.logger.Info("成绩已刷新",
			zap.String("submission_id", p.SubmissionID),
			zap.String("status", grade.Status),
		)
		return nil
	case errors.Is(err, service.ErrGradeReportNotReady):
		return err
	case errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrNotGradable),
		errors.Is(err, service.ErrRepoInaccessible),
		errors.Is(err, service.ErrGradingUnavailable):
		h.logger.Info("成绩刷新已放弃", zap.String("submission_id", p.SubmissionID), zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

func (h *handlers) handleWeeklyReminder(ctx context.Context, _ *asynq.Task) error {
	res, err := h.reminders.SendWeekly(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("每周提醒完成", zap.Int("sent", res.Sent), zap.Int("skipped", res.Skipped))
	return nil
}
