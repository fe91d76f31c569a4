package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"review-portal/backend/internal/api/handler"
	"review-portal/backend/internal/api/router"
	"review-portal/backend/internal/worker"
	"review-portal/backend/pkg/oauth"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "portal",
		Short:         "Course review portal backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认查找 ./config.yaml 与 ./config/config.yaml）")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "启动 HTTP 服务（worker.embedded=true 时同时运行后台任务）",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "只运行后台任务与每周提醒调度",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runWorker(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "执行数据库迁移后退出",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "remind",
			Short: "立即发送一次每周提醒",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runRemind(cmd.Context())
			},
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// ────────────────────── serve ──────────────────────

func runServe(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	logger.Info("应用启动中...",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("log_level", a.cfg.Log.Level),
		zap.String("release_policy", a.cfg.Selection.ReleasePolicy),
	)

	if err := a.migrate(); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	// 内嵌后台任务（需要 Redis）
	if a.cfg.Worker.Embedded && a.rdb != nil {
		srv, err := worker.NewServer(a.cfg, a.deliver, a.svc.Grade, a.svc.Reminder, logger)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Shutdown()
	}

	h := handler.NewHandler(a.cfg, a.svc, oauth.NewGoogle(a.cfg, logger), logger)
	deps := router.Deps{
		Terms: a.svc.User,
		Ping: func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.rdb != nil {
		deps.Blacklist = a.rdb
		deps.Limiter = a.rdb
	}
	engine := router.Setup(a.cfg, h, a.jwtMgr, deps, logger)

	// 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // PDF 流式下载
		IdleTimeout:  60 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("收到关闭信号，开始优雅关闭...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务器异常: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}
	logger.Info("服务器已关闭")
	return nil
}

// ────────────────────── worker ──────────────────────

func runWorker(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.rdb == nil {
		return errors.New("worker 需要可用的 Redis")
	}

	srv, err := worker.NewServer(a.cfg, a.deliver, a.svc.Grade, a.svc.Reminder, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info("后台任务服务启动",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.String("reminder_cron", a.cfg.Worker.ReminderCron),
		zap.String("timezone", a.cfg.Worker.Timezone),
	)
	// Run 内部处理 SIGINT/SIGTERM
	return srv.Run()
}

// ────────────────────── migrate ──────────────────────

func runMigrate(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return a.migrate()
}

// ────────────────────── remind ──────────────────────

func runRemind(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.svc.Reminder.SendWeekly(ctx)
	if err != nil {
		return fmt.Errorf("发送提醒失败: %w", err)
	}
	a.logger.Info("每周提醒已发送", zap.Int("sent", res.Sent), zap.Int("skipped", res.Skipped))
	return nil
}
