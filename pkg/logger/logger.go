package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"

	"review-portal/backend/config"
)

// NewLogger 根据配置初始化 Zap 日志实例
// format=console 用于本地开发（彩色级别），其余一律输出 JSON
func NewLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	switch cfg.Format {
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("初始化日志器失败: %w", err)
	}

	return logger.With(zap.String("service", "review-portal")), nil
}

// GormLevel 将应用日志级别映射为 GORM 日志级别
// debug 打印全部 SQL；info/warn 只打印慢查询与错误；其余静默
func GormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info", "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}

// AsynqAdapter 将 zap 适配为 asynq.Logger 接口
type AsynqAdapter struct {
	l *zap.SugaredLogger
}

// NewAsynqAdapter 创建 asynq 日志适配器
func NewAsynqAdapter(l *zap.Logger) *AsynqAdapter {
	return &AsynqAdapter{l: l.Named("asynq").Sugar()}
}

func (a *AsynqAdapter) Debug(args ...interface{}) { a.l.Debug(args...) }
func (a *AsynqAdapter) Info(args ...interface{})  { a.l.Info(args...) }
func (a *AsynqAdapter) Warn(args ...interface{})  { a.l.Warn(args...) }
func (a *AsynqAdapter) Error(args ...interface{}) { a.l.Error(args...) }

// Fatal 不直接退出进程，交由 asynq 自身处理
func (a *AsynqAdapter) Fatal(args ...interface{}) {
	a.l.Error(args...)
	panic(fmt.Sprint(args...))
}
