package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/service"
)

// fallbackTimeout 进程内发送的超时
const fallbackTimeout = time.Minute

// GradeRefresher 成绩刷新（由 service.GradeService 实现）
type GradeRefresher interface {
	RefreshSubmission(ctx context.Context, submissionID string) (*dto.GradeResponse, error)
}

// Enqueuer asynq.Client 的子集
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher 将业务事件投递到 asynq 队列
// 入队失败或未配置队列时降级为进程内异步发送，调用方永远不会因通知失败而报错
type Dispatcher struct {
	queue   Enqueuer
	deliver *Deliverer
	logger  *zap.Logger

	mu     sync.RWMutex
	grades GradeRefresher

	wg sync.WaitGroup
}

var (
	_ service.Notifier   = (*Dispatcher)(nil)
	_ service.GradeQueue = (*Dispatcher)(nil)
)

// NewDispatcher queue 为 nil 时全部走进程内发送
func NewDispatcher(queue Enqueuer, deliver *Deliverer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, deliver: deliver, logger: logger.Named("dispatcher")}
}

// SetGradeRefresher 服务层构建完成后注入，用于进程内成绩刷新
func (d *Dispatcher) SetGradeRefresher(r GradeRefresher) {
	d.mu.Lock()
	d.grades = r
	d.mu.Unlock()
}

// Wait 等待进程内任务完成（关闭与测试时使用）
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ── service.Notifier ──

func (d *Dispatcher) ModuleSelected(ctx context.Context, ev service.ModuleSelectedEvent) error {
	return d.dispatch(ctx, TypeModuleSelected, ev, func(c context.Context) error {
		return d.deliver.ModuleSelected(c, ev)
	})
}

func (d *Dispatcher) SubmissionReceived(ctx context.Context, ev service.SubmissionEvent) error {
	return d.dispatch(ctx, TypeSubmission, ev, func(c context.Context) error {
		return d.deliver.SubmissionReceived(c, ev)
	})
}

func (d *Dispatcher) PDFUpdated(ctx context.Context, ev service.PDFUpdatedEvent) error {
	return d.dispatch(ctx, TypePDFUpdated, ev, func(c context.Context) error {
		return d.deliver.PDFUpdated(c, ev)
	})
}

func (d *Dispatcher) Reminder(ctx context.Context, ev service.ReminderEvent) error {
	return d.dispatch(ctx, TypeReminder, ev, func(c context.Context) error {
		return d.deliver.Reminder(c, ev)
	})
}

func (d *Dispatcher) RemindersSent(ctx context.Context, ev service.RemindersSentEvent) error {
	return d.dispatch(ctx, TypeRemindersSent, ev, func(c context.Context) error {
		return d.deliver.RemindersSent(c, ev)
	})
}

// ── service.GradeQueue ──

func (d *Dispatcher) EnqueueGradeRefresh(ctx context.Context, submissionID string, delay time.Duration) error {
	if d.queue != nil {
		task, err := newGradeRefreshTask(submissionID, delay)
		if err != nil {
			return err
		}
		if _, err := d.queue.EnqueueContext(ctx, task); err == nil {
			return nil
		} else {
			d.logger.Warn("成绩刷新任务入队失败，改为进程内执行",
				zap.String("submission_id", submissionID), zap.Error(err))
		}
	}

	d.mu.RLock()
	refresher := d.grades
	d.mu.RUnlock()
	if refresher == nil {
		return service.ErrGradingUnavailable
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		c, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
		defer cancel()
		if _, err := refresher.RefreshSubmission(c, submissionID); err != nil {
			d.logger.Warn("进程内成绩刷新失败", zap.String("submission_id", submissionID), zap.Error(err))
		}
	}()
	return nil
}

// dispatch 优先入队，失败时降级为 goroutine 发送
func (d *Dispatcher) dispatch(ctx context.Context, taskType string, payload interface{}, fallback func(context.Context) error) error {
	if d.queue != nil {
		task, err := newNotifyTask(taskType, payload)
		if err != nil {
			return err
		}
		if _, err := d.queue.EnqueueContext(ctx, task); err == nil {
			return nil
		} else {
			d.logger.Warn("通知任务入队失败，改为进程内发送", zap.String("type", taskType), zap.Error(err))
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		c, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
		defer cancel()
		if err := fallback(c); err != nil {
			d.logger.Warn("进程内通知发送失败", zap.String("type", taskType), zap.Error(err))
		}
	}()
	return nil
}
