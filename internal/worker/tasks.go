package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型
const (
	TypeModuleSelected = "notify:module_selected"
	TypeSubmission     = "notify:submission"
	TypePDFUpdated     = "notify:pdf_updated"
	TypeReminder       = "notify:reminder"
	TypeRemindersSent  = "notify:reminders_sent"
	TypeGradeRefresh   = "grade:refresh"
	TypeWeeklyReminder = "reminder:weekly"
)

// 队列
const (
	QueueDefault = "default"
	QueueGrading = "grading"
)

// GradeRefreshPayload 成绩刷新任务载荷
type GradeRefreshPayload struct {
	SubmissionID string `json:"submission_id"`
}

// newNotifyTask 通知类任务：重试 3 次，保留 24 小时
func newNotifyTask(taskType string, payload interface{}) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		taskType,
		data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Retention(24*time.Hour),
	), nil
}

// newGradeRefreshTask 评分报告可能尚未生成，重试次数放宽；同一提交 10 分钟内去重
func newGradeRefreshTask(submissionID string, delay time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(GradeRefreshPayload{SubmissionID: submissionID})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueGrading),
		asynq.MaxRetry(6),
		asynq.Timeout(2 * time.Minute),
		asynq.Retention(24 * time.Hour),
		asynq.Unique(10 * time.Minute),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return asynq.NewTask(TypeGradeRefresh, data, opts...), nil
}

// newWeeklyReminderTask 周期任务，载荷为空
func newWeeklyReminderTask() *asynq.Task {
	return asynq.NewTask(
		TypeWeeklyReminder,
		nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(15*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Unique(12*time.Hour),
	)
}
