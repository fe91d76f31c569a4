package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	goslack "github.com/slack-go/slack"
	"go.uber.org/zap"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/mailer"
)

// ── Fakes ──

type fakeMail struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeMail) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeChat struct {
	mu      sync.Mutex
	enabled bool
	posted  []*goslack.WebhookMessage
}

func (f *fakeChat) Enabled() bool { return f.enabled }

func (f *fakeChat) Post(_ context.Context, msg *goslack.WebhookMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, msg)
	return nil
}

type fakeLog struct {
	mu   sync.Mutex
	rows []model.Notification
}

func (f *fakeLog) Create(_ context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *n)
	return nil
}

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRefresher) RefreshSubmission(_ context.Context, id string) (*dto.GradeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return &dto.GradeResponse{SubmissionID: id, Status: model.GradeStatusCompleted}, nil
}

func newTestDeliverer(chatEnabled bool) (*Deliverer, *fakeMail, *fakeChat, *fakeLog) {
	mail := &fakeMail{}
	chat := &fakeChat{enabled: chatEnabled}
	log := &fakeLog{}
	d := NewDeliverer(mail, chat, log, []string{"admin@example.com", " "}, "https://portal.example.com/", zap.NewNop())
	return d, mail, chat, log
}

// ── Deliverer ──

func TestDeliverer_ModuleSelected(t *testing.T) {
	d, mail, chat, log := newTestDeliverer(true)

	err := d.ModuleSelected(context.Background(), service.ModuleSelectedEvent{
		UserName: "Ada", UserEmail: "ada@example.com", Role: model.RoleReviewer,
		ModuleID: "m1", ModuleName: "Agents 101", SelectedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("ModuleSelected 失败: %v", err)
	}
	if len(mail.sent) != 1 || mail.sent[0].Subject != "New reviewer: Agents 101" {
		t.Fatalf("期望发送 1 封新评审邮件, got %+v", mail.sent)
	}
	if len(mail.sent[0].To) != 1 || mail.sent[0].To[0].Email != "admin@example.com" {
		t.Errorf("空白管理员邮箱应被忽略, got %+v", mail.sent[0].To)
	}
	if len(chat.posted) != 1 || chat.posted[0].Blocks == nil {
		t.Fatalf("Slack 消息内容不符: %+v", chat.posted)
	}
	if sec, ok := chat.posted[0].Blocks.BlockSet[0].(*goslack.SectionBlock); !ok || !strings.Contains(sec.Text.Text, "*Ada*") {
		t.Errorf("Slack 段落内容不符: %+v", chat.posted[0].Blocks.BlockSet[0])
	}
	if len(log.rows) != 2 {
		t.Fatalf("期望 2 行通知日志（slack + email）, got %d", len(log.rows))
	}
	if log.rows[1].Channel != model.ChannelEmail || *log.rows[1].ModuleID != "m1" {
		t.Errorf("邮件日志行不符: %+v", log.rows[1])
	}
}

func TestDeliverer_SubmissionReceived_HidesPlaceholderLink(t *testing.T) {
	d, mail, _, _ := newTestDeliverer(false)
	minutes := 45

	err := d.SubmissionReceived(context.Background(), service.SubmissionEvent{
		SubmissionID: "s1", UserName: "Ada", UserEmail: "ada@example.com",
		ModuleID: "m1", ModuleName: "Agents 101", SubmissionType: model.SubmissionInClass,
		GithubLink: model.FeedbackPlaceholderLink, Comments: "<b>great</b>",
		TimeSpentMinutes: &minutes, FeedbackResponses: map[string]int{"q_overall": 9},
	})
	if err != nil {
		t.Fatalf("SubmissionReceived 失败: %v", err)
	}
	msg := mail.sent[0]
	if msg.Subject != "New in_class submission: Agents 101" {
		t.Errorf("主题不符: %q", msg.Subject)
	}
	if strings.Contains(msg.Text, "Repository") {
		t.Error("占位链接不应出现在邮件中")
	}
	if !strings.Contains(msg.Text, "Overall Rating: 9/10") || !strings.Contains(msg.Text, "45 minutes") {
		t.Errorf("纯文本正文缺少评分或用时:\n%s", msg.Text)
	}
	if strings.Contains(msg.HTML, "<b>great</b>") {
		t.Error("HTML 正文应转义评论内容")
	}
}

func TestDeliverer_PDFUpdated_CountsOnlyDelivered(t *testing.T) {
	d, mail, chat, log := newTestDeliverer(true)
	mail.err = errors.New("sendgrid down")

	err := d.PDFUpdated(context.Background(), service.PDFUpdatedEvent{
		ModuleID: "m1", ModuleName: "Agents 101", Cursor: "v2",
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	if err == nil {
		t.Fatal("邮件失败时应返回错误以便重试")
	}
	if len(chat.posted) != 1 || !strings.Contains(chat.posted[0].Text, "Notified 0 reviewer(s)") {
		t.Errorf("Slack 汇总应只统计成功发送的数量: %+v", chat.posted)
	}
	if len(log.rows) != 1 || log.rows[0].Channel != model.ChannelSlack {
		t.Errorf("只应记录 Slack 日志行, got %+v", log.rows)
	}
}

func TestDeliverer_Reminder(t *testing.T) {
	d, mail, _, log := newTestDeliverer(false)

	err := d.Reminder(context.Background(), service.ReminderEvent{
		UserID: "u1", UserName: "Ada", UserEmail: "ada@example.com",
		Items: []dto.PendingItem{
			{ModuleName: "Agents 101", Kind: model.SubmissionHomework, Status: dto.PendingNotSubmitted},
			{ModuleName: "RAG", Kind: dto.PendingKindPDFUpdate, Status: dto.PendingNewVersion},
		},
	})
	if err != nil {
		t.Fatalf("Reminder 失败: %v", err)
	}
	if len(mail.sent) != 1 || mail.sent[0].Subject != "You have pending work" {
		t.Fatalf("期望 1 封提醒邮件, got %+v", mail.sent)
	}
	body := mail.sent[0].Text
	for _, want := range []string{"Pending Submissions", "Agents 101 - Homework", "Updated Materials", "RAG"} {
		if !strings.Contains(body, want) {
			t.Errorf("提醒正文缺少 %q:\n%s", want, body)
		}
	}
	if len(log.rows) != 1 || log.rows[0].ModuleID != nil {
		t.Errorf("提醒日志行不应关联模块: %+v", log.rows)
	}

	// 无待办不发送
	mail.sent = nil
	if err := d.Reminder(context.Background(), service.ReminderEvent{UserEmail: "x@example.com"}); err != nil {
		t.Fatal(err)
	}
	if len(mail.sent) != 0 {
		t.Error("无待办时不应发送邮件")
	}
}

func TestDeliverer_SlackDisabled(t *testing.T) {
	d, _, chat, log := newTestDeliverer(false)
	if err := d.RemindersSent(context.Background(), service.RemindersSentEvent{Count: 3}); err != nil {
		t.Fatal(err)
	}
	if len(chat.posted) != 0 || len(log.rows) != 0 {
		t.Error("未配置 Slack 时不应发送也不应记录")
	}
}

// ── Dispatcher ──

func TestDispatcher_EnqueuesWhenQueueAvailable(t *testing.T) {
	d, mail, _, _ := newTestDeliverer(false)
	q := &fakeQueue{}
	disp := NewDispatcher(q, d, zap.NewNop())

	if err := disp.SubmissionReceived(context.Background(), service.SubmissionEvent{SubmissionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if err := disp.EnqueueGradeRefresh(context.Background(), "s1", time.Minute); err != nil {
		t.Fatal(err)
	}
	disp.Wait()

	if len(q.tasks) != 2 {
		t.Fatalf("期望入队 2 个任务, got %d", len(q.tasks))
	}
	if q.tasks[0].Type() != TypeSubmission || q.tasks[1].Type() != TypeGradeRefresh {
		t.Errorf("任务类型不符: %s, %s", q.tasks[0].Type(), q.tasks[1].Type())
	}
	var p GradeRefreshPayload
	if err := json.Unmarshal(q.tasks[1].Payload(), &p); err != nil || p.SubmissionID != "s1" {
		t.Errorf("成绩刷新载荷不符: %s", q.tasks[1].Payload())
	}
	if len(mail.sent) != 0 {
		t.Error("入队成功时不应在进程内发送")
	}
}

func TestDispatcher_FallsBackInProcess(t *testing.T) {
	d, mail, _, _ := newTestDeliverer(false)
	disp := NewDispatcher(&fakeQueue{err: errors.New("redis down")}, d, zap.NewNop())

	if err := disp.ModuleSelected(context.Background(), service.ModuleSelectedEvent{ModuleName: "Agents 101"}); err != nil {
		t.Fatalf("降级发送不应返回错误: %v", err)
	}
	disp.Wait()
	if len(mail.sent) != 1 {
		t.Fatalf("期望进程内发送 1 封邮件, got %d", len(mail.sent))
	}
}

func TestDispatcher_GradeRefreshFallback(t *testing.T) {
	d, _, _, _ := newTestDeliverer(false)
	disp := NewDispatcher(nil, d, zap.NewNop())

	if err := disp.EnqueueGradeRefresh(context.Background(), "s1", 0); !errors.Is(err, service.ErrGradingUnavailable) {
		t.Fatalf("未注入刷新器时应返回 ErrGradingUnavailable, got %v", err)
	}

	r := &fakeRefresher{}
	disp.SetGradeRefresher(r)
	if err := disp.EnqueueGradeRefresh(context.Background(), "s1", 0); err != nil {
		t.Fatal(err)
	}
	disp.Wait()
	if len(r.calls) != 1 || r.calls[0] != "s1" {
		t.Errorf("期望进程内刷新 s1, got %v", r.calls)
	}
}

// ── Handlers ──

func TestHandleGradeRefresh_RetryPolicy(t *testing.T) {
	task, _ := newGradeRefreshTask("s1", 0)

	cases := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{"成功", nil, false, false},
		{"报告未就绪需重试", service.ErrGradeReportNotReady, true, false},
		{"提交不存在不重试", service.ErrSubmissionNotFound, true, true},
		{"仓库不可访问不重试", service.ErrRepoInaccessible, true, true},
		{"未知错误重试", errors.New("timeout"), true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &handlers{grades: &fakeRefresher{err: tc.err}, logger: zap.NewNop()}
			err := h.handleGradeRefresh(context.Background(), task)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if errors.Is(err, asynq.SkipRetry) != tc.skipRetry {
				t.Errorf("SkipRetry = %v, want %v", errors.Is(err, asynq.SkipRetry), tc.skipRetry)
			}
		})
	}
}

func TestHandleEvent_BadPayloadSkipsRetry(t *testing.T) {
	d, _, _, _ := newTestDeliverer(false)
	fn := handleEvent(d.ModuleSelected)
	err := fn(context.Background(), asynq.NewTask(TypeModuleSelected, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("载荷损坏应跳过重试, got %v", err)
	}
}
