package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/mailer"
	"review-portal/backend/pkg/slack"
)

// Slack 日志行的收件人占位
const slackRecipient = "slack-webhook"

// commentPreviewLen Slack 中评论最多展示的字符数
const commentPreviewLen = 500

// MailSender 邮件出口（由 pkg/mailer.Mailer 实现）
type MailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// ChatPoster Slack 出口（由 pkg/slack.Client 实现）
type ChatPoster interface {
	Enabled() bool
	Post(ctx context.Context, msg *goslack.WebhookMessage) error
}

// NotificationLog 通知发送日志（由 repository.NotificationRepository 实现）
type NotificationLog interface {
	Create(ctx context.Context, n *model.Notification) error
}

// Deliverer 真正发送通知：邮件 + Slack，成功后写入 notifications 表
type Deliverer struct {
	mail        MailSender
	chat        ChatPoster
	log         NotificationLog
	adminEmails []string
	appURL      string
	logger      *zap.Logger
	now         func() time.Time
}

// NewDeliverer 创建 Deliverer；appURL 为前端地址，用于邮件与 Slack 中的链接
func NewDeliverer(mail MailSender, chat ChatPoster, log NotificationLog, adminEmails []string, appURL string, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		mail:        mail,
		chat:        chat,
		log:         log,
		adminEmails: adminEmails,
		appURL:      strings.TrimRight(appURL, "/"),
		logger:      logger.Named("deliver"),
		now:         time.Now,
	}
}

// ────────────────────── 新评审 ──────────────────────

// ModuleSelected 用户选中模块：Slack 一条 + 管理员邮件
func (d *Deliverer) ModuleSelected(ctx context.Context, ev service.ModuleSelectedEvent) error {
	meta := map[string]interface{}{"user_id": ev.UserID, "user_email": ev.UserEmail, "role": ev.Role}

	slackErr := d.postSlack(ctx, model.NotificationModuleSelected, &ev.ModuleID, meta, slack.NewMessage(
		fmt.Sprintf("%s signed up to review %s", ev.UserName, ev.ModuleName),
		slack.Section(fmt.Sprintf("*%s* (%s) signed up to review *%s*", ev.UserName, ev.UserEmail, ev.ModuleName)),
	))

	view := emailView{
		Title: "New Module Reviewer",
		Rows: []emailRow{
			{Label: "Reviewer", Value: fmt.Sprintf("%s (%s)", ev.UserName, ev.UserEmail)},
			{Label: "Role", Value: ev.Role},
			{Label: "Module", Value: ev.ModuleName},
			{Label: "Selected At", Value: ev.SelectedAt.UTC().Format(time.RFC1123)},
		},
		LinkURL:  d.appURL + "/admin",
		LinkText: "Open Admin Dashboard",
	}
	mailErr := d.sendEmail(ctx, model.NotificationModuleSelected, &ev.ModuleID, meta,
		d.admins(), "New reviewer: "+ev.ModuleName, view)

	return errors.Join(slackErr, mailErr)
}

// ────────────────────── 新提交 ──────────────────────

// feedbackLabels 评分题目展示顺序
var feedbackLabels = []struct{ Key, Label string }{
	{"q_objectives", "Learning Objectives"},
	{"q_content", "Content Quality"},
	{"q_starter_code", "Starter Code"},
	{"q_difficulty", "Difficulty Level"},
	{"q_overall", "Overall Rating"},
}

// SubmissionReceived 收到提交：Slack 富文本 + 管理员邮件
func (d *Deliverer) SubmissionReceived(ctx context.Context, ev service.SubmissionEvent) error {
	meta := map[string]interface{}{
		"submission_id":   ev.SubmissionID,
		"user_email":      ev.UserEmail,
		"submission_type": ev.SubmissionType,
	}
	typeLabel := submissionTypeLabel(ev.SubmissionType)
	timeSpent := "N/A"
	if ev.TimeSpentMinutes != nil {
		timeSpent = fmt.Sprintf("%d minutes", *ev.TimeSpentMinutes)
	}
	comments := ev.Comments
	if comments == "" {
		comments = "No additional comments"
	}

	blocks := []goslack.Block{
		slack.Header(fmt.Sprintf("New %s Submission", typeLabel)),
		slack.Fields(
			"Module", ev.ModuleName,
			"Submitted By", ev.UserName,
			"Time Spent", timeSpent,
			"Email", ev.UserEmail,
		),
	}
	if ratings := slackRatings(ev.FeedbackResponses); ratings != "" {
		blocks = append(blocks, slack.Section("*Ratings (1-10 scale):*\n"+ratings))
	}
	if hasRepo(ev.GithubLink) {
		blocks = append(blocks, slack.Section(fmt.Sprintf("*Repository:* <%s>", ev.GithubLink)))
	}
	blocks = append(blocks,
		slack.Section(fmt.Sprintf("*Additional Comments:*\n```%s```", truncate(comments, commentPreviewLen))),
		slack.Context(fmt.Sprintf("<%s/admin/submissions|View All Submissions>", d.appURL)),
	)
	slackErr := d.postSlack(ctx, model.NotificationSubmission, &ev.ModuleID, meta, slack.NewMessage(
		fmt.Sprintf("New %s submission for %s from %s", strings.ToLower(typeLabel), ev.ModuleName, ev.UserName),
		blocks...,
	))

	rows := []emailRow{
		{Label: "Submitted By", Value: fmt.Sprintf("%s (%s)", ev.UserName, ev.UserEmail)},
		{Label: "Module", Value: ev.ModuleName},
		{Label: "Type", Value: typeLabel},
		{Label: "Time Spent", Value: timeSpent},
	}
	if hasRepo(ev.GithubLink) {
		rows = append(rows, emailRow{Label: "Repository", Value: ev.GithubLink})
	}
	for _, f := range feedbackLabels {
		if v, ok := ev.FeedbackResponses[f.Key]; ok {
			rows = append(rows, emailRow{Label: f.Label, Value: fmt.Sprintf("%d/10", v)})
		}
	}
	view := emailView{
		Title:    fmt.Sprintf("New %s Submission", typeLabel),
		Rows:     rows,
		Quote:    comments,
		LinkURL:  d.appURL + "/admin/submissions",
		LinkText: "View All Submissions",
	}
	subject := fmt.Sprintf("New %s submission: %s", ev.SubmissionType, ev.ModuleName)
	mailErr := d.sendEmail(ctx, model.NotificationSubmission, &ev.ModuleID, meta, d.admins(), subject, view)

	return errors.Join(slackErr, mailErr)
}

// ────────────────────── 资料更新 ──────────────────────

// PDFUpdated 逐个通知持有人，再向 Slack 发送汇总
func (d *Deliverer) PDFUpdated(ctx context.Context, ev service.PDFUpdatedEvent) error {
	meta := map[string]interface{}{"cursor": ev.Cursor}
	view := emailView{
		Title: "Module Materials Updated",
		Intro: []string{
			fmt.Sprintf("The PDF for %s has been updated.", ev.ModuleName),
			"Please download the latest version before completing your review.",
		},
		LinkURL:  d.appURL + "/dashboard",
		LinkText: "View Updated Materials",
	}

	var errs []error
	notified := 0
	for _, email := range ev.Recipients {
		err := d.sendEmail(ctx, model.NotificationPDFUpdated, &ev.ModuleID, meta,
			[]mailer.Recipient{{Email: email}}, "Updated materials: "+ev.ModuleName, view)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		notified++
	}

	summary := fmt.Sprintf("*%s* PDF was updated. Notified %d reviewer(s) via email.", ev.ModuleName, notified)
	errs = append(errs, d.postSlack(ctx, model.NotificationPDFUpdated, &ev.ModuleID,
		map[string]interface{}{"cursor": ev.Cursor, "notified": notified},
		slack.NewMessage(strings.ReplaceAll(summary, "*", ""), slack.Section(summary))))

	return errors.Join(errs...)
}

// ────────────────────── 每周提醒 ──────────────────────

// Reminder 给单个用户发送待办提醒
func (d *Deliverer) Reminder(ctx context.Context, ev service.ReminderEvent) error {
	if len(ev.Items) == 0 {
		return nil
	}

	var notSubmitted, awaiting, updated []string
	for _, it := range ev.Items {
		switch it.Status {
		case dto.PendingNotSubmitted:
			notSubmitted = append(notSubmitted, fmt.Sprintf("%s - %s", it.ModuleName, submissionTypeLabel(it.Kind)))
		case dto.PendingAwaitingGrade:
			awaiting = append(awaiting, fmt.Sprintf("%s - %s", it.ModuleName, submissionTypeLabel(it.Kind)))
		case dto.PendingNewVersion:
			updated = append(updated, it.ModuleName)
		}
	}

	view := emailView{
		Title:     "Weekly Progress Reminder",
		Greeting:  fmt.Sprintf("Hi %s,", ev.UserName),
		Intro:     []string{"Here's a quick update on your course evaluation progress:"},
		LinkURL:   d.appURL + "/dashboard",
		LinkText:  "Go to Dashboard",
		FooterURL: d.appURL + "/settings/reminders",
		FooterTxt: "Manage reminder preferences",
	}
	if len(notSubmitted) > 0 {
		view.Sections = append(view.Sections, emailSection{Title: "Pending Submissions", Color: "#f59e0b", Lines: notSubmitted})
	}
	if len(updated) > 0 {
		view.Sections = append(view.Sections, emailSection{
			Title: "Updated Materials",
			Color: "#3b82f6",
			Lines: append(updated, "Please download the latest PDF before submitting."),
		})
	}
	if len(awaiting) > 0 {
		view.Sections = append(view.Sections, emailSection{Title: "Submitted - Awaiting Grade", Color: "#10b981", Lines: awaiting})
	}

	meta := map[string]interface{}{"user_id": ev.UserID, "items": len(ev.Items)}
	return d.sendEmail(ctx, model.NotificationReminder, nil, meta,
		[]mailer.Recipient{{Name: ev.UserName, Email: ev.UserEmail}}, "You have pending work", view)
}

// RemindersSent 每周提醒汇总，只发 Slack
func (d *Deliverer) RemindersSent(ctx context.Context, ev service.RemindersSentEvent) error {
	text := fmt.Sprintf("Weekly reminders sent to %d users with pending evaluations.", ev.Count)
	return d.postSlack(ctx, model.NotificationRemindersSent, nil,
		map[string]interface{}{"count": ev.Count}, slack.NewMessage(text))
}

// ────────────────────── 内部方法 ──────────────────────

func (d *Deliverer) admins() []mailer.Recipient {
	out := make([]mailer.Recipient, 0, len(d.adminEmails))
	for _, e := range d.adminEmails {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, mailer.Recipient{Email: e})
		}
	}
	return out
}

// sendEmail 渲染并发送，成功后每个收件人写一行日志
func (d *Deliverer) sendEmail(ctx context.Context, notifType string, moduleID *string, meta map[string]interface{},
	to []mailer.Recipient, subject string, view emailView) error {
	if len(to) == 0 {
		return nil
	}
	text, html, err := view.render()
	if err != nil {
		return fmt.Errorf("渲染邮件失败: %w", err)
	}
	if err := d.mail.Send(ctx, mailer.Message{To: to, Subject: subject, Text: text, HTML: html}); err != nil {
		d.logger.Warn("邮件发送失败", zap.String("type", notifType), zap.String("subject", subject), zap.Error(err))
		return err
	}
	for _, r := range to {
		d.record(ctx, notifType, model.ChannelEmail, r.Email, moduleID, meta)
	}
	return nil
}

// postSlack 未配置 webhook 时静默跳过
func (d *Deliverer) postSlack(ctx context.Context, notifType string, moduleID *string, meta map[string]interface{}, msg *goslack.WebhookMessage) error {
	if d.chat == nil || !d.chat.Enabled() {
		return nil
	}
	if err := d.chat.Post(ctx, msg); err != nil {
		d.logger.Warn("Slack 发送失败", zap.String("type", notifType), zap.Error(err))
		return err
	}
	d.record(ctx, notifType, model.ChannelSlack, slackRecipient, moduleID, meta)
	return nil
}

// record 写日志失败不影响发送结果
func (d *Deliverer) record(ctx context.Context, notifType, channel, recipient string, moduleID *string, meta map[string]interface{}) {
	if d.log == nil {
		return
	}
	var raw datatypes.JSON
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			raw = b
		}
	}
	n := &model.Notification{
		RecipientEmail:   recipient,
		NotificationType: notifType,
		Channel:          channel,
		ModuleID:         moduleID,
		Metadata:         raw,
		SentAt:           d.now(),
	}
	if err := d.log.Create(ctx, n); err != nil {
		d.logger.Warn("写入通知日志失败", zap.String("type", notifType), zap.Error(err))
	}
}

func slackRatings(resp map[string]int) string {
	if len(resp) == 0 {
		return ""
	}
	parts := make([]string, 0, len(feedbackLabels))
	for _, f := range feedbackLabels {
		v := "N/A"
		if n, ok := resp[f.Key]; ok {
			v = fmt.Sprintf("%d", n)
		}
		parts = append(parts, fmt.Sprintf("*%s:* %s/10", f.Label, v))
	}
	return strings.Join(parts, "  |  ")
}

func submissionTypeLabel(t string) string {
	switch t {
	case model.SubmissionInClass:
		return "In-Class Exercise"
	case model.SubmissionHomework:
		return "Homework"
	case dto.PendingKindPDFUpdate:
		return "Updated Materials"
	default:
		return t
	}
}

// hasRepo 评审反馈写入的是占位链接
func hasRepo(link string) bool {
	return link != "" && link != model.FeedbackPlaceholderLink
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
